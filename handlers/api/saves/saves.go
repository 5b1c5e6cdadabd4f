// Package saves serves the saves collection: rows keyed by the caller's
// subject and a slot name. Payloads pass through untouched; clients own the
// codec.
package saves

import (
	"encoding/json"
	"errors"
	"net/http"

	"savesync/core"
	"savesync/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// MaxBodyBytes caps an uploaded row.
const MaxBodyBytes = 16 << 20

func HandleListSaves(store core.SaveRowStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.ClaimsFrom(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		rows, err := store.List(r.Context(), claims.Subject)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":  err,
				"userID": claims.Subject,
			}).Error("Failed to list saves")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to list saves"})
			return
		}

		if rows == nil {
			rows = []*core.SaveRow{}
		}
		for _, row := range rows {
			row.Data = nil
			row.Checksum = ""
		}

		render.JSON(w, r, rows)
	}
}

func HandleGetSave(store core.SaveRowStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.ClaimsFrom(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		slot := chi.URLParam(r, "slot")
		if err := core.ValidateSlot(slot); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": err.Error()})
			return
		}

		row, err := store.Get(r.Context(), claims.Subject, slot)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, map[string]string{"error": "Save not found"})
				return
			}
			logrus.WithFields(logrus.Fields{
				"error":  err,
				"userID": claims.Subject,
				"slot":   slot,
			}).Error("Failed to get save")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to get save"})
			return
		}

		render.JSON(w, r, row)
	}
}

func HandlePutSave(store core.SaveRowStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.ClaimsFrom(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		slot := chi.URLParam(r, "slot")
		if err := core.ValidateSlot(slot); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": err.Error()})
			return
		}

		var row core.SaveRow
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes)).Decode(&row); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				render.Status(r, http.StatusRequestEntityTooLarge)
				render.JSON(w, r, map[string]string{"error": "Save is too large"})
				return
			}
			logrus.WithFields(logrus.Fields{
				"error": err,
				"slot":  slot,
			}).Warn("Failed to decode save row")
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid save row"})
			return
		}
		if len(row.Data) == 0 {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Save data is required"})
			return
		}

		// The path and the token are authoritative, not the body.
		row.UserID = claims.Subject
		row.SlotName = slot
		if row.VictoryStatus == "" {
			row.VictoryStatus = core.VictoryNone
		}

		if err := store.Upsert(r.Context(), &row); err != nil {
			logrus.WithFields(logrus.Fields{
				"error":  err,
				"userID": claims.Subject,
				"slot":   slot,
			}).Error("Failed to save row")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to save"})
			return
		}

		logrus.WithFields(logrus.Fields{
			"userID":      claims.Subject,
			"slot":        slot,
			"data_length": len(row.Data),
		}).Info("Save stored")
		render.Status(r, http.StatusOK)
		render.JSON(w, r, map[string]string{"status": "ok"})
	}
}

func HandleDeleteSave(store core.SaveRowStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.ClaimsFrom(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		slot := chi.URLParam(r, "slot")
		if err := core.ValidateSlot(slot); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": err.Error()})
			return
		}

		if err := store.Delete(r.Context(), claims.Subject, slot); err != nil {
			logrus.WithFields(logrus.Fields{
				"error":  err,
				"userID": claims.Subject,
				"slot":   slot,
			}).Error("Failed to delete save")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to delete save"})
			return
		}

		render.Status(r, http.StatusOK)
		render.JSON(w, r, map[string]string{"status": "ok"})
	}
}

// Routes mounts the collection. Callers put AuthJWT in front of it.
func Routes(store core.SaveRowStore) func(r chi.Router) {
	return func(r chi.Router) {
		r.Get("/", HandleListSaves(store))
		r.Route("/{slot}", func(r chi.Router) {
			r.Get("/", HandleGetSave(store))
			r.Put("/", HandlePutSave(store))
			r.Delete("/", HandleDeleteSave(store))
		})
	}
}
