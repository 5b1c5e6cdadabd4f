// Package remote adapts a row backend into a core.RemoteStore. The adapter
// owns compression, checksums and payload normalization so that backends only
// move rows.
package remote

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"savesync/codec"
	"savesync/core"

	"github.com/sirupsen/logrus"
)

type Store struct {
	rows core.SaveRowStore
}

// NewStore wraps rows as a RemoteStore.
func NewStore(rows core.SaveRowStore) *Store {
	return &Store{rows: rows}
}

func (s *Store) Save(ctx context.Context, userID, slot string, data *core.SaveData, meta core.SaveMetadata) error {
	if userID == "" {
		return core.ErrUnauthenticated
	}
	if err := core.ValidateSlot(slot); err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{"user_id": userID, "slot": slot})

	payload, err := codec.Encode(data)
	if err != nil {
		return err
	}
	checksum, err := codec.Checksum(data)
	if err != nil {
		return err
	}

	row := &core.SaveRow{
		UserID:        userID,
		SlotName:      slot,
		SaveName:      meta.SaveName,
		CampaignName:  meta.CampaignName,
		TurnNumber:    meta.TurnNumber,
		Playtime:      meta.Playtime,
		Version:       meta.Version,
		VictoryStatus: meta.VictoryStatus,
		Thumbnail:     meta.Thumbnail,
		Data:          payload,
		Checksum:      checksum,
	}
	if err := s.rows.Upsert(ctx, row); err != nil {
		log.WithError(err).Warn("Remote save failed")
		return classify("save", err)
	}

	log.WithField("data_length", len(payload)).Info("Remote save stored")
	return nil
}

func (s *Store) Load(ctx context.Context, userID, slot string) (*core.SaveData, error) {
	if userID == "" {
		return nil, core.ErrUnauthenticated
	}
	fields := logrus.Fields{"user_id": userID, "slot": slot}

	row, err := s.rows.Get(ctx, userID, slot)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			logrus.WithFields(fields).WithError(err).Warn("Remote load failed")
		}
		return nil, classify("load", err)
	}

	payload, err := codec.Normalize(row.Data)
	if err != nil {
		return nil, fmt.Errorf("remote save %s has unusable payload: %w", slot, err)
	}
	data, err := codec.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("remote save %s could not be decoded: %w", slot, err)
	}

	codec.Verify(data, row.Checksum, fields)
	return data, nil
}

func (s *Store) List(ctx context.Context, userID string) ([]*core.SaveMetadata, error) {
	if userID == "" {
		return nil, core.ErrUnauthenticated
	}
	rows, err := s.rows.List(ctx, userID)
	if err != nil {
		logrus.WithField("user_id", userID).WithError(err).Warn("Remote list failed")
		return nil, classify("list", err)
	}

	saves := make([]*core.SaveMetadata, 0, len(rows))
	for _, row := range rows {
		saves = append(saves, row.Metadata())
	}
	sort.SliceStable(saves, func(i, j int) bool {
		return saves[i].UpdatedAt.After(saves[j].UpdatedAt)
	})
	return saves, nil
}

func (s *Store) Delete(ctx context.Context, userID, slot string) error {
	if userID == "" {
		return core.ErrUnauthenticated
	}
	if err := s.rows.Delete(ctx, userID, slot); err != nil {
		logrus.WithFields(logrus.Fields{"user_id": userID, "slot": slot}).WithError(err).Warn("Remote delete failed")
		return classify("delete", err)
	}
	return nil
}

// classify maps backend failures onto core.ErrRemoteUnavailable, keeping the
// sentinels callers branch on.
func classify(op string, err error) error {
	for _, known := range []error{core.ErrRemoteUnavailable, core.ErrUnauthenticated, core.ErrNotFound, core.ErrInvalidSlot, core.ErrQuotaExceeded} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %v", core.ErrRemoteUnavailable, op, err)
}
