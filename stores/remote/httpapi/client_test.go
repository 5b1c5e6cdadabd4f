package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"savesync/auth"
	"savesync/codec"
	"savesync/core"
	"savesync/handlers/api/saves"
	"savesync/middleware"
	"savesync/stores/remote"
	"savesync/stores/remote/memory"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newServer(t *testing.T) (*httptest.Server, *auth.Issuer) {
	issuer := auth.NewIssuer([]byte("secret"), time.Hour)
	r := chi.NewRouter()
	r.Route("/api/v1/saves", func(r chi.Router) {
		r.Use(middleware.AuthJWT(issuer))
		saves.Routes(memory.NewStore())(r)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, issuer
}

func signedIn(t *testing.T, issuer *auth.Issuer, subject string) *auth.TokenAuth {
	token, err := issuer.Issue(&core.User{Subject: subject})
	require.NoError(t, err)
	a, err := auth.NewTokenAuth(token)
	require.NoError(t, err)
	return a
}

func sampleSave(turn int) *core.SaveData {
	return &core.SaveData{
		SaveName:      "Autosave",
		CampaignName:  "Campaign",
		TurnNumber:    turn,
		Playtime:      int64(turn) * 60,
		Version:       "1.0.0",
		VictoryStatus: core.VictoryNone,
		SavedAt:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		State:         json.RawMessage(`{"units":[1,2,3]}`),
	}
}

func TestRoundTripThroughServer(t *testing.T) {
	srv, issuer := newServer(t)
	a := signedIn(t, issuer, "user1")
	store := remote.NewStore(NewClient(srv.URL, a.TokenSource()))
	ctx := context.Background()

	data := sampleSave(5)
	require.NoError(t, store.Save(ctx, "user1", "slot1", data, core.MetadataFrom(data, "slot1")))

	got, err := store.Load(ctx, "user1", "slot1")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	list, err := store.List(ctx, "user1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "slot1", list[0].SlotName)
	assert.Equal(t, 5, list[0].TurnNumber)
	assert.Equal(t, core.SourceCloud, list[0].Source)

	require.NoError(t, store.Delete(ctx, "user1", "slot1"))
	_, err = store.Load(ctx, "user1", "slot1")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSignedOut(t *testing.T) {
	srv, _ := newServer(t)
	a, err := auth.NewTokenAuth("")
	require.NoError(t, err)
	client := NewClient(srv.URL, a.TokenSource())

	_, err = client.List(context.Background(), "user1")
	assert.ErrorIs(t, err, core.ErrUnauthenticated)
}

func TestForeignToken(t *testing.T) {
	srv, _ := newServer(t)
	other := auth.NewIssuer([]byte("other"), time.Hour)
	client := NewClient(srv.URL, signedIn(t, other, "user1").TokenSource())

	_, err := client.Get(context.Background(), "user1", "slot1")
	assert.ErrorIs(t, err, core.ErrUnauthenticated)
}

func TestServerErrorsAreRemoteUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	_, issuer := newServer(t)
	client := NewClient(srv.URL, signedIn(t, issuer, "user1").TokenSource())

	err := client.Upsert(context.Background(), &core.SaveRow{UserID: "user1", SlotName: "slot1", Data: []byte("x")})
	assert.ErrorIs(t, err, core.ErrRemoteUnavailable)
}

func TestUnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	_, issuer := newServer(t)
	client := NewClient(url, signedIn(t, issuer, "user1").TokenSource())

	err := client.Delete(context.Background(), "user1", "slot1")
	assert.ErrorIs(t, err, core.ErrRemoteUnavailable)
}

// A server that hands the payload back as a JSON array of byte values still
// decodes through remote.Store.
func TestNumericArrayPayload(t *testing.T) {
	data := sampleSave(9)
	payload, err := codec.Encode(data)
	require.NoError(t, err)

	nums := make([]string, len(payload))
	for i, b := range payload {
		nums[i] = strconv.Itoa(int(b))
	}
	body := `{"id":"1","slotName":"slot1","turnNumber":9,"data":[` + strings.Join(nums, ",") + `]}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	defer srv.Close()
	_, issuer := newServer(t)
	store := remote.NewStore(NewClient(srv.URL, signedIn(t, issuer, "user1").TokenSource()))

	got, err := store.Load(context.Background(), "user1", "slot1")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestRateLimitHonorsContext(t *testing.T) {
	srv, issuer := newServer(t)
	client := NewClient(srv.URL, signedIn(t, issuer, "user1").TokenSource(), WithRateLimit(rate.Every(time.Hour), 1))

	_, err := client.List(context.Background(), "user1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = client.List(ctx, "user1")
	assert.ErrorIs(t, err, core.ErrRemoteUnavailable)
}
