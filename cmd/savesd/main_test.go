package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"savesync/auth"
	authHandlers "savesync/handlers/auth"
	"savesync/stores/remote/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Setenv("OIDC_ISSUER_URL", "")
	t.Setenv("GITHUB_CLIENT_ID", "")
	t.Setenv("GITHUB_CLIENT_SECRET", "")
	t.Setenv("AUTH_DEV_TOKENS", "true")

	issuer := auth.NewIssuer([]byte("secret"), time.Hour)
	login := authHandlers.New(context.Background(), issuer)
	srv := httptest.NewServer(setupRouter(memory.NewStore(), issuer, login))
	t.Cleanup(srv.Close)
	return srv
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	for _, method := range []string{http.MethodGet, http.MethodHead} {
		req, err := http.NewRequest(method, srv.URL+"/healthz", nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, method)
	}
}

func TestSavesRequireToken(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/saves/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDevTokenOpensSaves(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/auth/token", "application/json", strings.NewReader(`{"subject":"player1","login":"player1"}`))
	require.NoError(t, err)
	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, body.Token)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/saves/", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+body.Token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var listed []json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	assert.Empty(t, listed)
}

func TestLoginWithoutProvider(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/auth/login")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}
