package auth

import (
	"fmt"
	"sync"
	"time"

	"savesync/core"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// TokenAuth is the client-side authenticator. It holds the token handed out
// by the save server and reads its claims without verifying the signature;
// the server is the one that verifies.
type TokenAuth struct {
	mu     sync.RWMutex
	raw    string
	claims *Claims
	now    func() time.Time
}

// NewTokenAuth returns an authenticator holding token. An empty token gives
// a signed-out authenticator.
func NewTokenAuth(token string) (*TokenAuth, error) {
	a := &TokenAuth{now: time.Now}
	if token == "" {
		return a, nil
	}
	if err := a.SetToken(token); err != nil {
		return nil, err
	}
	return a, nil
}

// SetToken replaces the held token.
func (a *TokenAuth) SetToken(token string) error {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}
	if claims.Subject == "" {
		return fmt.Errorf("token has no subject")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.raw = token
	a.claims = claims
	return nil
}

// Clear signs out.
func (a *TokenAuth) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.raw = ""
	a.claims = nil
}

func (a *TokenAuth) valid() (*Claims, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.validLocked()
}

func (a *TokenAuth) validLocked() (*Claims, bool) {
	if a.claims == nil {
		return nil, false
	}
	if exp := a.claims.ExpiresAt; exp != nil && !a.now().Before(exp.Time) {
		return nil, false
	}
	return a.claims, true
}

func (a *TokenAuth) IsAuthenticated() bool {
	_, ok := a.valid()
	return ok
}

func (a *TokenAuth) UserID() string {
	claims, ok := a.valid()
	if !ok {
		return ""
	}
	return claims.Subject
}

// User returns nil when signed out or expired.
func (a *TokenAuth) User() *core.User {
	claims, ok := a.valid()
	if !ok {
		return nil
	}
	return claims.User()
}

// Token implements oauth2.TokenSource.
func (a *TokenAuth) Token() (*oauth2.Token, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	claims, ok := a.validLocked()
	if !ok {
		return nil, core.ErrUnauthenticated
	}

	token := &oauth2.Token{AccessToken: a.raw, TokenType: "Bearer"}
	if claims.ExpiresAt != nil {
		token.Expiry = claims.ExpiresAt.Time
	}
	return token, nil
}

// TokenSource exposes the held token to oauth2 HTTP clients.
func (a *TokenAuth) TokenSource() oauth2.TokenSource {
	return a
}

// StaticAuth is a fixed authenticator.
type StaticAuth struct {
	Authenticated bool
	User          string
}

func (s *StaticAuth) IsAuthenticated() bool { return s.Authenticated }

func (s *StaticAuth) UserID() string { return s.User }
