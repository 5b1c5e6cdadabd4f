package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"savesync/auth"
	"savesync/core"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const stateCookie = "oauth_state"

// OIDCClaims represents the claims from OIDC token
type OIDCClaims struct {
	Email             string `json:"email"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	Picture           string `json:"picture"`
	Sub               string `json:"sub"`
}

// Handlers serves the login flow. Whichever provider is configured signs the
// user in and the issuer turns the result into a save-server token.
type Handlers struct {
	issuer *auth.Issuer

	login    http.HandlerFunc
	callback http.HandlerFunc

	githubConfig *oauth2.Config
	githubAPI    string

	oidcConfig *oauth2.Config
	verifier   *oidc.IDTokenVerifier

	devTokens bool
}

// New reads provider settings from the environment. OIDC wins over GitHub
// when both are configured.
func New(ctx context.Context, issuer *auth.Issuer) *Handlers {
	h := &Handlers{
		issuer:    issuer,
		githubAPI: "https://api.github.com/user",
		devTokens: os.Getenv("AUTH_DEV_TOKENS") == "true",
	}

	oidcConfigured := os.Getenv("OIDC_ISSUER_URL") != "" && os.Getenv("OIDC_CLIENT_ID") != ""
	githubConfigured := os.Getenv("GITHUB_CLIENT_ID") != "" && os.Getenv("GITHUB_CLIENT_SECRET") != ""

	switch {
	case oidcConfigured && h.initOIDC(ctx):
		logrus.Info("Initializing OIDC authentication provider.")
		h.login = h.HandleOIDCLogin
		h.callback = h.HandleOIDCCallback
	case githubConfigured:
		logrus.Info("Initializing GitHub authentication provider.")
		h.initGitHub()
		h.login = h.HandleGitHubLogin
		h.callback = h.HandleGitHubCallback
	default:
		logrus.Warn("No authentication provider configured.")
	}

	if !issuer.Configured() {
		logrus.Warn("JWT_SECRET is not set. Authentication will not work.")
	}
	if h.devTokens {
		logrus.Warn("Development token issuance is enabled; do not run this in production.")
	}
	return h
}

func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if h.login == nil {
		http.Error(w, "Authentication not configured", http.StatusInternalServerError)
		return
	}
	h.login(w, r)
}

func (h *Handlers) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if h.callback == nil {
		http.Error(w, "Authentication not configured", http.StatusInternalServerError)
		return
	}
	h.callback(w, r)
}

// HandleDevToken issues a token for any posted subject. It only answers when
// AUTH_DEV_TOKENS=true.
func (h *Handlers) HandleDevToken(w http.ResponseWriter, r *http.Request) {
	if !h.devTokens {
		http.NotFound(w, r)
		return
	}

	var user core.User
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&user); err != nil || user.Subject == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, map[string]string{"error": "A subject is required"})
		return
	}

	token, err := h.issuer.Issue(&user)
	if err != nil {
		logrus.WithError(err).Error("failed to create JWT")
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, map[string]string{"error": "Failed to issue token"})
		return
	}

	logrus.WithField("subject", user.Subject).Info("Issued development token")
	render.JSON(w, r, map[string]string{"token": token})
}

func (h *Handlers) initGitHub() {
	h.githubConfig = &oauth2.Config{
		ClientID:     os.Getenv("GITHUB_CLIENT_ID"),
		ClientSecret: os.Getenv("GITHUB_CLIENT_SECRET"),
		RedirectURL:  os.Getenv("GITHUB_REDIRECT_URL"),
		Scopes:       []string{"read:user", "user:email"},
		Endpoint:     github.Endpoint,
	}
}

func (h *Handlers) initOIDC(ctx context.Context) bool {
	providerURL := os.Getenv("OIDC_ISSUER_URL")
	clientID := os.Getenv("OIDC_CLIENT_ID")
	clientSecret := os.Getenv("OIDC_CLIENT_SECRET")

	if clientSecret == "" {
		logrus.Warn("OIDC_CLIENT_SECRET is not set. OIDC authentication routes will not work.")
		return false
	}

	provider, err := oidc.NewProvider(ctx, providerURL)
	if err != nil {
		logrus.Errorf("Failed to create OIDC provider: %s", err.Error())
		return false
	}

	h.oidcConfig = &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  os.Getenv("OIDC_REDIRECT_URL"),
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		Endpoint:     provider.Endpoint(),
	}
	h.verifier = provider.Verifier(&oidc.Config{ClientID: clientID})
	logrus.Info("OIDC provider initialized")
	return true
}

func setStateCookie(w http.ResponseWriter, r *http.Request) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	state := hex.EncodeToString(b)
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		Expires:  time.Now().Add(10 * time.Minute),
		HttpOnly: true,
		Secure:   r.Header.Get("X-Forwarded-Proto") == "https",
		SameSite: http.SameSiteLaxMode,
	})
	return state, nil
}

func checkState(r *http.Request) bool {
	cookie, err := r.Cookie(stateCookie)
	return err == nil && cookie.Value != "" && cookie.Value == r.FormValue("state")
}

func (h *Handlers) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	state, err := setStateCookie(w, r)
	if err != nil {
		http.Error(w, "Failed to generate state for login", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, h.githubConfig.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

func (h *Handlers) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	if !checkState(r) {
		logrus.Warn("oauth state mismatch")
		http.Error(w, "Invalid login state", http.StatusBadRequest)
		return
	}

	token, err := h.githubConfig.Exchange(r.Context(), r.FormValue("code"))
	if err != nil {
		logrus.Errorf("failed to exchange token: %s", err.Error())
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
		return
	}

	resp, err := h.githubConfig.Client(r.Context(), token).Get(h.githubAPI)
	if err != nil {
		logrus.Errorf("failed to get user from github: %s", err.Error())
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
		return
	}
	defer resp.Body.Close()

	var githubUser struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		AvatarURL string `json:"avatar_url"`
		Name      string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&githubUser); err != nil {
		logrus.Errorf("failed to unmarshal github user: %s", err.Error())
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
		return
	}

	h.finish(w, r, &core.User{
		Subject:   fmt.Sprintf("github:%d", githubUser.ID),
		Login:     githubUser.Login,
		AvatarURL: githubUser.AvatarURL,
		Name:      githubUser.Name,
	})
}

func (h *Handlers) HandleOIDCLogin(w http.ResponseWriter, r *http.Request) {
	state, err := setStateCookie(w, r)
	if err != nil {
		http.Error(w, "Failed to generate state for OIDC login", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, h.oidcConfig.AuthCodeURL(state, oauth2.AccessTypeOffline), http.StatusTemporaryRedirect)
}

func (h *Handlers) HandleOIDCCallback(w http.ResponseWriter, r *http.Request) {
	if !checkState(r) {
		logrus.Warn("oidc state mismatch")
		http.Error(w, "Invalid login state", http.StatusBadRequest)
		return
	}

	code := r.FormValue("code")
	if code == "" {
		logrus.Error("no code in callback")
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
		return
	}

	token, err := h.oidcConfig.Exchange(r.Context(), code)
	if err != nil {
		logrus.Errorf("failed to exchange token: %s", err.Error())
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
		return
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		logrus.Error("no id_token in token response")
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
		return
	}

	idToken, err := h.verifier.Verify(r.Context(), rawIDToken)
	if err != nil {
		logrus.Errorf("failed to verify ID token: %s", err.Error())
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
		return
	}

	var claims OIDCClaims
	if err := idToken.Claims(&claims); err != nil {
		logrus.Errorf("failed to extract claims from ID token: %s", err.Error())
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
		return
	}

	user := &core.User{
		Subject:   claims.Sub,
		Login:     claims.PreferredUsername,
		Email:     claims.Email,
		AvatarURL: claims.Picture,
		Name:      claims.Name,
	}
	if user.Login == "" && user.Email != "" {
		user.Login = user.Email
	}

	h.finish(w, r, user)
}

// finish hands the game client its token as JSON; there is no browser
// frontend to redirect into.
func (h *Handlers) finish(w http.ResponseWriter, r *http.Request, user *core.User) {
	jwtToken, err := h.issuer.Issue(user)
	if err != nil {
		logrus.Errorf("failed to create JWT: %s", err.Error())
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, map[string]string{"error": "Failed to issue token"})
		return
	}

	logrus.WithFields(logrus.Fields{"subject": user.Subject, "login": user.Login}).Info("User signed in")
	render.JSON(w, r, map[string]any{"token": jwtToken, "user": user})
}
