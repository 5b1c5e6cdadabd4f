// Package auth issues and reads the bearer tokens that scope remote saves to
// a user.
package auth

import (
	"errors"
	"fmt"
	"time"

	"savesync/core"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is how long issued tokens stay valid.
const DefaultTTL = 7 * 24 * time.Hour

var ErrNoSecret = errors.New("jwt secret is not set")

// Claims represents the custom claims for the JWT.
type Claims struct {
	jwt.RegisteredClaims
	Login     string `json:"login"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatarUrl"`
	Name      string `json:"name"`
}

// User returns the identity carried by the claims.
func (c *Claims) User() *core.User {
	return &core.User{
		Subject:   c.Subject,
		Login:     c.Login,
		Email:     c.Email,
		AvatarURL: c.AvatarURL,
		Name:      c.Name,
	}
}

// Issuer signs and verifies HS256 tokens with a shared secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{secret: secret, ttl: ttl}
}

// Configured reports whether the issuer has a secret to sign with.
func (i *Issuer) Configured() bool {
	return len(i.secret) > 0
}

func (i *Issuer) Issue(user *core.User) (string, error) {
	if !i.Configured() {
		return "", ErrNoSecret
	}
	if user == nil || user.Subject == "" {
		return "", fmt.Errorf("cannot issue a token without a subject")
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Login:     user.Login,
		Email:     user.Email,
		AvatarURL: user.AvatarURL,
		Name:      user.Name,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

func (i *Issuer) Parse(tokenString string) (*Claims, error) {
	if !i.Configured() {
		return nil, ErrNoSecret
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.Subject != "" {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}
