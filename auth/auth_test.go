package auth

import (
	"testing"
	"time"

	"savesync/core"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUser = &core.User{Subject: "github:42", Login: "octo", Name: "Octo Cat"}

func TestIssueAndParse(t *testing.T) {
	issuer := NewIssuer([]byte("secret"), time.Hour)

	token, err := issuer.Issue(testUser)
	require.NoError(t, err)

	claims, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "github:42", claims.Subject)
	assert.Equal(t, "octo", claims.Login)
	assert.Equal(t, testUser, claims.User())
}

func TestParseRejectsForeignSecret(t *testing.T) {
	token, err := NewIssuer([]byte("one"), time.Hour).Issue(testUser)
	require.NoError(t, err)

	_, err = NewIssuer([]byte("two"), time.Hour).Parse(token)
	assert.Error(t, err)
}

func TestParseRejectsExpired(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewIssuer([]byte("secret"), time.Hour).Parse(signed)
	assert.Error(t, err)
}

func TestIssuerWithoutSecret(t *testing.T) {
	issuer := NewIssuer(nil, 0)
	assert.False(t, issuer.Configured())

	_, err := issuer.Issue(testUser)
	assert.ErrorIs(t, err, ErrNoSecret)
	_, err = issuer.Parse("anything")
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestIssueRequiresSubject(t *testing.T) {
	_, err := NewIssuer([]byte("secret"), time.Hour).Issue(&core.User{Login: "nobody"})
	assert.Error(t, err)
}

func TestTokenAuth(t *testing.T) {
	token, err := NewIssuer([]byte("server-side"), time.Hour).Issue(testUser)
	require.NoError(t, err)

	a, err := NewTokenAuth(token)
	require.NoError(t, err)
	assert.True(t, a.IsAuthenticated())
	assert.Equal(t, "github:42", a.UserID())
	assert.Equal(t, "octo", a.User().Login)

	oauthToken, err := a.TokenSource().Token()
	require.NoError(t, err)
	assert.Equal(t, token, oauthToken.AccessToken)
	assert.Equal(t, "Bearer", oauthToken.TokenType)
	assert.False(t, oauthToken.Expiry.IsZero())

	a.Clear()
	assert.False(t, a.IsAuthenticated())
	assert.Empty(t, a.UserID())
	assert.Nil(t, a.User())
	_, err = a.Token()
	assert.ErrorIs(t, err, core.ErrUnauthenticated)
}

func TestTokenAuthExpiry(t *testing.T) {
	token, err := NewIssuer([]byte("secret"), time.Hour).Issue(testUser)
	require.NoError(t, err)

	a, err := NewTokenAuth(token)
	require.NoError(t, err)
	a.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	assert.False(t, a.IsAuthenticated())
	assert.Empty(t, a.UserID())
}

func TestTokenAuthRejectsGarbage(t *testing.T) {
	_, err := NewTokenAuth("not-a-jwt")
	assert.Error(t, err)

	a, err := NewTokenAuth("")
	require.NoError(t, err)
	assert.False(t, a.IsAuthenticated())
}

func TestStaticAuth(t *testing.T) {
	a := &StaticAuth{Authenticated: true, User: "user1"}
	assert.True(t, a.IsAuthenticated())
	assert.Equal(t, "user1", a.UserID())
}
