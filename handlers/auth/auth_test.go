package auth

import (
	"testing"
	"time"

	"codocs/core"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	SetJWTSecret([]byte("test-secret"))

	user := &core.User{
		Subject:   "discord:12345",
		Login:     "alice",
		Email:     "alice@example.com",
		AvatarURL: "https://cdn.example.com/a.png",
		Name:      "Alice",
	}

	token, err := CreateJWT(user)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ParseJWT(token)
	require.NoError(t, err)
	require.Equal(t, "discord:12345", claims.Subject)
	require.Equal(t, "alice", claims.Login)
	require.Equal(t, "alice@example.com", claims.Email)
	require.Equal(t, "Alice", claims.Name)
}

func TestParseJWTRejectsBadSignature(t *testing.T) {
	SetJWTSecret([]byte("test-secret"))

	token, err := CreateJWT(&core.User{Subject: "u1", Login: "u1"})
	require.NoError(t, err)

	SetJWTSecret([]byte("different-secret"))
	_, err = ParseJWT(token)
	require.Error(t, err)
}

func TestParseJWTRejectsExpired(t *testing.T) {
	SetJWTSecret([]byte("test-secret"))

	claims := AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
		Login: "u1",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = ParseJWT(token)
	require.Error(t, err)
}

func TestParseJWTRejectsGarbage(t *testing.T) {
	SetJWTSecret([]byte("test-secret"))

	_, err := ParseJWT("not-a-token")
	require.Error(t, err)
}
