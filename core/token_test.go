package core

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mintToken(t *testing.T, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return token
}

func TestDecodeAccessToken(t *testing.T) {
	now := time.Now()
	token := mintToken(t, jwt.RegisteredClaims{
		Subject:   "user@example.com",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})

	claims, err := DecodeAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", claims.Subject)

	remaining := claims.ExpiresIn(now)
	assert.InDelta(t, time.Hour, remaining, float64(time.Second))
}

func TestDecodeAccessToken_Malformed(t *testing.T) {
	_, err := DecodeAccessToken("not-a-jwt")
	assert.Error(t, err)
}

func TestAccessClaims_ExpiresIn(t *testing.T) {
	now := time.Now()

	t.Run("expired token yields zero", func(t *testing.T) {
		token := mintToken(t, jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
		})
		claims, err := DecodeAccessToken(token)
		require.NoError(t, err)
		assert.Equal(t, time.Duration(0), claims.ExpiresIn(now))
	})

	t.Run("no expiry yields zero", func(t *testing.T) {
		token := mintToken(t, jwt.RegisteredClaims{Subject: "user@example.com"})
		claims, err := DecodeAccessToken(token)
		require.NoError(t, err)
		assert.Equal(t, time.Duration(0), claims.ExpiresIn(now))
	})
}
