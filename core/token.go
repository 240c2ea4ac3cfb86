package core

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims are the registered claims of a server-issued access token.
type AccessClaims struct {
	jwt.RegisteredClaims
}

// DecodeAccessToken extracts the claims of an access token without
// verifying its signature. The server is the sole authority on token
// validity; the client only reads expiry and subject for bookkeeping such
// as persistence TTLs.
func DecodeAccessToken(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("decode access token: %w", err)
	}
	return claims, nil
}

// ExpiresIn returns the remaining lifetime of the token at the given
// instant, or zero when the token carries no expiry.
func (c *AccessClaims) ExpiresIn(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	remaining := c.ExpiresAt.Time.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}
