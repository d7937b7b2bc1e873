package client

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenExpired is returned instead of sending a request whose bearer
// token has already expired.
var ErrTokenExpired = errors.New("auth token expired")

// expiryMargin treats tokens this close to expiry as expired.
const expiryMargin = 5 * time.Second

// TokenExpiry reads the exp claim of a JWT without verifying it.
// Opaque tokens and JWTs without exp report false.
func TokenExpiry(token string) (time.Time, bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// checkToken fails fast when the configured token is a JWT past its expiry.
// Verification is left to the server.
func (c *Client) checkToken() error {
	if c.authToken == "" {
		return nil
	}
	exp, ok := TokenExpiry(c.authToken)
	if ok && time.Now().Add(expiryMargin).After(exp) {
		return ErrTokenExpired
	}
	return nil
}
