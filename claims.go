package authclient

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenExpiry reads the exp claim of a JWT access credential without
// verifying its signature. The client never holds the signing key, so the
// value is only a scheduling hint; the server stays the authority.
func AccessTokenExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// AccessTokenExpiresWithin reports whether token is a JWT whose exp falls
// within skew of now. Opaque tokens report false.
func AccessTokenExpiresWithin(token string, skew time.Duration, now time.Time) bool {
	exp, ok := AccessTokenExpiry(token)
	if !ok {
		return false
	}
	return !now.Add(skew).Before(exp)
}
