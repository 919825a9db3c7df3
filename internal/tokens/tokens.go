// Package tokens inspects wallet access tokens. The wallet service issues
// signed JWTs; only the expiry claim is read here and the signature is never
// checked, since verification is the service's job.
package tokens

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExpiryWarningWindow is how close to expiry a token is reported as
// expiring soon.
const ExpiryWarningWindow = 5 * time.Minute

// ExpiresAt returns the exp claim of token. ok is false when the token is not
// a JWT or carries no expiry.
func ExpiresAt(token string) (time.Time, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return time.Time{}, false
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// Remaining returns how long token stays valid after now. ok is false when
// the expiry is unknown.
func Remaining(token string, now time.Time) (time.Duration, bool) {
	exp, ok := ExpiresAt(token)
	if !ok {
		return 0, false
	}
	return exp.Sub(now), true
}

// Expired reports whether token has a known expiry at or before now.
func Expired(token string, now time.Time) bool {
	left, ok := Remaining(token, now)
	return ok && left <= 0
}

// ExpiringSoon reports whether token expires within window of now. Tokens
// without an expiry never expire soon.
func ExpiringSoon(token string, now time.Time, window time.Duration) bool {
	left, ok := Remaining(token, now)
	return ok && left <= window
}
