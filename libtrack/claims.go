package libtrack

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenExpiry extracts the exp claim from an access token without
// verifying its signature. The value is used to schedule proactive
// refreshes and for display; authorization decisions stay with the
// server, which does verify. Returns false for opaque or claimless
// tokens.
func tokenExpiry(token string) (time.Time, bool) {
	var claims jwt.MapClaims

	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}

	return exp.Time, true
}
