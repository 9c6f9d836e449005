// ABOUTME: Advisory expiry probe for Bambu Cloud bearer tokens.
// ABOUTME: Tokens stay opaque to the gate; this only feeds status output.

package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenExpiry decodes the token as an unverified JWT and returns its exp
// claim. Bambu Cloud tokens happen to be JWTs; anything that does not parse
// or carries no exp reports false. No signature verification is performed
// and no caller uses this for auth decisions.
func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
