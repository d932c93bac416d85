package auth

import (
	"net/http"
	"strings"
)

// AccessTokenCookie carries the JWT for browser clients.
const AccessTokenCookie = "access_token"

// ExtractAccessToken returns the caller's JWT from the access_token cookie or,
// failing that, a Bearer Authorization header. Empty when neither is present.
func ExtractAccessToken(r *http.Request) string {
	if cookie, err := r.Cookie(AccessTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}

	return ""
}
