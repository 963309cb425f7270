package auth

import (
	"net/http"
	"strings"
)

// ExtractToken retrieves the bearer credential from a request, preferring the
// Authorization header over the token query parameter.
//
//  1. Authorization: Bearer <token>
//  2. Authorization: <token> (bare value, legacy clients)
//  3. Query: ?token=<token>
func ExtractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimSpace(auth[len("Bearer "):])
		}
		return strings.TrimSpace(auth)
	}
	return r.URL.Query().Get("token")
}
