package web

import (
	"net/http"

	"simgate/internal/auth"
)

// requireAuth gates a control API handler behind the bearer-token registry.
// A missing token is 401, a wrong one 403.
func (s *Server) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.ExtractToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if !s.deps.Tokens.Contains(token) {
			writeError(w, http.StatusForbidden, "invalid token")
			return
		}
		next(w, r)
	})
}
