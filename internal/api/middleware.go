package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerAuth guards the agent ingestion endpoint with a shared key.
// A mismatch rejects the request before any identity resolution or
// reconciliation runs. An empty configured key disables the endpoint
// entirely rather than leaving it open.
func BearerAuth(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				writeError(w, http.StatusForbidden, "agent ingestion is not configured")
				return
			}

			authHeader := r.Header.Get("Authorization")
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" ||
				subtle.ConstantTimeCompare([]byte(parts[1]), []byte(key)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid bearer token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
