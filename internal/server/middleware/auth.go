package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AdminAuth returns middleware guarding the operator endpoints (blacklist
// management) with a static key, accepted either as a Bearer token or in the
// X-API-Key header. The admin surface is never exposed without a key: the
// server leaves the routes unregistered when none is configured, and this
// middleware independently refuses everything in that state.
func AdminAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				writeUnauthorized(w, "admin API disabled")
				return
			}

			token := adminToken(r)
			if token == "" {
				writeUnauthorized(w, "admin credentials required")
				return
			}
			// Constant-time comparison so the key cannot be probed
			// byte-by-byte through response timing.
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				writeUnauthorized(w, "invalid admin credentials")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// adminToken extracts the presented key from Authorization: Bearer or
// X-API-Key.
func adminToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if scheme, token, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// writeUnauthorized sends a 401 with a JSON error body. Shared with the
// request-signature middleware.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
