package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// adminToken extracts the caller's credential from either an
// "Authorization: Bearer" header or an X-API-Key header.
func adminToken(r *http.Request) string {
	if auth, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(auth)
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// AdminAuth guards the ingestion and reporting routes with a shared token.
// Rejected requests are logged with their route but never with the
// credential they carried.
func AdminAuth(token string, logger *slog.Logger) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := adminToken(r)
			if got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				logger.Warn("api: rejected admin request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing API token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
