package middleware

import (
	"net/http"

	"github.com/gatewarden/gatewarden"
)

// RequirePermission rejects authenticated requests whose result lacks
// all of the named permissions. It must run after Guard or
// RequireAPIKey; an anonymous or unattached result is rejected outright.
func RequirePermission(names ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := gatewarden.AuthResultFromContext(r.Context())
			if result == nil || result.Anonymous {
				writeError(w, gatewarden.ErrTokenMissing)
				return
			}

			if !result.Permissions.HasAll(names...) {
				writeError(w, gatewarden.ErrPermissionDenied)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
