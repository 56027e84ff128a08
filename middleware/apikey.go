package middleware

import (
	"net/http"

	"github.com/gatewarden/gatewarden"
)

// APIKeyHeader is the request header carrying the key secret.
const APIKeyHeader = "X-Api-Key"

// RequireAPIKey authenticates via the API key side channel. It is
// mutually exclusive with the bearer path: a request carrying both
// headers is authenticated by this guard alone.
func RequireAPIKey(engine *gatewarden.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := clientContext(r)

			if err := engine.CheckMaintenance(RealIP(r)); err != nil {
				writeError(w, err)
				return
			}

			result, err := engine.VerifyAPIKey(ctx, r.Header.Get(APIKeyHeader))
			if err != nil {
				writeError(w, err)
				return
			}

			ctx = gatewarden.WithAuthResult(ctx, result)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
