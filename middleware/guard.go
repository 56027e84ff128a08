package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gatewarden/gatewarden"
)

// Guard authenticates the bearer token on every request. Rejections
// carry the stable machine code in a JSON body so clients can branch
// without string matching.
func Guard(engine *gatewarden.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				writeError(w, gatewarden.ErrEngineNotReady)
				return
			}

			ctx := clientContext(r)

			if err := engine.CheckMaintenance(RealIP(r)); err != nil {
				writeError(w, err)
				return
			}

			token, _ := bearerToken(r.Header.Get("Authorization"))
			result, err := engine.Authenticate(ctx, token)
			if err != nil {
				writeError(w, err)
				return
			}

			ctx = gatewarden.WithAuthResult(ctx, result)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalGuard runs the same pipeline but never rejects: on any
// failure the request proceeds with an anonymous result attached.
func OptionalGuard(engine *gatewarden.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := clientContext(r)

			token, _ := bearerToken(r.Header.Get("Authorization"))
			result := engine.AuthenticateOptional(ctx, token)

			ctx = gatewarden.WithAuthResult(ctx, result)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if retryAfter := gatewarden.RetryAfter(err); retryAfter > 0 {
		secs := int(retryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	w.WriteHeader(statusFor(err))
	_ = json.NewEncoder(w).Encode(errorBody{
		Code:  gatewarden.Code(err),
		Error: err.Error(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, gatewarden.ErrRateLimitExceeded),
		errors.Is(err, gatewarden.ErrTooManyAttempts):
		return http.StatusTooManyRequests
	case errors.Is(err, gatewarden.ErrAccountInactive),
		errors.Is(err, gatewarden.ErrTwoFactorRequired),
		errors.Is(err, gatewarden.ErrPasswordExpired),
		errors.Is(err, gatewarden.ErrIPBlocked),
		errors.Is(err, gatewarden.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, gatewarden.ErrMaintenanceMode),
		errors.Is(err, gatewarden.ErrBackendUnavailable),
		errors.Is(err, gatewarden.ErrEngineNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnauthorized
	}
}
