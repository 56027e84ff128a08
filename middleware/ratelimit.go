package middleware

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gatewarden/gatewarden"
	"github.com/gatewarden/gatewarden/ratelimit"
)

// RateLimit gates requests against the named route class's budget.
// Quota headers are emitted on every response; rejections add a
// Retry-After header and the RATE_LIMIT_EXCEEDED body code. A counter
// backend failure admits the request: quota enforcement is not worth an
// outage, unlike authentication.
func RateLimit(engine *gatewarden.Engine, className string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		class, known := engine.RateLimitClass(className)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !known || !engine.RateLimitEnabled() {
				next.ServeHTTP(w, r)
				return
			}

			ip := RealIP(r)
			if engine.RateLimitWhitelisted(ip) {
				next.ServeHTTP(w, r)
				return
			}

			key := deriveKey(class.KeyBy, r, ip)

			decision, err := engine.RateLimitAllow(r.Context(), class, key)
			if err != nil {
				log.Print("gatewarden: rate limit check failed, admitting")
				next.ServeHTTP(w, r)
				return
			}

			quotaHeaders(w, decision)

			if !decision.Allowed {
				writeError(w, &gatewarden.RetryableError{
					Err:        gatewarden.ErrRateLimitExceeded,
					RetryAfter: decision.RetryAfter,
				})
				return
			}

			if !class.SkipSuccessful && !class.SkipFailed {
				next.ServeHTTP(w, r)
				return
			}

			// Outcome-based refund: the increment above only counts when the
			// response kind is the interesting one for this class.
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			failed := rec.status >= 400
			if (class.SkipSuccessful && !failed) || (class.SkipFailed && failed) {
				if err := engine.Limiter().Refund(r.Context(), class, key); err != nil {
					log.Print("gatewarden: rate limit refund failed")
				}
			}
		})
	}
}

func quotaHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

// deriveKey picks the limiter key per the class policy, falling back to
// the source address when the preferred source is absent (e.g. identity
// keying on an unauthenticated route).
func deriveKey(source ratelimit.KeySource, r *http.Request, ip string) string {
	result := gatewarden.AuthResultFromContext(r.Context())

	switch source {
	case ratelimit.KeyByIdentity:
		if result != nil && result.Identity != nil {
			return "id:" + result.Identity.ID
		}
	case ratelimit.KeyByRole:
		if result != nil && result.Identity != nil && result.Identity.Role != "" {
			return "role:" + result.Identity.Role
		}
	case ratelimit.KeyByAPIKey:
		if result != nil && result.APIKeyID != "" {
			return "key:" + result.APIKeyID
		}
	}
	return "ip:" + ip
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wrote {
		r.status = status
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wrote = true
	return r.ResponseWriter.Write(b)
}
