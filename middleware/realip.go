package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/gatewarden/gatewarden"
)

// RealIP extracts the client's real IP address, preferring Cloudflare's
// CF-Connecting-IP header, then X-Forwarded-For, and falling back to
// RemoteAddr.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// First IP in the chain is the original client
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// clientContext attaches the caller's IP and user agent so Engine calls
// made during this request can read them.
func clientContext(r *http.Request) context.Context {
	ctx := gatewarden.WithClientIP(r.Context(), RealIP(r))
	return gatewarden.WithUserAgent(ctx, r.UserAgent())
}

// ClientContext attaches client IP and user agent for downstream
// handlers that call the Engine directly (login endpoints and the like).
func ClientContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(clientContext(r)))
	})
}
