package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRealIP(t *testing.T) {
	cases := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "remote addr only",
			remoteAddr: "192.0.2.1:54321",
			want:       "192.0.2.1",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "192.0.2.1",
			want:       "192.0.2.1",
		},
		{
			name:       "cloudflare header wins",
			remoteAddr: "192.0.2.1:54321",
			headers: map[string]string{
				"CF-Connecting-IP": "203.0.113.9",
				"X-Forwarded-For":  "198.51.100.7",
			},
			want: "203.0.113.9",
		},
		{
			name:       "forwarded chain takes first hop",
			remoteAddr: "192.0.2.1:54321",
			headers: map[string]string{
				"X-Forwarded-For": "198.51.100.7, 10.0.0.2, 10.0.0.3",
			},
			want: "198.51.100.7",
		},
		{
			name:       "forwarded single value trimmed",
			remoteAddr: "192.0.2.1:54321",
			headers: map[string]string{
				"X-Forwarded-For": " 198.51.100.7 ",
			},
			want: "198.51.100.7",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			require.Equal(t, tc.want, RealIP(req))
		})
	}
}

func TestClientContextFeedsSessionMetadata(t *testing.T) {
	engine, accounts := newTestEngine(t, nil)
	seedAndLogin(t, engine, accounts)

	login := ClientContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := engine.Login(r.Context(), "alice@example.com", "correct-horse"); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
		}
	}))

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.Header.Set("CF-Connecting-IP", "203.0.113.42")
	req.Header.Set("User-Agent", "audit-check/1.0")
	rec := httptest.NewRecorder()
	login.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	sessions, err := engine.Sessions(req.Context(), "u1")
	require.NoError(t, err)

	var found bool
	for _, session := range sessions {
		if session.IP == "203.0.113.42" && session.Device.UserAgent == "audit-check/1.0" {
			found = true
		}
	}
	require.True(t, found, "no session recorded the handler's client metadata")
}
