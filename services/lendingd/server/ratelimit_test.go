package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterPerClient(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 60, Burst: 2})
	handler := limiter.Middleware("test")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Real-IP", ip)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}
	require.Equal(t, http.StatusNoContent, call("10.0.0.1"))
	require.Equal(t, http.StatusNoContent, call("10.0.0.1"))
	require.Equal(t, http.StatusTooManyRequests, call("10.0.0.1"))
	require.Equal(t, http.StatusNoContent, call("10.0.0.2"))
}

func TestRateLimiterSweepsIdleVisitors(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 1, Burst: 1})
	limiter.clockNow = func() time.Time { return now }
	require.True(t, limiter.Allow("a"))
	require.False(t, limiter.Allow("a"))

	now = now.Add(visitorIdle + time.Second)
	require.True(t, limiter.Allow("b"))
	limiter.mu.Lock()
	_, kept := limiter.visitors["a"]
	limiter.mu.Unlock()
	require.False(t, kept)
}

func TestClientIDPrefersForwardedAddress(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "192.0.2.7, 10.0.0.1")
	require.Equal(t, "192.0.2.7", clientID(req))
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.3:5555"
	require.Equal(t, "198.51.100.3", clientID(req))
}
