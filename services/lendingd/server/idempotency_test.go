package server

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openIdempotency(t *testing.T, ttl time.Duration) *IdempotencyStore {
	t.Helper()
	store, err := OpenIdempotencyStore(filepath.Join(t.TempDir(), "idem.db"), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestIdempotencyStoreExpiry(t *testing.T) {
	store := openIdempotency(t, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return now }
	require.NoError(t, store.Put("k", http.StatusCreated, []byte(`{"ok":true}`)))

	record, ok, err := store.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, http.StatusCreated, record.StatusCode)

	now = now.Add(2 * time.Minute)
	_, ok, err = store.Get("k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIdempotencyMiddlewareReplays(t *testing.T) {
	store := openIdempotency(t, time.Hour)
	calls := 0
	handler := store.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls > 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"call":1}`))
	}))

	send := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/markets/mUSD/mint", nil)
		if key != "" {
			req.Header.Set(idempotencyHeader, key)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}
	first := send("abc")
	second := send("abc")
	require.Equal(t, 1, calls)
	require.Equal(t, first.Body.String(), second.Body.String())
	require.Equal(t, "true", second.Header().Get("Idempotent-Replay"))

	send("")
	require.Equal(t, 2, calls)

	require.Equal(t, http.StatusInternalServerError, send("fails").Code)
	require.Equal(t, http.StatusInternalServerError, send("fails").Code)
	require.Equal(t, 4, calls)
}
