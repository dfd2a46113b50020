package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantLimiterIsolatesTenants(t *testing.T) {
	lim := NewTenantLimiter(1, 2)
	defer lim.Close()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		ok, err := lim.Allow(ctx, "acme")
		require.NoError(t, err)
		assert.True(t, ok, "burst request %d", i)
	}
	ok, err := lim.Allow(ctx, "acme")
	require.NoError(t, err)
	assert.False(t, ok, "over burst")

	// Another tenant has its own bucket.
	ok, err = lim.Allow(ctx, "globex")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRateLimitMiddlewareAnswers429(t *testing.T) {
	lim := NewTenantLimiter(1, 1)
	defer lim.Close()

	h := NewServer(testEngine(t), WithLimiter(lim)).Handler()

	rec := doJSON(t, h, http.MethodGet, "/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/status", "", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestRateLimitKeysOnTenantHeader(t *testing.T) {
	lim := NewTenantLimiter(1, 1)
	defer lim.Close()

	h := NewServer(testEngine(t), WithLimiter(lim)).Handler()

	rec := doJSON(t, h, http.MethodGet, "/status", "", map[string]string{"X-Aurora-Tenant": "acme"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, h, http.MethodGet, "/status", "", map[string]string{"X-Aurora-Tenant": "acme"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Exhausting acme's budget leaves globex untouched.
	rec = doJSON(t, h, http.MethodGet, "/status", "", map[string]string{"X-Aurora-Tenant": "globex"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRedisLimiterFixedWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lim := NewRedisLimiter(client, 2)
	lim.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		ok, err := lim.Allow(ctx, "acme")
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := lim.Allow(ctx, "acme")
	require.NoError(t, err)
	assert.False(t, ok, "over window limit")

	// Distinct tenant, same window.
	ok, err = lim.Allow(ctx, "globex")
	require.NoError(t, err)
	assert.True(t, ok)

	// Next window resets the counter.
	now = now.Add(time.Second)
	ok, err = lim.Allow(ctx, "acme")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRateLimitFailsOpenWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	h := NewServer(testEngine(t), WithLimiter(NewRedisLimiter(client, 1))).Handler()

	// A broken limiter must not take the ingress down with it.
	rec := doJSON(t, h, http.MethodGet, "/status", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRequestIDGeneratedWhenAbsent(t *testing.T) {
	var got string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = RequestIDFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	RequestID(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.NotEmpty(t, got)
	assert.Equal(t, got, rec.Header().Get("X-Request-ID"))
}
