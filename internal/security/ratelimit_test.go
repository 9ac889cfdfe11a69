package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, cfg *RateLimitConfig) *InMemoryRateLimiter {
	t.Helper()
	limiter := NewInMemoryRateLimiter(cfg, quietLogger())
	t.Cleanup(limiter.Stop)
	return limiter
}

func TestNewInMemoryRateLimiter_Defaults(t *testing.T) {
	cfg := &RateLimitConfig{Enabled: true}
	newTestLimiter(t, cfg)

	assert.Equal(t, 60, cfg.RequestsPerMinute)
	assert.Equal(t, 60, cfg.BurstSize)
	assert.Equal(t, 5*time.Minute, cfg.CleanupInterval)
}

func TestInMemoryRateLimiter_Disabled(t *testing.T) {
	limiter := newTestLimiter(t, &RateLimitConfig{RequestsPerMinute: 1, BurstSize: 1})

	for i := 0; i < 5; i++ {
		result, err := limiter.Allow(context.Background(), "k")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}
}

func TestInMemoryRateLimiter_ExhaustsBurst(t *testing.T) {
	limiter := newTestLimiter(t, &RateLimitConfig{Enabled: true, RequestsPerMinute: 1, BurstSize: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := limiter.Allow(ctx, "client-a")
		require.NoError(t, err)
		assert.True(t, result.Allowed, "request %d", i)
		assert.Equal(t, 2-i, result.Remaining)
	}

	result, err := limiter.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Greater(t, result.RetryAfter, time.Duration(0))

	// other keys are independent
	result, err = limiter.Allow(ctx, "client-b")
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	require.NoError(t, limiter.Reset(ctx, "client-a"))
	result, err = limiter.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestInMemoryRateLimiter_Cleanup(t *testing.T) {
	limiter := newTestLimiter(t, &RateLimitConfig{Enabled: true, IdleTimeout: time.Minute})
	_, _ = limiter.Allow(context.Background(), "idle")

	assert.Equal(t, 0, limiter.cleanup(time.Now()))
	assert.Equal(t, 1, limiter.cleanup(time.Now().Add(2*time.Minute)))
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := newTestLimiter(t, &RateLimitConfig{Enabled: true, RequestsPerMinute: 1, BurstSize: 1})
	handler := RateLimitMiddleware(limiter, DefaultKeyExtractor)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/route", nil)
		req.RemoteAddr = "192.0.2.10:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))

	second := send()
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Contains(t, second.Body.String(), "rate_limit_error")
}

func TestDefaultKeyExtractor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:80"
	assert.Equal(t, "ip:192.0.2.1", DefaultKeyExtractor(req))

	req = req.WithContext(WithAuthInfo(req.Context(), &AuthInfo{UserID: "user_abc"}))
	assert.Equal(t, "user:user_abc", DefaultKeyExtractor(req))
}
