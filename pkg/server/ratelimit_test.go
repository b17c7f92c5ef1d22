package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisclient "github.com/propfirmflow/propfirmflow-api/pkg/clients/redis"
)

func newTestLimiter(t *testing.T, cfg RateLimitConfig) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redisclient.NewFromClient(goredis.NewClient(&goredis.Options{Addr: srv.Addr()}), nil)
	t.Cleanup(func() { client.Close() })

	limiter, err := NewRateLimiter(client, cfg, nil)
	require.NoError(t, err)
	return limiter, srv
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func limiterRequest(t *testing.T, handler http.Handler, path, forwardedFor string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "10.0.0.1:52000"
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestRateLimiterAllowsWithinBudget(t *testing.T) {
	t.Parallel()

	limiter, _ := newTestLimiter(t, RateLimitConfig{Enabled: true, Window: time.Minute, Max: 3})
	handler := limiter.Middleware(okHandler())

	for i := 0; i < 3; i++ {
		rr := limiterRequest(t, handler, "/api/health", "")
		assert.Equal(t, http.StatusOK, rr.Code, "request %d", i+1)
	}
}

func TestRateLimiterRejectsOverBudget(t *testing.T) {
	t.Parallel()

	limiter, _ := newTestLimiter(t, RateLimitConfig{Enabled: true, Window: time.Minute, Max: 2})
	handler := limiter.Middleware(okHandler())

	limiterRequest(t, handler, "/api/health", "")
	limiterRequest(t, handler, "/api/health", "")

	rr := limiterRequest(t, handler, "/api/health", "")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"too many requests"}`, rr.Body.String())
}

func TestRateLimiterWindowExpires(t *testing.T) {
	t.Parallel()

	limiter, srv := newTestLimiter(t, RateLimitConfig{Enabled: true, Window: time.Minute, Max: 1})
	handler := limiter.Middleware(okHandler())

	assert.Equal(t, http.StatusOK, limiterRequest(t, handler, "/api/health", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, limiterRequest(t, handler, "/api/health", "").Code)

	srv.FastForward(61 * time.Second)

	assert.Equal(t, http.StatusOK, limiterRequest(t, handler, "/api/health", "").Code)
}

func TestRateLimiterBudgetIsPerClient(t *testing.T) {
	t.Parallel()

	limiter, _ := newTestLimiter(t, RateLimitConfig{Enabled: true, Window: time.Minute, Max: 1})
	handler := limiter.Middleware(okHandler())

	assert.Equal(t, http.StatusOK, limiterRequest(t, handler, "/api/health", "203.0.113.7").Code)
	assert.Equal(t, http.StatusTooManyRequests, limiterRequest(t, handler, "/api/health", "203.0.113.7").Code)

	// A different client still has its own budget.
	assert.Equal(t, http.StatusOK, limiterRequest(t, handler, "/api/health", "203.0.113.8").Code)
}

func TestRateLimiterIgnoresNonAPIPaths(t *testing.T) {
	t.Parallel()

	limiter, _ := newTestLimiter(t, RateLimitConfig{Enabled: true, Window: time.Minute, Max: 1})
	handler := limiter.Middleware(okHandler())

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, limiterRequest(t, handler, "/", "").Code)
	}
}

// failingCounter simulates an unreachable redis.
type failingCounter struct{}

func (failingCounter) Incr(context.Context, string) (int64, error) {
	return 0, errors.New("connection refused")
}

func (failingCounter) Expire(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}

func TestRateLimiterFailsOpen(t *testing.T) {
	t.Parallel()

	limiter, err := NewRateLimiter(failingCounter{},
		RateLimitConfig{Enabled: true, Window: time.Minute, Max: 1}, nil)
	require.NoError(t, err)
	handler := limiter.Middleware(okHandler())

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, limiterRequest(t, handler, "/api/health", "").Code)
	}
}

func TestNewRateLimiterValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRateLimiter(nil, RateLimitConfig{Enabled: true, Window: time.Minute, Max: 1}, nil)
	assert.Error(t, err)

	_, err = NewRateLimiter(failingCounter{}, RateLimitConfig{Enabled: true, Window: 0, Max: 1}, nil)
	assert.Error(t, err)
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		remoteAddr   string
		forwardedFor string
		want         string
	}{
		{"remote addr", "10.0.0.1:52000", "", "10.0.0.1"},
		{"forwarded single", "10.0.0.1:52000", "203.0.113.7", "203.0.113.7"},
		{"forwarded chain takes first", "10.0.0.1:52000", "203.0.113.7, 10.0.0.2", "203.0.113.7"},
		{"remote addr without port", "10.0.0.1", "", "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwardedFor != "" {
				req.Header.Set("X-Forwarded-For", tt.forwardedFor)
			}
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}
