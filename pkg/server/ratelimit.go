package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	pferr "github.com/propfirmflow/propfirmflow-api/pkg/errors"
)

// ratelimitKeyPrefix namespaces limiter counters in redis.
const ratelimitKeyPrefix = "ratelimit:"

// Counter is the slice of the redis client the limiter needs.
type Counter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, expiration time.Duration) (bool, error)
}

// RateLimiter enforces a fixed-window request budget per client IP on
// /api paths. The window is kept in redis so every instance of the
// service shares one budget. When redis is unreachable the limiter
// fails open: the request proceeds and a warning is logged.
type RateLimiter struct {
	counter Counter
	window  time.Duration
	max     int64
	logger  *slog.Logger
}

// NewRateLimiter creates a limiter from the validated config.
func NewRateLimiter(counter Counter, cfg RateLimitConfig, logger *slog.Logger) (*RateLimiter, error) {
	if counter == nil {
		return nil, pferr.New(pferr.CodeValidationRequired, "server: rate limiter counter must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, pferr.Wrap(err, pferr.CodeValidation, "server: invalid rate limit config")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		counter: counter,
		window:  cfg.Window,
		max:     cfg.Max,
		logger:  logger,
	}, nil
}

// Middleware wraps next with the limiter. Paths outside /api are not
// counted.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		key := ratelimitKeyPrefix + clientIP(r)

		count, err := l.counter.Incr(ctx, key)
		if err != nil {
			l.logger.WarnContext(ctx, "rate limiter unavailable, allowing request",
				"path", r.URL.Path, "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if count == 1 {
			// First hit of the window starts the clock. A failure here
			// leaves an unexpiring counter; log it and move on rather
			// than reject the request.
			if _, err := l.counter.Expire(ctx, key, l.window); err != nil {
				l.logger.WarnContext(ctx, "failed to set rate limit window",
					"key", key, "error", err)
			}
		}

		if count > l.max {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.FormatInt(int64(l.window.Seconds()), 10))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"too many requests"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP returns the originating client address. The service runs
// behind a reverse proxy in production, so the first entry of
// X-Forwarded-For wins when present.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
