package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chronoflow/timetracker/internal/api"
)

// RateLimiter implements a fixed-window rate limiter backed by Redis. Counter
// maintenance is housekeeping: a Redis failure is logged and the request is
// allowed through rather than blocked on infrastructure.
type RateLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	prefix string
	logger *slog.Logger
}

// NewRateLimiter creates a new RateLimiter instance
func NewRateLimiter(rdb *redis.Client, limit int, window time.Duration, prefix string, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		rdb:    rdb,
		limit:  limit,
		window: window,
		prefix: prefix,
		logger: logger,
	}
}

// Allow checks whether the key is within its window budget
func (rl *RateLimiter) Allow(ctx context.Context, key string) bool {
	fullKey := rl.prefix + ":" + key

	count, err := rl.rdb.Incr(ctx, fullKey).Result()
	if err != nil {
		rl.logger.Warn("rate limiter unavailable, allowing request",
			slog.String("key", key),
			slog.String("error", err.Error()))
		return true
	}
	if count == 1 {
		if err := rl.rdb.Expire(ctx, fullKey, rl.window).Err(); err != nil {
			rl.logger.Warn("failed to set rate limit window",
				slog.String("key", key),
				slog.String("error", err.Error()))
		}
	}
	return count <= int64(rl.limit)
}

// Handler returns middleware enforcing the limit per key
func (rl *RateLimiter) Handler(keyFn func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(r.Context(), keyFn(r)) {
				api.WriteError(w, http.StatusTooManyRequests, api.CodeRateLimited, "Too many requests. Try again later.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
