package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"alertflow/internal/core"
	"alertflow/internal/types"
)

// RateLimiter is a fixed-window request counter backing the HTTP rate limit
// middleware. Windows are aligned to multiples of the window length.
type RateLimiter struct {
	client *redis.Client
	clock  types.Clock
}

// NewRateLimiter creates a RateLimiter.
func NewRateLimiter(client *redis.Client, clock types.Clock) *RateLimiter {
	return &RateLimiter{client: client, clock: clock}
}

// IncrementAndCheck counts one request for key in the current window.
func (l *RateLimiter) IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (core.RateLimitResult, error) {
	start, reset := windowBounds(l.clock.Now(), window)
	k := keyPrefix + "ratelimit:" + key + ":" + start.UTC().Format("20060102T150405")

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.PExpireAt(ctx, k, reset.Add(time.Second))
	if _, err := pipe.Exec(ctx); err != nil {
		return core.RateLimitResult{}, types.NewAppError(types.ErrCodeInternalCache, "rate limit counter failed", err)
	}
	return rateLimitResult(int(incr.Val()), limit, reset), nil
}

func windowBounds(now time.Time, window time.Duration) (time.Time, time.Time) {
	if window <= 0 {
		window = time.Minute
	}
	start := now.Truncate(window)
	return start, start.Add(window)
}

func rateLimitResult(count, limit int, reset time.Time) core.RateLimitResult {
	return core.RateLimitResult{
		Allowed:   count <= limit,
		Remaining: max(limit-count, 0),
		ResetAt:   reset,
	}
}
