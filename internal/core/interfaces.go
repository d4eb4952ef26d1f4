package core

import (
	"context"
	"time"
)

// MetricsCollector records one sample per HTTP request.
type MetricsCollector interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// RateLimitStore counts requests per key in fixed windows. Redis backs it in
// multi-instance deployments; cache.MemoryStore otherwise.
type RateLimitStore interface {
	IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error)
}

// RateLimitResult is the outcome of one IncrementAndCheck.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}
