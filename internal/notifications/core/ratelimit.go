package core

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// ProviderLimiter keeps one token bucket per provider key, shared by every
// dispatch that sends through that provider.
type ProviderLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewProviderLimiter creates an empty limiter set.
func NewProviderLimiter() *ProviderLimiter {
	return &ProviderLimiter{buckets: make(map[string]*rate.Limiter)}
}

// Wait blocks until key has a token or ctx ends. rpm <= 0 disables limiting.
func (l *ProviderLimiter) Wait(ctx context.Context, key string, rpm int) error {
	if rpm <= 0 {
		return nil
	}
	return l.bucket(key, rpm).Wait(ctx)
}

func (l *ProviderLimiter) bucket(key string, rpm int) *rate.Limiter {
	limit := rate.Limit(float64(rpm) / 60.0)
	burst := max(1, rpm/60)

	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(limit, burst)
		l.buckets[key] = b
		return b
	}
	// Channel overrides can change between sends.
	if b.Limit() != limit {
		b.SetLimit(limit)
		b.SetBurst(burst)
	}
	return b
}
