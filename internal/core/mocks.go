package core

import (
	"context"
	"sync"
	"time"
)

// MockRateLimitStore answers from a per-key counter; tests set Err to
// exercise the fail-open path.
type MockRateLimitStore struct {
	mu     sync.Mutex
	counts map[string]int
	Err    error
	Now    func() time.Time
}

func (m *MockRateLimitStore) IncrementAndCheck(_ context.Context, key string, limit int, window time.Duration) (RateLimitResult, error) {
	if m.Err != nil {
		return RateLimitResult{}, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]int)
	}
	m.counts[key]++
	n := m.counts[key]

	now := time.Now()
	if m.Now != nil {
		now = m.Now()
	}
	return RateLimitResult{
		Allowed:   n <= limit,
		Remaining: max(limit-n, 0),
		ResetAt:   now.Add(window),
	}, nil
}

// Count returns how many requests key has made.
func (m *MockRateLimitStore) Count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

// MockProbe is a HealthProbe with a scripted result and optional delay.
type MockProbe struct {
	ProbeName string
	Err       error
	Delay     time.Duration
	Panic     bool
}

func (p *MockProbe) Name() string { return p.ProbeName }

func (p *MockProbe) Check(ctx context.Context) error {
	if p.Panic {
		panic("probe exploded")
	}
	if p.Delay > 0 {
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return p.Err
}
