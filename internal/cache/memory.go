package cache

import (
	"context"
	"sync"
	"time"

	"alertflow/internal/core"
	"alertflow/internal/types"
)

// MemoryStore is a single-instance stand-in for the Redis stores, used when
// no Redis address is configured. Expired keys are dropped lazily.
type MemoryStore struct {
	mu       sync.Mutex
	keys     map[string]time.Time
	counters map[string]windowCount
	ttl      time.Duration
	clock    types.Clock

	subMu sync.Mutex
	subs  map[int]chan string
	next  int
}

// NewMemoryStore creates a MemoryStore.
func NewMemoryStore(dedupeTTL time.Duration, clock types.Clock) *MemoryStore {
	if dedupeTTL <= 0 {
		dedupeTTL = 24 * time.Hour
	}
	return &MemoryStore{
		keys:     make(map[string]time.Time),
		counters: make(map[string]windowCount),
		ttl:      dedupeTTL,
		clock:    clock,
		subs:     make(map[int]chan string),
	}
}

func (m *MemoryStore) setNX(key string, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	if exp, ok := m.keys[key]; ok && now.Before(exp) {
		return false
	}
	m.keys[key] = now.Add(ttl)
	if len(m.keys)%1024 == 0 {
		for k, exp := range m.keys {
			if !now.Before(exp) {
				delete(m.keys, k)
			}
		}
	}
	return true
}

func (m *MemoryStore) FirstSeen(_ context.Context, orgID, eventID string) (bool, error) {
	return m.setNX(keyPrefix+"event:"+orgID+":"+eventID, m.ttl), nil
}

func (m *MemoryStore) Acquire(_ context.Context, workflowID, key string, window time.Duration) (bool, error) {
	if window <= 0 {
		return true, nil
	}
	return m.setNX(keyPrefix+"cooldown:"+workflowID+":"+key, window), nil
}

// AcquireLock is the in-process JobLock.
func (m *MemoryStore) AcquireLock(_ context.Context, lockID, _ string, ttl time.Duration) (bool, error) {
	return m.setNX(keyPrefix+"lock:"+lockID, ttl), nil
}

type windowCount struct {
	start time.Time
	n     int
}

// IncrementAndCheck is the in-process RateLimiter. A key's counter resets
// when a new window starts.
func (m *MemoryStore) IncrementAndCheck(_ context.Context, key string, limit int, window time.Duration) (core.RateLimitResult, error) {
	start, reset := windowBounds(m.clock.Now(), window)

	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.counters[key]
	if !c.start.Equal(start) {
		c = windowCount{start: start}
	}
	c.n++
	m.counters[key] = c
	return rateLimitResult(c.n, limit, reset), nil
}

func (m *MemoryStore) Publish(_ context.Context, dispatchID string) error {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- dispatchID:
		default:
		}
	}
	return nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, fn func(dispatchID string)) error {
	ch := make(chan string, 64)
	m.subMu.Lock()
	id := m.next
	m.next++
	m.subs[id] = ch
	m.subMu.Unlock()
	defer func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case dispatchID := <-ch:
			fn(dispatchID)
		}
	}
}
