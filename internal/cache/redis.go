// Package cache holds the Redis-backed state shared by engine instances:
// event de-duplication, workflow cooldowns, maintenance locks, HTTP rate
// limit counters and the acknowledgment bus.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"alertflow/internal/config"
	"alertflow/internal/types"
)

const keyPrefix = "alertflow:"

// NewClient opens a Redis client for cfg. It does not dial.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password.Unmask(),
		DB:       cfg.DB,
	})
}

// Ping checks connectivity; used by the health probe.
func Ping(ctx context.Context, client *redis.Client) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return types.NewAppError(types.ErrCodeInternalCache, "redis ping failed", err)
	}
	return nil
}

// Deduplicator remembers event ids for ttl using SET NX.
type Deduplicator struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDeduplicator creates a Deduplicator.
func NewDeduplicator(client *redis.Client, ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Deduplicator{client: client, ttl: ttl}
}

// FirstSeen records the event and reports whether it had not been seen
// within the TTL.
func (d *Deduplicator) FirstSeen(ctx context.Context, orgID, eventID string) (bool, error) {
	key := fmt.Sprintf("%sevent:%s:%s", keyPrefix, orgID, eventID)
	ok, err := d.client.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalCache, "dedupe check failed", err)
	}
	return ok, nil
}

// CooldownStore holds one key per (workflow, camera) for the cooldown window.
type CooldownStore struct {
	client *redis.Client
}

// NewCooldownStore creates a CooldownStore.
func NewCooldownStore(client *redis.Client) *CooldownStore {
	return &CooldownStore{client: client}
}

// Acquire starts a window unless one is already running.
func (c *CooldownStore) Acquire(ctx context.Context, workflowID, key string, window time.Duration) (bool, error) {
	if window <= 0 {
		return true, nil
	}
	k := fmt.Sprintf("%scooldown:%s:%s", keyPrefix, workflowID, key)
	ok, err := c.client.SetNX(ctx, k, 1, window).Result()
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalCache, "cooldown check failed", err)
	}
	return ok, nil
}

// JobLock guards maintenance jobs so one instance runs each slot.
type JobLock struct {
	client *redis.Client
}

// NewJobLock creates a JobLock.
func NewJobLock(client *redis.Client) *JobLock {
	return &JobLock{client: client}
}

// Acquire takes lockID for ttl. The stored value is the holder's worker id.
func (l *JobLock) Acquire(ctx context.Context, lockID, workerID string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, keyPrefix+"lock:"+lockID, workerID, ttl).Result()
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalCache, "job lock failed", err)
	}
	return ok, nil
}

// AckBus broadcasts acknowledged dispatch ids over a pub/sub channel so the
// instance running the dispatch can stop it.
type AckBus struct {
	client  *redis.Client
	channel string
	logger  types.Logger
}

// NewAckBus creates an AckBus.
func NewAckBus(client *redis.Client, channel string, logger types.Logger) *AckBus {
	if channel == "" {
		channel = keyPrefix + "acks"
	}
	return &AckBus{client: client, channel: channel, logger: logger}
}

func (b *AckBus) Publish(ctx context.Context, dispatchID string) error {
	if err := b.client.Publish(ctx, b.channel, dispatchID).Err(); err != nil {
		return types.NewAppError(types.ErrCodeInternalCache, "ack publish failed", err)
	}
	return nil
}

// Subscribe blocks, calling fn for every published id, until ctx ends.
func (b *AckBus) Subscribe(ctx context.Context, fn func(dispatchID string)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed before consuming.
	if _, err := sub.Receive(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalCache, "ack subscribe failed", err)
	}
	b.logger.Info("ack bus subscribed", "channel", b.channel)

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if msg.Payload != "" {
				fn(msg.Payload)
			}
		}
	}
}
