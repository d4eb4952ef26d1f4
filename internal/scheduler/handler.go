package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"alertflow/internal/types"
)

// Lock slots are 15 minutes per task; the TTL matches the slot.
const lockTTL = 15 * time.Minute

// Service is the job router the handler drives.
type Service interface {
	Run(ctx context.Context, task TaskType, now time.Time) (int, error)
}

// JobLocker takes a named lock for ttl.
type JobLocker interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
}

// LockFunc adapts a function to JobLocker.
type LockFunc func(ctx context.Context, lockID, workerID string, ttl time.Duration) (bool, error)

func (f LockFunc) Acquire(ctx context.Context, lockID, workerID string, ttl time.Duration) (bool, error) {
	return f(ctx, lockID, workerID, ttl)
}

// Handler runs maintenance payloads under a job lock so concurrent schedulers
// run each task at most once per slot.
type Handler struct {
	Service  Service
	JobLock  JobLocker
	Clock    types.Clock
	WorkerID string
	Logger   *slog.Logger
}

// Handle executes payload.Task and returns a one-line summary.
//
//  1. Resolve the reference time.
//  2. Acquire "task:hour-slot"; a held lock is a successful no-op.
//  3. Run the task.
func (h *Handler) Handle(ctx context.Context, payload MaintenancePayload) (string, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if payload.Task == "" {
		return "", fmt.Errorf("empty task type in maintenance payload")
	}

	now := h.now()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	if h.JobLock != nil {
		lockID := lockIDFor(payload.Task, now)
		acquired, err := h.JobLock.Acquire(ctx, lockID, h.WorkerID, lockTTL)
		if err != nil {
			return "", fmt.Errorf("acquiring job lock %s: %w", lockID, err)
		}
		if !acquired {
			logger.InfoContext(ctx, "job lock held by another worker", "lock_id", lockID)
			return fmt.Sprintf("skipped: lock %s held by another worker", lockID), nil
		}
	}

	items, err := h.Service.Run(ctx, payload.Task, now)
	if err != nil {
		logger.ErrorContext(ctx, "task execution failed",
			"task", payload.Task,
			"error", err,
			"items_before_error", items,
		)
		return "", fmt.Errorf("task %s failed: %w", payload.Task, err)
	}

	result := fmt.Sprintf("task %s complete: %d items processed", payload.Task, items)
	logger.InfoContext(ctx, result, "task", payload.Task, "items", items)
	return result, nil
}

func (h *Handler) now() time.Time {
	if h.Clock != nil {
		return h.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

// lockIDFor slots the in-process runner's frequent ticks into 15 minute
// windows so each window runs once cluster-wide.
func lockIDFor(task TaskType, now time.Time) string {
	return fmt.Sprintf("%s:%s", task, now.Truncate(lockTTL).Format("2006-01-02T15:04"))
}
