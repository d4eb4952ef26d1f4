// Package scheduler runs the engine's maintenance jobs: retention of finished
// dispatches and audit rows, and cleanup after instances that died while
// dispatches were in flight.
//
// Every job takes a `now` parameter so it can be replayed for a given
// reference time.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"alertflow/internal/config"
	"alertflow/internal/types"
)

// Abort reason written onto dispatches closed by the reaper.
const reapedReason = "dispatch orphaned: deadline passed with no live engine"

// DispatchStore is the subset of the dispatch repository used by maintenance.
type DispatchStore interface {
	ListStale(ctx context.Context, now time.Time, limit int) ([]*types.Dispatch, error)
	Finish(ctx context.Context, id string, status types.DispatchStatus, abortReason string) (bool, error)
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// NotificationStore is the subset of the audit log repository used by maintenance.
type NotificationStore interface {
	FailStalePending(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Policy holds the cutoffs of every job.
type Policy struct {
	DispatchRetention     time.Duration
	NotificationRetention time.Duration

	// ReapSlack is how long past its deadline a dispatch may stay open. The
	// owning engine closes its own dispatches at the deadline, so anything
	// still open after the slack has no owner.
	ReapSlack time.Duration
	// PendingStaleAfter bounds how long an audit row may stay pending.
	PendingStaleAfter time.Duration
	ReapBatch         int
}

// PolicyFromConfig derives the policy. Pending rows are given the longest
// single delivery a dispatch can make: every attempt timing out plus the
// maximum backoff between them.
func PolicyFromConfig(ret config.RetentionConfig, eng config.EngineConfig) Policy {
	pending := time.Duration(eng.RetryMaxAttempts) * (eng.AdapterTimeout + eng.RetryMaxDelay)
	if pending < 15*time.Minute {
		pending = 15 * time.Minute
	}
	return Policy{
		DispatchRetention:     ret.DispatchRetention,
		NotificationRetention: ret.NotificationRetention,
		ReapSlack:             eng.GracePeriod,
		PendingStaleAfter:     pending,
		ReapBatch:             100,
	}
}

// MaintenanceService implements the jobs behind each TaskType.
type MaintenanceService struct {
	dispatches    DispatchStore
	notifications NotificationStore
	policy        Policy
	logger        *slog.Logger
}

// NewMaintenanceService creates a MaintenanceService.
func NewMaintenanceService(dispatches DispatchStore, notifications NotificationStore, policy Policy, logger *slog.Logger) *MaintenanceService {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.ReapBatch <= 0 {
		policy.ReapBatch = 100
	}
	return &MaintenanceService{
		dispatches:    dispatches,
		notifications: notifications,
		policy:        policy,
		logger:        logger,
	}
}

// Run executes one task and returns the number of rows it touched.
func (s *MaintenanceService) Run(ctx context.Context, task TaskType, now time.Time) (int, error) {
	switch task {
	case TaskPurgeDispatches:
		return s.PurgeDispatches(ctx, now)
	case TaskPurgeNotifications:
		return s.PurgeNotifications(ctx, now)
	case TaskReapStaleDispatches:
		return s.ReapStaleDispatches(ctx, now)
	case TaskFailStalePending:
		return s.FailStalePending(ctx, now)
	default:
		return 0, fmt.Errorf("unknown task type: %q", task)
	}
}

// PurgeDispatches deletes dispatches finished before the retention cutoff.
// Running dispatches are never touched.
func (s *MaintenanceService) PurgeDispatches(ctx context.Context, now time.Time) (int, error) {
	if s.policy.DispatchRetention <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-s.policy.DispatchRetention)
	n, err := s.dispatches.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting finished dispatches: %w", err)
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "purged finished dispatches",
			"count", n,
			"cutoff", cutoff.Format(time.RFC3339),
		)
	}
	return int(n), nil
}

// PurgeNotifications deletes audit rows created before the retention cutoff.
func (s *MaintenanceService) PurgeNotifications(ctx context.Context, now time.Time) (int, error) {
	if s.policy.NotificationRetention <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-s.policy.NotificationRetention)
	n, err := s.notifications.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting old notifications: %w", err)
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "purged old notifications",
			"count", n,
			"cutoff", cutoff.Format(time.RFC3339),
		)
	}
	return int(n), nil
}

// ReapStaleDispatches aborts dispatches still open ReapSlack after their
// deadline. One failed row does not stop the batch; it is retried next run.
func (s *MaintenanceService) ReapStaleDispatches(ctx context.Context, now time.Time) (int, error) {
	stale, err := s.dispatches.ListStale(ctx, now.Add(-s.policy.ReapSlack), s.policy.ReapBatch)
	if err != nil {
		return 0, fmt.Errorf("listing stale dispatches: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	reaped := 0
	for _, d := range stale {
		if err := ctx.Err(); err != nil {
			return reaped, err
		}
		ok, err := s.dispatches.Finish(ctx, d.ID, types.DispatchAborted, reapedReason)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to reap dispatch",
				"dispatch_id", d.ID,
				"error", err,
			)
			continue
		}
		if ok {
			reaped++
			s.logger.WarnContext(ctx, "reaped orphaned dispatch",
				"dispatch_id", d.ID,
				"workflow_id", d.WorkflowID,
				"deadline_at", d.DeadlineAt.Format(time.RFC3339),
			)
		}
	}
	return reaped, nil
}

// FailStalePending closes audit rows left pending by a dead process.
func (s *MaintenanceService) FailStalePending(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.policy.PendingStaleAfter)
	n, err := s.notifications.FailStalePending(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failing stale pending notifications: %w", err)
	}
	if n > 0 {
		s.logger.WarnContext(ctx, "closed stale pending notifications",
			"count", n,
			"cutoff", cutoff.Format(time.RFC3339),
		)
	}
	return int(n), nil
}
