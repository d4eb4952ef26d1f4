package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"alertflow/internal/types"
)

// AuditLog is the persistence the pipeline needs from the notification
// repository. Rows are keyed by (dispatch_id, source, channel_id, recipient).
type AuditLog interface {
	// InsertPending inserts n unless a row for the same key exists, in which
	// case the existing row is returned with created=false.
	InsertPending(ctx context.Context, n *types.AlertNotification) (row *types.AlertNotification, created bool, err error)

	// RecordAttempt stores the attempt counter of a pending row.
	RecordAttempt(ctx context.Context, id string, attempt int) error

	// Finalize moves a pending row to a terminal status. Rows that are
	// already terminal are left untouched.
	Finalize(ctx context.Context, id string, status types.NotificationStatus, deliveryError string) error

	// InsertFinal writes a row directly in a terminal status (skipped rows,
	// collaborator outcomes). Duplicates on the key are ignored.
	InsertFinal(ctx context.Context, n *types.AlertNotification) (created bool, err error)
}

// Target identifies one (dispatch, channel, recipient) delivery.
type Target struct {
	DispatchID     string
	OrganizationID string
	Source         string
	Channel        *types.AlertChannel
	Recipient      string
	Severity       types.Severity
	Payload        *types.RenderedPayload
}

// Pipeline executes deliveries and keeps the audit log complete: a pending
// row is written before the first attempt, and every path ends in exactly
// one terminal row per target.
type Pipeline struct {
	log     AuditLog
	sender  Sender
	retry   RetryPolicy
	sleeper types.Sleeper
	clock   types.Clock
	metrics NotificationMetrics
	logger  types.Logger
	newID   func() string

	onPermanent func(ctx context.Context, ch *types.AlertChannel, reason string)
}

// NewPipeline creates a Pipeline.
func NewPipeline(log AuditLog, sender Sender, retry RetryPolicy, sleeper types.Sleeper, clock types.Clock, metrics NotificationMetrics, logger types.Logger) *Pipeline {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &Pipeline{
		log:     log,
		sender:  sender,
		retry:   retry,
		sleeper: sleeper,
		clock:   clock,
		metrics: metrics,
		logger:  logger,
		newID:   func() string { return "ntf_" + uuid.NewString() },
	}
}

// OnPermanentFailure registers fn to run when a live delivery fails
// permanently. It is used to flag the channel for its owners; it must not
// affect later sends.
func (p *Pipeline) OnPermanentFailure(fn func(ctx context.Context, ch *types.AlertChannel, reason string)) {
	p.onPermanent = fn
}

// Deliver sends to the target with retries for transient failures and
// returns the terminal audit row. The returned error is non-nil only when
// the audit log itself could not be written.
func (p *Pipeline) Deliver(ctx context.Context, t Target) (*types.AlertNotification, error) {
	row, created, err := p.log.InsertPending(ctx, p.newRow(t, types.NotificationPending, ""))
	if err != nil {
		return nil, fmt.Errorf("InsertPending: %w", err)
	}
	if !created && row.Status.IsTerminal() {
		// Already settled by an earlier run for this key.
		return row, nil
	}

	logger := p.logger.With(
		"dispatch_id", t.DispatchID,
		"notification_id", row.ID,
		"channel_id", t.Channel.ID,
		"channel_type", string(t.Channel.ChannelType),
	)

	var outcome *types.DeliveryOutcome
	for attempt := row.AttemptCount + 1; attempt <= p.retry.MaxAttempts; attempt++ {
		if err := p.log.RecordAttempt(ctx, row.ID, attempt); err != nil {
			logger.Warn("failed to record delivery attempt", "attempt", attempt, "error", err.Error())
		}
		row.AttemptCount = attempt

		outcome = p.sender.Send(ctx, t.Channel, t.Payload)
		if outcome.Succeeded() {
			p.metrics.RecordDelivery(ctx, t.Channel.ChannelType, MetricSuccess)
			return p.finalize(ctx, row, outcome.Status, "")
		}

		if !outcome.Retryable || attempt == p.retry.MaxAttempts {
			break
		}

		wait := CalculateNextRetry(p.retry, attempt-1)
		if outcome.RetryAfter > wait && outcome.RetryAfter <= p.retry.MaxDelay {
			wait = outcome.RetryAfter
		}
		logger.Info("transient delivery failure, retrying",
			"attempt", attempt,
			"wait", wait.String(),
			"reason", outcome.FailureReason,
		)
		if err := p.sleeper.Sleep(ctx, wait); err != nil {
			p.metrics.RecordDelivery(ctx, t.Channel.ChannelType, MetricFailed)
			return p.finalize(ctx, row, types.NotificationFailed, "retry cancelled: "+outcome.FailureReason)
		}
	}

	logger.Warn("delivery failed",
		"attempts", row.AttemptCount,
		"retryable", outcome.Retryable,
		"reason", outcome.FailureReason,
	)
	p.metrics.RecordDelivery(ctx, t.Channel.ChannelType, MetricFailed)
	if !outcome.Retryable && p.onPermanent != nil {
		p.onPermanent(context.WithoutCancel(ctx), t.Channel, outcome.FailureReason)
	}
	return p.finalize(ctx, row, types.NotificationFailed, outcome.FailureReason)
}

// Skip records a target the resolver or channel lookup excluded.
func (p *Pipeline) Skip(ctx context.Context, t Target, reason string) (*types.AlertNotification, error) {
	row := p.newRow(t, types.NotificationSkipped, reason)
	if _, err := p.log.InsertFinal(ctx, row); err != nil {
		return nil, fmt.Errorf("InsertFinal: %w", err)
	}
	p.metrics.RecordDelivery(ctx, types.ChannelType(row.NotificationType), MetricSkipped)
	return row, nil
}

// Record stores the outcome of a collaborator call (task, incident, IoT
// command) under notificationType. callErr nil means success.
func (p *Pipeline) Record(ctx context.Context, t Target, notificationType string, callErr error) (*types.AlertNotification, error) {
	status, reason := types.NotificationSent, ""
	if callErr != nil {
		status, reason = types.NotificationFailed, callErr.Error()
	}
	row := p.newRow(t, status, reason)
	row.NotificationType = notificationType
	row.AttemptCount = 1
	if _, err := p.log.InsertFinal(ctx, row); err != nil {
		return nil, fmt.Errorf("InsertFinal: %w", err)
	}
	return row, nil
}

func (p *Pipeline) finalize(ctx context.Context, row *types.AlertNotification, status types.NotificationStatus, reason string) (*types.AlertNotification, error) {
	// The audit write must land even when the dispatch was cancelled.
	if err := p.log.Finalize(context.WithoutCancel(ctx), row.ID, status, reason); err != nil {
		return nil, fmt.Errorf("Finalize: %w", err)
	}
	row.Status = status
	row.DeliveryError = reason
	row.UpdatedAt = p.clock.Now()
	return row, nil
}

func (p *Pipeline) newRow(t Target, status types.NotificationStatus, reason string) *types.AlertNotification {
	now := p.clock.Now()
	row := &types.AlertNotification{
		ID:             p.newID(),
		DispatchID:     t.DispatchID,
		OrganizationID: t.OrganizationID,
		Source:         t.Source,
		Recipient:      t.Recipient,
		Status:         status,
		Severity:       t.Severity,
		DeliveryError:  reason,
		CreatedDate:    now,
		UpdatedAt:      now,
	}
	if t.Channel != nil {
		row.ChannelID = t.Channel.ID
		row.NotificationType = string(t.Channel.ChannelType)
	}
	if t.Payload != nil {
		row.Title = t.Payload.Title
		row.Description = t.Payload.Description
	}
	return row
}
