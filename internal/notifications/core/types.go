// Package core provides the shared notification machinery used by every
// channel adapter: preference resolution, the adapter registry with its
// per-provider rate limits and timeouts, the delivery pipeline that writes
// the audit log, and delivery metrics.
package core

import (
	"context"
	"time"

	"alertflow/internal/types"
)

// MetricResult categorizes a delivery outcome for metrics reporting.
type MetricResult string

const (
	MetricSuccess MetricResult = "success"
	MetricFailed  MetricResult = "failed"
	MetricSkipped MetricResult = "skipped"
)

// NotificationMetrics abstracts telemetry for deliveries and dispatches.
type NotificationMetrics interface {
	RecordDelivery(ctx context.Context, channel types.ChannelType, result MetricResult)
	RecordLatency(ctx context.Context, channel types.ChannelType, duration time.Duration)
	RecordDispatch(ctx context.Context, status types.DispatchStatus)
	RecordEscalationExhausted(ctx context.Context)
	RecordAnomaly(ctx context.Context, kind string)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) RecordDelivery(context.Context, types.ChannelType, MetricResult) {}
func (NoopMetrics) RecordLatency(context.Context, types.ChannelType, time.Duration) {}
func (NoopMetrics) RecordDispatch(context.Context, types.DispatchStatus)            {}
func (NoopMetrics) RecordEscalationExhausted(context.Context)                       {}
func (NoopMetrics) RecordAnomaly(context.Context, string)                           {}

// RetryPolicy defines the exponential backoff parameters for delivery retries.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy: 3 attempts, 2s base doubling, capped at 30s.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:   3,
	BaseDelay:     2 * time.Second,
	MaxDelay:      30 * time.Second,
	BackoffFactor: 2.0,
}

// CalculateNextRetry computes the delay before the next retry attempt using
// exponential backoff: delay = min(BaseDelay * BackoffFactor^attempt, MaxDelay).
func CalculateNextRetry(policy RetryPolicy, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(policy.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= policy.BackoffFactor
		if delay > float64(policy.MaxDelay) {
			break
		}
	}
	d := time.Duration(delay)
	if d > policy.MaxDelay || d < 0 {
		d = policy.MaxDelay
	}
	return d
}

// OutcomeFromError converts a provider call result into an outcome. Errors
// are retryable only when classified transient.
func OutcomeFromError(providerMessageID string, err error) *types.DeliveryOutcome {
	if err == nil {
		return &types.DeliveryOutcome{Status: types.NotificationSent, ProviderMessageID: providerMessageID}
	}
	return &types.DeliveryOutcome{
		Status:        types.NotificationFailed,
		FailureReason: err.Error(),
		Retryable:     types.IsTransient(err),
	}
}
