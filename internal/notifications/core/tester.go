package core

import (
	"context"
	"time"

	"alertflow/internal/types"
)

// TestStatusStore persists the advisory result of a channel test.
type TestStatusStore interface {
	UpdateTestStatus(ctx context.Context, id, orgID string, status types.ChannelTestStatus, testedAt time.Time) error
}

// ChannelTester performs a synthetic send. Tests bypass the audit log and the
// retry policy: one attempt, and only test_status and tested_at change.
type ChannelTester struct {
	sender Sender
	store  TestStatusStore
	clock  types.Clock
	logger types.Logger
}

// NewChannelTester creates a ChannelTester.
func NewChannelTester(sender Sender, store TestStatusStore, clock types.Clock, logger types.Logger) *ChannelTester {
	return &ChannelTester{sender: sender, store: store, clock: clock, logger: logger}
}

// Test sends a low-severity test message through ch and records the result.
// The returned error is only for failing to persist the status; a failed
// delivery is reported through the outcome.
func (t *ChannelTester) Test(ctx context.Context, ch *types.AlertChannel) (*types.DeliveryOutcome, error) {
	now := t.clock.Now()
	payload := &types.RenderedPayload{
		Title:          "AlertFlow test notification",
		Description:    "This is a test message for channel " + ch.Name + ". No action is required.",
		Severity:       types.SeverityLow,
		Timestamp:      now,
		EventType:      "channel_test",
		OrganizationID: ch.OrganizationID,
	}

	outcome := t.sender.Send(ctx, ch, payload)
	status := types.TestStatusFailed
	if outcome.Succeeded() {
		status = types.TestStatusSuccess
	}

	if err := t.store.UpdateTestStatus(ctx, ch.ID, ch.OrganizationID, status, now); err != nil {
		return outcome, err
	}
	ch.TestStatus = status
	ch.TestedAt = &now

	t.logger.Info("channel tested",
		"channel_id", ch.ID,
		"channel_type", ch.ChannelType,
		"test_status", status,
		"reason", outcome.FailureReason,
	)
	return outcome, nil
}
