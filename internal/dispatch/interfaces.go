package dispatch

import (
	"context"
	"time"

	"alertflow/internal/notifications/core"
	"alertflow/internal/types"
)

// DispatchStore persists dispatch lifecycle transitions.
type DispatchStore interface {
	Create(ctx context.Context, d *types.Dispatch) error
	GetByID(ctx context.Context, id string) (*types.Dispatch, error)
	UpdateStatus(ctx context.Context, id string, status types.DispatchStatus) error
	UpdateEscalation(ctx context.Context, id string, state types.EscalationState, step int) error
	Finish(ctx context.Context, id string, status types.DispatchStatus, abortReason string) (bool, error)
	MarkAcknowledged(ctx context.Context, id, userID string, at time.Time) (*types.Dispatch, bool, error)
}

// WorkflowSource loads the workflows an event is evaluated against.
type WorkflowSource interface {
	ListActive(ctx context.Context, orgID string) ([]*types.Workflow, error)
}

// ChannelSource loads an organization's channels by id. Missing ids are
// absent from the result.
type ChannelSource interface {
	GetByIDs(ctx context.Context, orgID string, ids []string) (map[string]*types.AlertChannel, error)
}

// PreferenceSource loads user preferences. Users without a record are
// absent from the result.
type PreferenceSource interface {
	GetMany(ctx context.Context, orgID string, userIDs []string) (map[string]*types.UserNotificationPreferences, error)
}

// PreferenceResolver narrows candidate channel types for one recipient.
type PreferenceResolver interface {
	Resolve(prefs *types.UserNotificationPreferences, severity types.Severity, candidates []types.ChannelType) core.Resolution
}

// Deliverer is the delivery pipeline with its audit log.
type Deliverer interface {
	Deliver(ctx context.Context, t core.Target) (*types.AlertNotification, error)
	Skip(ctx context.Context, t core.Target, reason string) (*types.AlertNotification, error)
	Record(ctx context.Context, t core.Target, notificationType string, callErr error) (*types.AlertNotification, error)
}

// Deduplicator remembers event ids per organization.
type Deduplicator interface {
	// FirstSeen records the event and reports whether it was new.
	FirstSeen(ctx context.Context, orgID, eventID string) (bool, error)
}

// CooldownStore enforces the workflow cooldown modifier.
type CooldownStore interface {
	// Acquire reports whether the workflow may fire for key now, starting a
	// new window of length window when it may.
	Acquire(ctx context.Context, workflowID, key string, window time.Duration) (bool, error)
}

// AckBus fans acknowledgments out to every engine instance.
type AckBus interface {
	Publish(ctx context.Context, dispatchID string) error
	// Subscribe calls fn for every published dispatch id until ctx ends.
	Subscribe(ctx context.Context, fn func(dispatchID string)) error
}

// ReportKind classifies a Report.
type ReportKind string

const (
	ReportEscalationExhausted ReportKind = "escalation_exhausted"
	ReportEngineAnomaly       ReportKind = "engine_anomaly"
)

// Report is published for exhausted escalations and engine anomalies.
type Report struct {
	Kind           ReportKind     `json:"kind"`
	DispatchID     string         `json:"dispatch_id"`
	WorkflowID     string         `json:"workflow_id"`
	WorkflowName   string         `json:"workflow_name,omitempty"`
	OrganizationID string         `json:"organization_id"`
	EventID        string         `json:"event_id"`
	Severity       types.Severity `json:"severity"`
	Step           int            `json:"step,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

// ReportPublisher ships reports to downstream consumers.
type ReportPublisher interface {
	Publish(ctx context.Context, r Report) error
}
