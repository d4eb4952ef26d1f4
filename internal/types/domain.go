package types

import (
	"encoding/json"
	"strings"
	"time"
)

// Event is a safety or security detection raised by an organization's agents.
type Event struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id" validate:"required"`
	EventType      string         `json:"event_type" validate:"required,max=100"`
	Severity       Severity       `json:"severity" validate:"required,oneof=low medium high critical"`
	Confidence     float64        `json:"confidence" validate:"gte=0,lte=1"`
	CameraID       string         `json:"camera_id,omitempty"`
	CameraName     string         `json:"camera_name,omitempty"`
	CameraLocation string         `json:"camera_location,omitempty"`
	Description    string         `json:"description,omitempty" validate:"max=4000"`
	Timestamp      time.Time      `json:"timestamp"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Workflow binds a trigger set to an ordered list of actions.
type Workflow struct {
	ID               string            `json:"id" db:"id"`
	OrganizationID   string            `json:"organization_id" db:"organization_id"`
	Name             string            `json:"name" db:"name"`
	IsActive         bool              `json:"is_active" db:"is_active"`
	Priority         int               `json:"priority" db:"priority"`
	FlowDefinition   FlowDefinition    `json:"flow_definition" db:"flow_definition"`
	EscalationPolicy *EscalationPolicy `json:"escalation_policy,omitempty" db:"escalation_policy"`
	CreatedAt        time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at" db:"updated_at"`
}

// FlowDefinition is the body of a workflow as edited in the builder.
type FlowDefinition struct {
	Triggers      []Trigger     `json:"triggers"`
	LogicOperator LogicOperator `json:"logic_operator"`
	Actions       []Action      `json:"actions"`
	Modifiers     Modifiers     `json:"modifiers"`
}

// Modifiers adjust how a workflow fires.
type Modifiers struct {
	// CooldownMinutes suppresses re-firing for the same camera within the window.
	CooldownMinutes int `json:"cooldown_minutes,omitempty"`
}

// Trigger is one predicate over an incoming event.
type Trigger struct {
	Type       TriggerType       `json:"type"`
	Conditions TriggerConditions `json:"conditions"`
}

// TriggerConditions holds the predicate fields. Empty lists match anything.
type TriggerConditions struct {
	EventTypes     []string   `json:"event_types,omitempty"`
	SeverityLevels []Severity `json:"severity_levels,omitempty"`
	ConfidenceGT   *float64   `json:"confidence_gt,omitempty"`

	// schedule
	Cron          string `json:"cron,omitempty"`
	Timezone      string `json:"timezone,omitempty"`
	WindowMinutes int    `json:"window_minutes,omitempty"`

	// threshold_exceeded
	Metric    string   `json:"metric,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// Action is one step of a workflow.
type Action struct {
	ID             string       `json:"id"`
	Type           ActionType   `json:"type"`
	ExecutionOrder int          `json:"execution_order"`
	Config         ActionConfig `json:"config"`
}

// ActionConfig carries the settings of every action type; each type reads
// the subset it needs.
type ActionConfig struct {
	DelayMinutes          int  `json:"delay_minutes"`
	RequireAcknowledgment bool `json:"require_acknowledgment"`
	ContinueOnFailure     bool `json:"continue_on_failure"`

	ChannelIDs      []string `json:"channel_ids,omitempty"`
	Recipients      []string `json:"recipients,omitempty"`
	TitleTemplate   string   `json:"title_template,omitempty"`
	MessageTemplate string   `json:"message_template,omitempty"`

	WebhookURL     string `json:"webhook_url,omitempty"`
	WebhookPayload string `json:"webhook_payload,omitempty"`

	EscalationSteps []EscalationStep `json:"escalation_steps,omitempty"`

	TaskTitle    string `json:"task_title,omitempty"`
	TaskAssignee string `json:"task_assignee,omitempty"`

	DeviceID string `json:"device_id,omitempty"`
	Command  string `json:"command,omitempty"`
	Topic    string `json:"topic,omitempty"`

	IncidentCategory string `json:"incident_category,omitempty"`
}

// Delay returns the configured delay as a duration of the given minute length.
func (c ActionConfig) Delay(minute time.Duration) time.Duration {
	if c.DelayMinutes <= 0 {
		return 0
	}
	return time.Duration(c.DelayMinutes) * minute
}

// EscalationPolicy is an ordered ladder of notification tiers.
type EscalationPolicy struct {
	Steps []EscalationStep `json:"steps"`
}

// EscalationStep is one tier. DelayMinutes is relative to the previous step.
type EscalationStep struct {
	DelayMinutes int      `json:"delay_minutes"`
	ChannelIDs   []string `json:"channel_ids"`
	Recipients   []string `json:"recipients,omitempty"`
}

// TotalDelayMinutes sums the step delays.
func (p *EscalationPolicy) TotalDelayMinutes() int {
	if p == nil {
		return 0
	}
	total := 0
	for _, s := range p.Steps {
		total += s.DelayMinutes
	}
	return total
}

// AlertChannel is an organization-owned notification destination.
type AlertChannel struct {
	ID             string            `json:"id" db:"id"`
	OrganizationID string            `json:"organization_id" db:"organization_id"`
	Name           string            `json:"name" db:"name"`
	ChannelType    ChannelType       `json:"channel_type" db:"channel_type"`
	Config         ChannelConfig     `json:"channel_configuration" db:"channel_configuration"`
	IsActive       bool              `json:"is_active" db:"is_active"`
	TestStatus     ChannelTestStatus `json:"test_status" db:"test_status"`
	TestedAt       *time.Time        `json:"tested_at,omitempty" db:"tested_at"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at" db:"updated_at"`
}

// ChannelConfig is the channel-type specific configuration blob.
type ChannelConfig map[string]any

// String returns the string value stored at key, or "".
func (c ChannelConfig) String(key string) string {
	v, _ := c[key].(string)
	return v
}

// RequestsPerMinute returns the rate_limits.requests_per_minute override, or 0.
func (c ChannelConfig) RequestsPerMinute() int {
	limits, ok := c["rate_limits"].(map[string]any)
	if !ok {
		return 0
	}
	switch v := limits["requests_per_minute"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

var secretConfigKeys = []string{"secret", "token", "password", "api_key", "auth"}

// MarshalJSON redacts secret-looking configuration values for API responses.
// Database writes go through ChannelConfig.Value and keep the raw values.
func (c AlertChannel) MarshalJSON() ([]byte, error) {
	type alias AlertChannel
	out := alias(c)
	if c.Config != nil {
		redacted := make(ChannelConfig, len(c.Config))
		for k, v := range c.Config {
			if isSecretKey(k) {
				redacted[k] = redactedPlaceholder
				continue
			}
			redacted[k] = v
		}
		out.Config = redacted
	}
	return json.Marshal(out)
}

func isSecretKey(key string) bool {
	k := strings.ToLower(key)
	for _, s := range secretConfigKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// UserNotificationPreferences is one user's routing preferences within an organization.
type UserNotificationPreferences struct {
	UserID             string                 `json:"user_id" db:"user_id"`
	OrganizationID     string                 `json:"organization_id" db:"organization_id"`
	PreferredChannels  []ChannelType          `json:"preferred_channels" db:"preferred_channels"`
	BlockedChannels    []ChannelType          `json:"blocked_channels" db:"blocked_channels"`
	MuteAlerts         bool                   `json:"mute_alerts" db:"mute_alerts"`
	SeverityThreshold  Severity               `json:"severity_threshold,omitempty" db:"severity_threshold"`
	DoNotDisturb       DNDWindows             `json:"do_not_disturb_windows" db:"do_not_disturb_windows"`
	OverrideOrgRouting bool                   `json:"override_org_routing" db:"override_org_routing"`
	Contacts           map[ChannelType]string `json:"contacts,omitempty" db:"contacts"`
	UpdatedAt          time.Time              `json:"updated_at" db:"updated_at"`
}

// DNDWindow is a recurring period during which a user opts out of
// non-critical notifications.
type DNDWindow struct {
	Days         []string      `json:"days,omitempty"`
	Start        string        `json:"start"`
	End          string        `json:"end"`
	Timezone     string        `json:"timezone,omitempty"`
	ChannelTypes []ChannelType `json:"channel_types,omitempty"`
}

// DNDWindows is stored as JSONB.
type DNDWindows []DNDWindow

// Dispatch is one in-flight instance of a workflow reacting to one event.
type Dispatch struct {
	ID              string          `json:"id" db:"id"`
	WorkflowID      string          `json:"workflow_id" db:"workflow_id"`
	EventID         string          `json:"event_id" db:"event_id"`
	OrganizationID  string          `json:"organization_id" db:"organization_id"`
	Status          DispatchStatus  `json:"status" db:"status"`
	EscalationState EscalationState `json:"escalation_state,omitempty" db:"escalation_state"`
	EscalationStep  int             `json:"escalation_step" db:"escalation_step"`
	Event           EventSnapshot   `json:"event" db:"event"`
	AbortReason     string          `json:"abort_reason,omitempty" db:"abort_reason"`
	AcknowledgedBy  string          `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
	DeadlineAt      time.Time       `json:"deadline_at" db:"deadline_at"`
	AcknowledgedAt  *time.Time      `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

// EventSnapshot is the event as it was when the dispatch was created.
type EventSnapshot Event

// AlertNotification is one row of the append-only audit log.
type AlertNotification struct {
	ID               string             `json:"id" db:"id"`
	DispatchID       string             `json:"dispatch_id,omitempty" db:"dispatch_id"`
	OrganizationID   string             `json:"organization_id" db:"organization_id"`
	NotificationType string             `json:"notification_type" db:"notification_type"`
	ChannelID        string             `json:"channel_id,omitempty" db:"channel_id"`
	Recipient        string             `json:"recipient,omitempty" db:"recipient"`
	Source           string             `json:"source" db:"source"`
	Status           NotificationStatus `json:"status" db:"status"`
	Severity         Severity           `json:"severity" db:"severity"`
	Title            string             `json:"title" db:"title"`
	Description      string             `json:"description" db:"description"`
	DeliveryError    string             `json:"delivery_error,omitempty" db:"delivery_error"`
	AttemptCount     int                `json:"attempt_count" db:"attempt_count"`
	CreatedDate      time.Time          `json:"created_date" db:"created_date"`
	UpdatedAt        time.Time          `json:"updated_at" db:"updated_at"`
}

// NotificationFilter narrows audit log queries.
type NotificationFilter struct {
	OrganizationID string
	ChannelType    string
	Status         NotificationStatus
	Severity       Severity
	DispatchID     string
	Search         string
	Limit          int
	Cursor         string
}

// NotificationStats summarizes delivery outcomes for one organization.
type NotificationStats struct {
	OrganizationID string                     `json:"organization_id"`
	Counts         map[NotificationStatus]int `json:"counts"`
	Total          int                        `json:"total"`
	FailureRate    float64                    `json:"failure_rate"`
}

// RenderedPayload is a notification after templating, ready for an adapter.
type RenderedPayload struct {
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Severity       Severity  `json:"severity"`
	Timestamp      time.Time `json:"timestamp"`
	EventType      string    `json:"event_type,omitempty"`
	CameraID       string    `json:"camera_id,omitempty"`
	DispatchID     string    `json:"dispatch_id,omitempty"`
	WorkflowName   string    `json:"workflow_name,omitempty"`
	OrganizationID string    `json:"organization_id,omitempty"`

	// Destination overrides the channel's configured destination (recipient contact).
	Destination string `json:"-"`
	// Raw, when set, is sent verbatim instead of a formatted body.
	Raw []byte `json:"-"`
}

// DeliveryOutcome is the result of one adapter call.
type DeliveryOutcome struct {
	Status            NotificationStatus
	ProviderMessageID string
	FailureReason     string
	Retryable         bool
	RetryAfter        time.Duration
}

// Succeeded reports whether the outcome counts as a successful send.
func (o *DeliveryOutcome) Succeeded() bool {
	return o != nil && (o.Status == NotificationSent || o.Status == NotificationDelivered)
}
