package types

import "strings"

// Severity classifies how urgent an event is. Values are ordered.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRanks = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the ordinal of the severity, or 0 if it is unknown.
func (s Severity) Rank() int {
	return severityRanks[s]
}

// Valid reports whether s is one of the known tiers.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// AtLeast reports whether s is at or above floor. Unknown severities never pass.
func (s Severity) AtLeast(floor Severity) bool {
	return s.Valid() && s.Rank() >= floor.Rank()
}

// ParseSeverity normalizes case and surrounding whitespace.
func ParseSeverity(s string) Severity {
	return Severity(strings.ToLower(strings.TrimSpace(s)))
}

// TriggerType identifies the predicate family of a workflow trigger.
type TriggerType string

const (
	TriggerEventOccurs       TriggerType = "event_occurs"
	TriggerSchedule          TriggerType = "schedule"
	TriggerThresholdExceeded TriggerType = "threshold_exceeded"
)

// LogicOperator combines trigger results.
type LogicOperator string

const (
	LogicAnd LogicOperator = "AND"
	LogicOr  LogicOperator = "OR"
)

// ActionType identifies what an action does when it runs.
type ActionType string

const (
	ActionSendNotification ActionType = "send_notification"
	ActionTriggerWebhook   ActionType = "trigger_webhook"
	ActionCreateTask       ActionType = "create_task"
	ActionEscalate         ActionType = "escalate"
	ActionIoT              ActionType = "iot_action"
	ActionLogIncident      ActionType = "log_incident"
)

// ChannelType identifies a notification transport.
type ChannelType string

const (
	ChannelEmail   ChannelType = "email"
	ChannelSMS     ChannelType = "sms"
	ChannelWebhook ChannelType = "webhook"
	ChannelSlack   ChannelType = "slack"
	ChannelTeams   ChannelType = "teams"
	ChannelZapier  ChannelType = "zapier"
	ChannelN8N     ChannelType = "n8n"
	ChannelIoT     ChannelType = "iot"
)

// AllChannelTypes lists every supported channel type.
var AllChannelTypes = []ChannelType{
	ChannelEmail, ChannelSMS, ChannelWebhook, ChannelSlack,
	ChannelTeams, ChannelZapier, ChannelN8N, ChannelIoT,
}

// Valid reports whether c is a supported channel type.
func (c ChannelType) Valid() bool {
	for _, t := range AllChannelTypes {
		if t == c {
			return true
		}
	}
	return false
}

// IsPersonal reports whether the channel addresses a single person, in which
// case a recipient's own contact replaces the channel's default destination.
func (c ChannelType) IsPersonal() bool {
	return c == ChannelEmail || c == ChannelSMS
}

// ChannelTestStatus is the advisory result of the last synthetic send.
type ChannelTestStatus string

const (
	TestStatusUntested ChannelTestStatus = "untested"
	TestStatusSuccess  ChannelTestStatus = "success"
	TestStatusFailed   ChannelTestStatus = "failed"
)

// DispatchStatus is the lifecycle state of one workflow firing.
type DispatchStatus string

const (
	DispatchEvaluating   DispatchStatus = "evaluating"
	DispatchExecuting    DispatchStatus = "executing"
	DispatchEscalating   DispatchStatus = "escalating"
	DispatchAcknowledged DispatchStatus = "acknowledged"
	DispatchCompleted    DispatchStatus = "completed"
	DispatchAborted      DispatchStatus = "aborted"
)

// IsTerminal reports whether no further work happens for the dispatch.
// Acknowledged is not terminal: later action groups may still run.
func (s DispatchStatus) IsTerminal() bool {
	return s == DispatchCompleted || s == DispatchAborted
}

// Valid reports whether s is a known status.
func (s DispatchStatus) Valid() bool {
	switch s {
	case DispatchEvaluating, DispatchExecuting, DispatchEscalating,
		DispatchAcknowledged, DispatchCompleted, DispatchAborted:
		return true
	}
	return false
}

// EscalationState tracks the escalation ladder of a dispatch.
type EscalationState string

const (
	EscalationNone         EscalationState = ""
	EscalationArmed        EscalationState = "armed"
	EscalationNotified     EscalationState = "notified"
	EscalationEscalated    EscalationState = "escalated"
	EscalationAcknowledged EscalationState = "acknowledged"
	EscalationExhausted    EscalationState = "exhausted"
)

// NotificationStatus is the delivery state of an audit row.
type NotificationStatus string

const (
	NotificationPending   NotificationStatus = "pending"
	NotificationSent      NotificationStatus = "sent"
	NotificationDelivered NotificationStatus = "delivered"
	NotificationFailed    NotificationStatus = "failed"
	NotificationSkipped   NotificationStatus = "skipped"
)

// IsTerminal reports whether the row can no longer change.
func (s NotificationStatus) IsTerminal() bool {
	return s != NotificationPending
}

// Valid reports whether s is a known status.
func (s NotificationStatus) Valid() bool {
	switch s {
	case NotificationPending, NotificationSent, NotificationDelivered, NotificationFailed, NotificationSkipped:
		return true
	}
	return false
}
