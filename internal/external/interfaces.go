package external

import (
	"context"
	"time"

	"alertflow/internal/types"
)

// EmailMessage is a fully rendered email.
type EmailMessage struct {
	To          string
	FromName    string
	FromAddress string
	Subject     string
	BodyText    string
	BodyHTML    string
	// ReferenceID correlates provider callbacks with a dispatch.
	ReferenceID string
}

// EmailProvider transmits one email and returns the provider message id.
type EmailProvider interface {
	Send(ctx context.Context, msg EmailMessage) (string, error)
}

// SMSProvider transmits one text message to an E.164 number.
type SMSProvider interface {
	SendSMS(ctx context.Context, phone, body string) (string, error)
}

// CommandBus publishes device commands.
type CommandBus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// TaskRequest is the body sent to the task service.
type TaskRequest struct {
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Assignee       string         `json:"assignee,omitempty"`
	Severity       types.Severity `json:"severity"`
	OrganizationID string         `json:"organization_id"`
	DispatchID     string         `json:"dispatch_id"`
	EventID        string         `json:"event_id"`
}

// TaskService opens follow-up tasks.
type TaskService interface {
	CreateTask(ctx context.Context, req TaskRequest) (string, error)
}

// IncidentRecord is one entry in the incident log.
type IncidentRecord struct {
	Category       string         `json:"category"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Severity       types.Severity `json:"severity"`
	OrganizationID string         `json:"organization_id"`
	DispatchID     string         `json:"dispatch_id"`
	EventID        string         `json:"event_id"`
	CameraID       string         `json:"camera_id,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

// IncidentLogger appends incidents to the organization's incident log.
type IncidentLogger interface {
	LogIncident(ctx context.Context, rec IncidentRecord) (string, error)
}
