package webhook

import (
	"alertflow/internal/types"
)

// Formatter turns a rendered notification into one platform's JSON body and
// interprets that platform's responses.
type Formatter interface {
	// Format builds the request body. cfg is the channel configuration.
	Format(p *types.RenderedPayload, cfg types.ChannelConfig) ([]byte, error)

	// ValidateResponse inspects a 2xx body. It reports whether the body
	// confirms receipt, or an error for a soft failure such as Slack
	// answering 200 with an error string.
	ValidateResponse(statusCode int, body []byte) (acked bool, err error)
}

// Slack Block Kit.

type SlackPayload struct {
	Text   string       `json:"text"`
	Blocks []SlackBlock `json:"blocks"`
}

type SlackBlock struct {
	Type     string       `json:"type"`
	Text     *SlackText   `json:"text,omitempty"`
	Fields   []*SlackText `json:"fields,omitempty"`
	Elements []*SlackText `json:"elements,omitempty"`
}

type SlackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Microsoft Teams Adaptive Card, Power Automate workflow schema.

type TeamsPayload struct {
	Type        string            `json:"type"`
	Attachments []TeamsAttachment `json:"attachments"`
}

type TeamsAttachment struct {
	ContentType string       `json:"contentType"`
	Content     AdaptiveCard `json:"content"`
}

type AdaptiveCard struct {
	Type    string         `json:"type"`
	Version string         `json:"version"`
	Body    []AdaptiveItem `json:"body"`
}

type AdaptiveItem struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	Size   string `json:"size,omitempty"`
	Weight string `json:"weight,omitempty"`
	Color  string `json:"color,omitempty"`
	Wrap   bool   `json:"wrap,omitempty"`
	Facts  []Fact `json:"facts,omitempty"`
}

type Fact struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

// GenericPayload is the stable contract for plain webhook receivers.
type GenericPayload struct {
	Kind           string         `json:"kind"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Severity       types.Severity `json:"severity"`
	Timestamp      string         `json:"timestamp"`
	EventType      string         `json:"event_type,omitempty"`
	CameraID       string         `json:"camera_id,omitempty"`
	DispatchID     string         `json:"dispatch_id,omitempty"`
	WorkflowName   string         `json:"workflow_name,omitempty"`
	OrganizationID string         `json:"organization_id,omitempty"`
}

// ZapierPayload is flat so every field maps directly in a Zap.
type ZapierPayload struct {
	Title          string `json:"title"`
	Message        string `json:"message"`
	Severity       string `json:"severity"`
	Timestamp      string `json:"timestamp"`
	EventType      string `json:"event_type"`
	CameraID       string `json:"camera_id"`
	DispatchID     string `json:"dispatch_id"`
	WorkflowName   string `json:"workflow_name"`
	OrganizationID string `json:"organization_id"`
}

// N8NPayload nests the alert so n8n expressions read $json.alert.*.
type N8NPayload struct {
	Alert struct {
		Title       string         `json:"title"`
		Description string         `json:"description"`
		Severity    types.Severity `json:"severity"`
		Timestamp   string         `json:"timestamp"`
	} `json:"alert"`
	Event struct {
		Type     string `json:"type"`
		CameraID string `json:"camera_id"`
	} `json:"event"`
	Source struct {
		DispatchID     string `json:"dispatch_id"`
		WorkflowName   string `json:"workflow_name"`
		OrganizationID string `json:"organization_id"`
	} `json:"source"`
}
