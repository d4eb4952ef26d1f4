package webhook

import (
	"encoding/json"
	"fmt"
	"strings"

	"alertflow/internal/types"
)

// ZapierFormatter sends a flat object for Zapier catch hooks.
type ZapierFormatter struct{}

func (ZapierFormatter) Format(p *types.RenderedPayload, _ types.ChannelConfig) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("zapier formatter: payload is nil")
	}
	return json.Marshal(ZapierPayload{
		Title:          p.Title,
		Message:        p.Description,
		Severity:       string(p.Severity),
		Timestamp:      formatTimestamp(p.Timestamp),
		EventType:      p.EventType,
		CameraID:       p.CameraID,
		DispatchID:     p.DispatchID,
		WorkflowName:   p.WorkflowName,
		OrganizationID: p.OrganizationID,
	})
}

// ValidateResponse: catch hooks reply {"status":"success","id":...}.
func (ZapierFormatter) ValidateResponse(_ int, body []byte) (bool, error) {
	var resp struct {
		Status string `json:"status"`
		ID     string `json:"id"`
	}
	if json.Unmarshal(body, &resp) != nil {
		return false, nil
	}
	if resp.Status != "" && !strings.EqualFold(resp.Status, "success") {
		return false, fmt.Errorf("zapier: status %s", resp.Status)
	}
	return strings.EqualFold(resp.Status, "success"), nil
}

// N8NFormatter sends a nested document for n8n webhook nodes.
type N8NFormatter struct{}

func (N8NFormatter) Format(p *types.RenderedPayload, _ types.ChannelConfig) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("n8n formatter: payload is nil")
	}
	var out N8NPayload
	out.Alert.Title = p.Title
	out.Alert.Description = p.Description
	out.Alert.Severity = p.Severity
	out.Alert.Timestamp = formatTimestamp(p.Timestamp)
	out.Event.Type = p.EventType
	out.Event.CameraID = p.CameraID
	out.Source.DispatchID = p.DispatchID
	out.Source.WorkflowName = p.WorkflowName
	out.Source.OrganizationID = p.OrganizationID
	return json.Marshal(out)
}

// ValidateResponse: a webhook node answers with its configured body, by
// default {"message":"Workflow was started"}.
func (N8NFormatter) ValidateResponse(_ int, body []byte) (bool, error) {
	return len(truncateBody(body)) > 0, nil
}
