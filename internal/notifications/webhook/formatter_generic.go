package webhook

import (
	"encoding/json"
	"fmt"

	"alertflow/internal/types"
)

// GenericFormatter sends the GenericPayload envelope.
type GenericFormatter struct{}

func (GenericFormatter) Format(p *types.RenderedPayload, _ types.ChannelConfig) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("generic formatter: payload is nil")
	}
	return json.Marshal(GenericPayload{
		Kind:           "alert",
		Title:          p.Title,
		Description:    p.Description,
		Severity:       p.Severity,
		Timestamp:      formatTimestamp(p.Timestamp),
		EventType:      p.EventType,
		CameraID:       p.CameraID,
		DispatchID:     p.DispatchID,
		WorkflowName:   p.WorkflowName,
		OrganizationID: p.OrganizationID,
	})
}

// ValidateResponse treats any non-empty body as a receipt.
func (GenericFormatter) ValidateResponse(_ int, body []byte) (bool, error) {
	return len(truncateBody(body)) > 0, nil
}
