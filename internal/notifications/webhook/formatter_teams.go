package webhook

import (
	"encoding/json"
	"fmt"

	"alertflow/internal/types"
)

// TeamsFormatter builds an Adaptive Card for Teams workflow webhooks.
type TeamsFormatter struct{}

func (TeamsFormatter) Format(p *types.RenderedPayload, _ types.ChannelConfig) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("teams formatter: payload is nil")
	}

	body := []AdaptiveItem{{
		Type:   "TextBlock",
		Text:   p.Title,
		Size:   "Large",
		Weight: "Bolder",
		Color:  teamsColor(p.Severity),
		Wrap:   true,
	}}
	if p.Description != "" {
		body = append(body, AdaptiveItem{Type: "TextBlock", Text: p.Description, Wrap: true})
	}

	facts := []Fact{{Title: "Severity", Value: severityLabel(p.Severity)}}
	if p.EventType != "" {
		facts = append(facts, Fact{Title: "Event", Value: p.EventType})
	}
	if p.CameraID != "" {
		facts = append(facts, Fact{Title: "Camera", Value: p.CameraID})
	}
	if ts := formatTimestamp(p.Timestamp); ts != "" {
		facts = append(facts, Fact{Title: "Time", Value: ts})
	}
	if p.WorkflowName != "" {
		facts = append(facts, Fact{Title: "Workflow", Value: p.WorkflowName})
	}
	body = append(body, AdaptiveItem{Type: "FactSet", Facts: facts})

	if p.DispatchID != "" {
		body = append(body, AdaptiveItem{Type: "TextBlock", Text: "Dispatch " + p.DispatchID, Size: "Small", Wrap: true})
	}

	return json.Marshal(TeamsPayload{
		Type: "message",
		Attachments: []TeamsAttachment{{
			ContentType: "application/vnd.microsoft.card.adaptive",
			Content:     AdaptiveCard{Type: "AdaptiveCard", Version: "1.4", Body: body},
		}},
	})
}

// ValidateResponse: Power Automate answers 202 with an empty body, which
// confirms queueing but not delivery.
func (TeamsFormatter) ValidateResponse(_ int, body []byte) (bool, error) {
	return false, nil
}
