package webhook

import (
	"encoding/json"
	"fmt"
	"strings"

	"alertflow/internal/types"
)

// SlackFormatter builds Block Kit messages for incoming webhooks.
type SlackFormatter struct{}

func (SlackFormatter) Format(p *types.RenderedPayload, _ types.ChannelConfig) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("slack formatter: payload is nil")
	}

	payload := SlackPayload{
		Text: fmt.Sprintf("[%s] %s", severityLabel(p.Severity), p.Title),
		Blocks: []SlackBlock{
			{
				Type: "header",
				Text: &SlackText{Type: "plain_text", Text: headerText(slackEmoji(p.Severity) + " " + p.Title)},
			},
		},
	}
	if p.Description != "" {
		payload.Blocks = append(payload.Blocks, SlackBlock{
			Type: "section",
			Text: &SlackText{Type: "mrkdwn", Text: p.Description},
		})
	}

	fields := []*SlackText{{Type: "mrkdwn", Text: "*Severity*\n" + string(p.Severity)}}
	if p.EventType != "" {
		fields = append(fields, &SlackText{Type: "mrkdwn", Text: "*Event*\n" + p.EventType})
	}
	if p.CameraID != "" {
		fields = append(fields, &SlackText{Type: "mrkdwn", Text: "*Camera*\n" + p.CameraID})
	}
	if ts := formatTimestamp(p.Timestamp); ts != "" {
		fields = append(fields, &SlackText{Type: "mrkdwn", Text: "*Time*\n" + ts})
	}
	payload.Blocks = append(payload.Blocks, SlackBlock{Type: "section", Fields: fields})

	footer := "AlertFlow"
	if p.WorkflowName != "" {
		footer = fmt.Sprintf("Workflow *%s* | AlertFlow", p.WorkflowName)
	}
	if p.DispatchID != "" {
		footer += " | dispatch `" + p.DispatchID + "`"
	}
	payload.Blocks = append(payload.Blocks, SlackBlock{
		Type:     "context",
		Elements: []*SlackText{{Type: "mrkdwn", Text: footer}},
	})

	return json.Marshal(payload)
}

var slackKnownErrors = map[string]bool{
	"no_text":             true,
	"invalid_payload":     true,
	"channel_not_found":   true,
	"channel_is_archived": true,
	"no_service":          true,
	"invalid_token":       true,
	"action_prohibited":   true,
}

// ValidateResponse catches Slack's 200-with-error replies. The plain "ok"
// body confirms receipt.
func (SlackFormatter) ValidateResponse(_ int, body []byte) (bool, error) {
	text := strings.TrimSpace(string(body))
	if text == "ok" {
		return true, nil
	}
	if slackKnownErrors[text] {
		return false, fmt.Errorf("slack: %s", text)
	}

	var resp struct {
		OK    *bool  `json:"ok"`
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &resp) == nil && resp.OK != nil {
		if !*resp.OK {
			if resp.Error == "" {
				resp.Error = "unknown error"
			}
			return false, fmt.Errorf("slack: %s", resp.Error)
		}
		return true, nil
	}
	return false, nil
}
