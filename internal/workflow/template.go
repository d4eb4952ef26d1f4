package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"alertflow/internal/types"
)

// placeholderPattern matches {{ scope.field }}.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_]+\.[a-zA-Z_]+)\s*\}\}`)

// KnownPlaceholders lists every substitution the renderer supports.
var KnownPlaceholders = []string{
	"event.id", "event.type", "event.severity", "event.confidence",
	"event.description", "event.timestamp", "event.organization_id",
	"camera.id", "camera.name", "camera.location",
	"dispatch.id", "workflow.name",
}

var knownPlaceholderSet = func() map[string]bool {
	m := make(map[string]bool, len(KnownPlaceholders))
	for _, p := range KnownPlaceholders {
		m[p] = true
	}
	return m
}()

// TemplateData is the context a template renders against.
type TemplateData struct {
	Event        *types.Event
	DispatchID   string
	WorkflowName string
}

func (d TemplateData) lookup(key string) (string, bool) {
	e := d.Event
	if e == nil {
		e = &types.Event{}
	}
	switch key {
	case "event.id":
		return e.ID, true
	case "event.type":
		return e.EventType, true
	case "event.severity":
		return string(e.Severity), true
	case "event.confidence":
		return strconv.FormatFloat(e.Confidence, 'f', -1, 64), true
	case "event.description":
		return e.Description, true
	case "event.timestamp":
		if e.Timestamp.IsZero() {
			return "", true
		}
		return e.Timestamp.UTC().Format(time.RFC3339), true
	case "event.organization_id":
		return e.OrganizationID, true
	case "camera.id":
		return e.CameraID, true
	case "camera.name":
		return e.CameraName, true
	case "camera.location":
		return e.CameraLocation, true
	case "dispatch.id":
		return d.DispatchID, true
	case "workflow.name":
		return d.WorkflowName, true
	}
	return "", false
}

// UnknownPlaceholders returns the placeholders in tmpl that the renderer does
// not support, in order of appearance.
func UnknownPlaceholders(tmpl string) []string {
	var out []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(tmpl, -1) {
		if !knownPlaceholderSet[m[1]] {
			out = append(out, m[1])
		}
	}
	return out
}

// RenderText substitutes placeholders with raw values. Unsupported
// placeholders are left as written.
func RenderText(tmpl string, data TemplateData) string {
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		v, ok := data.lookup(key)
		if !ok {
			return match
		}
		return v
	})
}

// RenderJSON substitutes JSON-escaped values, so event content can never
// break out of a string literal, and checks that the result is valid JSON.
func RenderJSON(tmpl string, data TemplateData) ([]byte, error) {
	out := placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		v, ok := data.lookup(key)
		if !ok {
			return match
		}
		return jsonEscape(v)
	})
	if !json.Valid([]byte(out)) {
		return nil, fmt.Errorf("rendered payload is not valid JSON")
	}
	return []byte(out), nil
}

// jsonEscape returns s encoded as the inside of a JSON string literal.
func jsonEscape(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	b := bytes.TrimSpace(buf.Bytes())
	return string(b[1 : len(b)-1])
}

// Default templates used when an action leaves them empty.
const (
	DefaultTitleTemplate   = "[{{event.severity}}] {{event.type}}"
	DefaultMessageTemplate = "{{event.description}} (camera {{camera.name}}, {{camera.location}}) at {{event.timestamp}}"
)

// RenderPayload builds the adapter payload for an action.
func RenderPayload(titleTmpl, messageTmpl string, data TemplateData) *types.RenderedPayload {
	if titleTmpl == "" {
		titleTmpl = DefaultTitleTemplate
	}
	if messageTmpl == "" {
		messageTmpl = DefaultMessageTemplate
	}
	p := &types.RenderedPayload{
		Title:        RenderText(titleTmpl, data),
		Description:  RenderText(messageTmpl, data),
		DispatchID:   data.DispatchID,
		WorkflowName: data.WorkflowName,
	}
	if e := data.Event; e != nil {
		p.Severity = e.Severity
		p.Timestamp = e.Timestamp
		p.EventType = e.EventType
		p.CameraID = e.CameraID
		p.OrganizationID = e.OrganizationID
	}
	return p
}
