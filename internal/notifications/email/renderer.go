// Package email delivers alert notifications by email through an
// external.EmailProvider (SES v2 or SendGrid).
package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"alertflow/internal/types"
)

//go:embed templates/*.html templates/*.txt
var templateFS embed.FS

// RenderedEmail holds the subject and both bodies of one message.
type RenderedEmail struct {
	Subject  string
	BodyHTML string
	BodyText string
}

type templateData struct {
	Subject       string
	Title         string
	Description   string
	SeverityLabel string
	SeverityColor string
	EventType     string
	CameraID      string
	Timestamp     string
	WorkflowName  string
	DispatchID    string
}

var severityColors = map[types.Severity]string{
	types.SeverityCritical: "#b91c1c",
	types.SeverityHigh:     "#dc2626",
	types.SeverityMedium:   "#d97706",
	types.SeverityLow:      "#2563eb",
}

// Renderer turns rendered payloads into email bodies. HTML output is
// auto-escaped by html/template.
type Renderer struct {
	html     *template.Template
	text     *texttemplate.Template
	location *time.Location
}

// NewRenderer parses the embedded templates. Timestamps are shown in loc,
// or UTC when loc is nil.
func NewRenderer(loc *time.Location) (*Renderer, error) {
	if loc == nil {
		loc = time.UTC
	}
	html, err := template.ParseFS(templateFS, "templates/alert.html")
	if err != nil {
		return nil, fmt.Errorf("email renderer: parse html: %w", err)
	}
	text, err := texttemplate.ParseFS(templateFS, "templates/alert.txt")
	if err != nil {
		return nil, fmt.Errorf("email renderer: parse text: %w", err)
	}
	return &Renderer{html: html, text: text, location: loc}, nil
}

// Render builds the message for p.
func (r *Renderer) Render(p *types.RenderedPayload) (*RenderedEmail, error) {
	if p == nil {
		return nil, fmt.Errorf("email renderer: payload is nil")
	}

	label := strings.ToUpper(string(p.Severity))
	if label == "" {
		label = "ALERT"
	}
	data := templateData{
		Subject:       fmt.Sprintf("[%s] %s", label, p.Title),
		Title:         p.Title,
		Description:   p.Description,
		SeverityLabel: label,
		SeverityColor: severityColors[p.Severity],
		EventType:     p.EventType,
		CameraID:      p.CameraID,
		WorkflowName:  p.WorkflowName,
		DispatchID:    p.DispatchID,
	}
	if data.SeverityColor == "" {
		data.SeverityColor = "#52606d"
	}
	if !p.Timestamp.IsZero() {
		data.Timestamp = p.Timestamp.In(r.location).Format("Mon, 02 Jan 2006 15:04 MST")
	}

	var htmlBuf, textBuf bytes.Buffer
	if err := r.html.Execute(&htmlBuf, data); err != nil {
		return nil, fmt.Errorf("email renderer: execute html: %w", err)
	}
	if err := r.text.Execute(&textBuf, data); err != nil {
		return nil, fmt.Errorf("email renderer: execute text: %w", err)
	}

	return &RenderedEmail{
		Subject:  data.Subject,
		BodyHTML: htmlBuf.String(),
		BodyText: strings.TrimSpace(textBuf.String()) + "\n",
	}, nil
}
