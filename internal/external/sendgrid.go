package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"alertflow/internal/types"
)

const sendGridAPIBase = "https://api.sendgrid.com"

// SendGridClient sends email through the v3 Mail Send API over BaseClient.
type SendGridClient struct {
	base    *BaseClient
	apiKey  types.SecretString
	baseURL string
	logger  *slog.Logger
}

// NewSendGridClient builds a client. baseURL may be empty.
func NewSendGridClient(base *BaseClient, apiKey types.SecretString, baseURL string, logger *slog.Logger) *SendGridClient {
	if baseURL == "" {
		baseURL = sendGridAPIBase
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SendGridClient{base: base, apiKey: apiKey, baseURL: strings.TrimSuffix(baseURL, "/"), logger: logger}
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
}

type sendGridMail struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
	CustomArgs       map[string]string         `json:"custom_args,omitempty"`
}

func buildSendGridMail(msg EmailMessage) sendGridMail {
	m := sendGridMail{
		Personalizations: []sendGridPersonalization{{To: []sendGridAddress{{Email: msg.To}}}},
		From:             sendGridAddress{Email: msg.FromAddress, Name: msg.FromName},
		Subject:          msg.Subject,
	}

	// text/plain must precede text/html.
	if msg.BodyText != "" {
		m.Content = append(m.Content, sendGridContent{Type: "text/plain", Value: msg.BodyText})
	}
	if msg.BodyHTML != "" {
		m.Content = append(m.Content, sendGridContent{Type: "text/html", Value: msg.BodyHTML})
	}
	if len(m.Content) == 0 {
		m.Content = []sendGridContent{{Type: "text/plain", Value: msg.Subject}}
	}
	if msg.ReferenceID != "" {
		m.CustomArgs = map[string]string{"dispatch_id": msg.ReferenceID}
	}
	return m
}

// Send posts msg and returns the X-Message-Id header on 202.
func (s *SendGridClient) Send(ctx context.Context, msg EmailMessage) (string, error) {
	body, err := json.Marshal(buildSendGridMail(msg))
	if err != nil {
		return "", permanentAppError(types.ErrCodeInternalUnexpected, "failed to encode SendGrid mail", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return "", permanentAppError(types.ErrCodeInternalUnexpected, "failed to build SendGrid request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey.Unmask())

	resp, err := s.base.Do(req)
	if err != nil {
		return "", err
	}
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		id := resp.Header.Get("X-Message-Id")
		resp.Body.Close()
		return id, nil
	}

	status := resp.StatusCode
	reason := sendGridErrorMessage(readBody(resp, 4096))
	switch status {
	case http.StatusUnauthorized:
		return "", permanentAppError(types.ErrCodeInvalidCredentials, "SendGrid rejected the API key", nil)
	case http.StatusForbidden:
		return "", permanentAppError(types.ErrCodeEmailBlocked, "SendGrid blocked delivery: "+reason, nil)
	default:
		return "", permanentAppError(types.ErrCodeUpstreamEmailProvider, fmt.Sprintf("SendGrid error (%d): %s", status, reason), nil)
	}
}

func sendGridErrorMessage(body []byte) string {
	var parsed struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if json.Unmarshal(body, &parsed) == nil && len(parsed.Errors) > 0 {
		return parsed.Errors[0].Message
	}
	return strings.TrimSpace(string(body))
}

var _ EmailProvider = (*SendGridClient)(nil)
