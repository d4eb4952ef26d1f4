// Package sms delivers alert notifications as text messages through an
// external.SMSProvider (AWS SNS).
package sms

import (
	"context"
	"strings"
	"unicode/utf8"

	"alertflow/internal/external"
	"alertflow/internal/notifications/core"
	"alertflow/internal/types"
)

var _ types.ChannelAdapter = (*Channel)(nil)

// DefaultMaxChars is used when no positive limit is configured.
const DefaultMaxChars = 480

type Channel struct {
	provider external.SMSProvider
	maxChars int
	logger   types.Logger
}

// NewChannel creates a Channel.
func NewChannel(provider external.SMSProvider, maxChars int, logger types.Logger) *Channel {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Channel{provider: provider, maxChars: maxChars, logger: logger}
}

func (c *Channel) Type() types.ChannelType {
	return types.ChannelSMS
}

// ValidateConfig requires an E.164 "phone_number".
func (c *Channel) ValidateConfig(cfg types.ChannelConfig) error {
	phone := cfg.String("phone_number")
	if phone == "" {
		return &types.ConfigurationError{Field: "channel_configuration.phone_number", Reason: "is required"}
	}
	if !external.ValidPhoneNumber(phone) {
		return &types.ConfigurationError{Field: "channel_configuration.phone_number", Reason: "must be in E.164 format"}
	}
	return nil
}

func (c *Channel) Send(ctx context.Context, ch *types.AlertChannel, payload *types.RenderedPayload) *types.DeliveryOutcome {
	var cfg types.ChannelConfig
	if ch != nil {
		cfg = ch.Config
	}
	phone := payload.Destination
	if phone == "" {
		phone = cfg.String("phone_number")
	}
	if !external.ValidPhoneNumber(phone) {
		return core.OutcomeFromError("", types.NewPermanentError("no valid phone number for recipient", nil))
	}

	body := Compose(payload, c.maxChars)
	msgID, err := c.provider.SendSMS(ctx, phone, body)
	if err != nil {
		c.logger.Warn("sms send failed", "dest", RedactPhone(phone), "error", err.Error())
		return core.OutcomeFromError("", err)
	}
	c.logger.Info("sms sent", "dest", RedactPhone(phone), "provider_message_id", msgID, "chars", utf8.RuneCountInString(body))
	return core.OutcomeFromError(msgID, nil)
}

// Compose builds "[SEVERITY] title: description" and truncates it to
// maxChars runes, ending with "..." when cut.
func Compose(p *types.RenderedPayload, maxChars int) string {
	var b strings.Builder
	if p.Severity != "" {
		b.WriteString("[" + strings.ToUpper(string(p.Severity)) + "] ")
	}
	b.WriteString(p.Title)
	if d := strings.TrimSpace(p.Description); d != "" {
		b.WriteString(": ")
		b.WriteString(d)
	}
	return truncate(b.String(), maxChars)
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	if maxChars <= 3 {
		return string([]rune(s)[:maxChars])
	}
	return string([]rune(s)[:maxChars-3]) + "..."
}

// RedactPhone keeps the last four digits: "+15551234567" -> "***4567".
func RedactPhone(phone string) string {
	if len(phone) <= 4 {
		return "***"
	}
	return "***" + phone[len(phone)-4:]
}
