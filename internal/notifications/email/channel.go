package email

import (
	"context"
	"net/mail"

	"alertflow/internal/external"
	"alertflow/internal/notifications/core"
	"alertflow/internal/types"
)

var _ types.ChannelAdapter = (*Channel)(nil)

// Sender is the From identity used when a channel does not override it.
type Sender struct {
	Address string
	Name    string
}

// Channel is the email ChannelAdapter.
type Channel struct {
	provider external.EmailProvider
	renderer *Renderer
	sender   Sender
	logger   types.Logger
}

// NewChannel creates a Channel.
func NewChannel(provider external.EmailProvider, renderer *Renderer, sender Sender, logger types.Logger) *Channel {
	return &Channel{
		provider: provider,
		renderer: renderer,
		sender:   sender,
		logger:   logger,
	}
}

func (c *Channel) Type() types.ChannelType {
	return types.ChannelEmail
}

// ValidateConfig requires a parseable "address". "from_name" is optional.
func (c *Channel) ValidateConfig(cfg types.ChannelConfig) error {
	addr := cfg.String("address")
	if addr == "" {
		return &types.ConfigurationError{Field: "channel_configuration.address", Reason: "is required"}
	}
	if _, err := mail.ParseAddress(addr); err != nil {
		return &types.ConfigurationError{Field: "channel_configuration.address", Reason: "is not a valid email address"}
	}
	return nil
}

// Send renders and transmits one email. payload.Destination, when set,
// replaces the channel's address.
func (c *Channel) Send(ctx context.Context, ch *types.AlertChannel, payload *types.RenderedPayload) *types.DeliveryOutcome {
	var cfg types.ChannelConfig
	if ch != nil {
		cfg = ch.Config
	}
	to := payload.Destination
	if to == "" {
		to = cfg.String("address")
	}
	if to == "" {
		return core.OutcomeFromError("", types.NewPermanentError("no email address for recipient", nil))
	}

	rendered, err := c.renderer.Render(payload)
	if err != nil {
		c.logger.Error("email render failed", "dispatch_id", payload.DispatchID, "error", err.Error())
		return core.OutcomeFromError("", types.NewPermanentError("render email", err))
	}

	fromName := cfg.String("from_name")
	if fromName == "" {
		fromName = c.sender.Name
	}

	msgID, err := c.provider.Send(ctx, external.EmailMessage{
		To:          to,
		FromName:    fromName,
		FromAddress: c.sender.Address,
		Subject:     rendered.Subject,
		BodyText:    rendered.BodyText,
		BodyHTML:    rendered.BodyHTML,
		ReferenceID: payload.DispatchID,
	})
	if err != nil {
		if IsBlocklistError(err) {
			c.logger.Warn("recipient blocked by email provider", "dest", RedactEmail(to), "dispatch_id", payload.DispatchID)
			return &types.DeliveryOutcome{Status: types.NotificationFailed, FailureReason: "address_blocked"}
		}
		c.logger.Warn("email send failed", "dest", RedactEmail(to), "error", err.Error())
		return core.OutcomeFromError("", err)
	}

	c.logger.Info("email sent", "dest", RedactEmail(to), "provider_message_id", msgID)
	return core.OutcomeFromError(msgID, nil)
}
