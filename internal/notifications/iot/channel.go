// Package iot delivers alerts and device commands over the MQTT command bus.
package iot

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"alertflow/internal/external"
	"alertflow/internal/notifications/core"
	"alertflow/internal/types"
)

var _ types.ChannelAdapter = (*Channel)(nil)

var deviceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,128}$`)

// Command is the JSON document published to a device topic.
type Command struct {
	CommandID  string         `json:"command_id"`
	Command    string         `json:"command"`
	DeviceID   string         `json:"device_id,omitempty"`
	DispatchID string         `json:"dispatch_id,omitempty"`
	Severity   types.Severity `json:"severity,omitempty"`
	Title      string         `json:"title,omitempty"`
	Message    string         `json:"message,omitempty"`
	IssuedAt   string         `json:"issued_at"`
}

// Channel publishes to "<prefix>/<device_id>/commands" unless the channel
// configures an explicit "topic".
type Channel struct {
	bus         external.CommandBus
	topicPrefix string
	clock       types.Clock
	logger      types.Logger
}

// NewChannel creates a Channel.
func NewChannel(bus external.CommandBus, topicPrefix string, logger types.Logger) *Channel {
	return &Channel{
		bus:         bus,
		topicPrefix: strings.TrimSuffix(topicPrefix, "/"),
		clock:       types.RealClock{},
		logger:      logger,
	}
}

func (c *Channel) SetClock(clock types.Clock) {
	c.clock = clock
}

func (c *Channel) Type() types.ChannelType {
	return types.ChannelIoT
}

// ValidateConfig requires "device_id" or "topic". Topics may not contain
// MQTT wildcards.
func (c *Channel) ValidateConfig(cfg types.ChannelConfig) error {
	device, topic := cfg.String("device_id"), cfg.String("topic")
	if device == "" && topic == "" {
		return &types.ConfigurationError{Field: "channel_configuration.device_id", Reason: "device_id or topic is required"}
	}
	if device != "" && !deviceIDPattern.MatchString(device) {
		return &types.ConfigurationError{Field: "channel_configuration.device_id", Reason: "contains invalid characters"}
	}
	if topic != "" && !ValidTopic(topic) {
		return &types.ConfigurationError{Field: "channel_configuration.topic", Reason: "must not contain wildcards or empty levels"}
	}
	return nil
}

// Send publishes payload.Raw verbatim when set, otherwise an "alert" Command
// built from the payload. payload.Destination overrides the topic.
func (c *Channel) Send(ctx context.Context, ch *types.AlertChannel, payload *types.RenderedPayload) *types.DeliveryOutcome {
	var cfg types.ChannelConfig
	if ch != nil {
		cfg = ch.Config
	}
	topic := payload.Destination
	if topic == "" {
		topic = c.TopicFor(cfg.String("device_id"), cfg.String("topic"))
	}
	if !ValidTopic(topic) {
		return core.OutcomeFromError("", types.NewPermanentError("no valid MQTT topic", nil))
	}

	commandID := uuid.NewString()
	body := payload.Raw
	if body == nil {
		cmd := Command{
			CommandID:  commandID,
			Command:    "alert",
			DeviceID:   cfg.String("device_id"),
			DispatchID: payload.DispatchID,
			Severity:   payload.Severity,
			Title:      payload.Title,
			Message:    payload.Description,
			IssuedAt:   c.clock.Now().UTC().Format(time.RFC3339),
		}
		var err error
		if body, err = json.Marshal(cmd); err != nil {
			return core.OutcomeFromError("", types.NewPermanentError("encode command", err))
		}
	}

	if err := c.bus.Publish(ctx, topic, body); err != nil {
		c.logger.Warn("iot publish failed", "topic", topic, "error", err.Error())
		return core.OutcomeFromError("", err)
	}
	c.logger.Info("iot command published", "topic", topic, "command_id", commandID)
	return core.OutcomeFromError(commandID, nil)
}

// TopicFor resolves the publish topic for a device or explicit topic.
func (c *Channel) TopicFor(deviceID, topic string) string {
	if topic != "" {
		return topic
	}
	if deviceID == "" {
		return ""
	}
	return c.topicPrefix + "/" + deviceID + "/commands"
}

// ValidTopic rejects empty topics, wildcards and empty levels.
func ValidTopic(topic string) bool {
	if topic == "" || strings.ContainsAny(topic, "+#\x00") {
		return false
	}
	for _, level := range strings.Split(topic, "/") {
		if level == "" {
			return false
		}
	}
	return true
}
