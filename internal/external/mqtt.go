package external

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"alertflow/internal/types"
)

// MQTTSettings configures the broker connection.
type MQTTSettings struct {
	Broker         string
	ClientID       string
	Username       string
	Password       types.SecretString
	QoS            byte
	ConnectTimeout time.Duration
}

// MQTTBus publishes device commands to an MQTT broker.
type MQTTBus struct {
	client mqtt.Client
	qos    byte
	logger *slog.Logger
}

// DialMQTT connects to the broker with auto-reconnect enabled.
func DialMQTT(s MQTTSettings, logger *slog.Logger) (*MQTTBus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := mqtt.NewClientOptions().
		AddBroker(s.Broker).
		SetClientID(s.ClientID).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetConnectTimeout(s.ConnectTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("mqtt connection lost", "error", err)
		})
	if s.Username != "" {
		opts.SetUsername(s.Username)
	}
	if s.Password.IsSet() {
		opts.SetPassword(s.Password.Unmask())
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(s.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out after %s", s.Broker, s.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", s.Broker, err)
	}
	return NewMQTTBus(client, s.QoS, logger), nil
}

// NewMQTTBus wraps an already configured client.
func NewMQTTBus(client mqtt.Client, qos byte, logger *slog.Logger) *MQTTBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTBus{client: client, qos: qos, logger: logger}
}

// Publish sends payload and waits for the broker acknowledgment or ctx.
// A disconnected client is a transient failure.
func (b *MQTTBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if !b.client.IsConnectionOpen() {
		return transientAppError(types.ErrCodeUpstreamCollaborator, "mqtt client is not connected", nil)
	}
	token := b.client.Publish(topic, b.qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return transientAppError(types.ErrCodeUpstreamCollaborator, "mqtt publish abandoned", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return transientAppError(types.ErrCodeUpstreamCollaborator, "mqtt publish to "+topic+" failed", err)
	}
	return nil
}

// Ping reports whether the connection is up.
func (b *MQTTBus) Ping(context.Context) error {
	if !b.client.IsConnectionOpen() {
		return fmt.Errorf("mqtt client is not connected")
	}
	return nil
}

// Close disconnects, allowing in-flight work 250ms to finish.
func (b *MQTTBus) Close() {
	b.client.Disconnect(250)
}

var _ CommandBus = (*MQTTBus)(nil)
