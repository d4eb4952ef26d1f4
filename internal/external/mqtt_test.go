package external

import (
	"context"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"alertflow/internal/types"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { <-t.done; return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

// fakeMQTT overrides the calls MQTTBus makes; the embedded interface panics
// on anything else.
type fakeMQTT struct {
	mqtt.Client
	connected bool
	token     mqtt.Token
	topic     string
	qos       byte
	payload   []byte
}

func (f *fakeMQTT) IsConnectionOpen() bool { return f.connected }
func (f *fakeMQTT) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	f.topic, f.qos, f.payload = topic, qos, payload.([]byte)
	return f.token
}

func TestMQTTBusPublish(t *testing.T) {
	client := &fakeMQTT{connected: true, token: completedToken(nil)}
	bus := NewMQTTBus(client, 1, nil)

	if err := bus.Publish(context.Background(), "devices/siren-1/commands", []byte(`{"command":"on"}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if client.topic != "devices/siren-1/commands" || client.qos != 1 || string(client.payload) != `{"command":"on"}` {
		t.Errorf("published %s qos=%d %s", client.topic, client.qos, client.payload)
	}
}

func TestMQTTBusPublish_Failures(t *testing.T) {
	disconnected := NewMQTTBus(&fakeMQTT{connected: false}, 1, nil)
	if err := disconnected.Publish(context.Background(), "t", nil); !types.IsTransient(err) {
		t.Errorf("disconnected: got %v", err)
	}

	failing := NewMQTTBus(&fakeMQTT{connected: true, token: completedToken(errors.New("not authorized"))}, 1, nil)
	if err := failing.Publish(context.Background(), "t", []byte("x")); err == nil {
		t.Error("token error should surface")
	}

	pending := &fakeToken{done: make(chan struct{})}
	stuck := NewMQTTBus(&fakeMQTT{connected: true, token: pending}, 1, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := stuck.Publish(ctx, "t", []byte("x")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
}
