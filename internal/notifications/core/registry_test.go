package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"alertflow/internal/types"
)

type stubSettings struct {
	timeout time.Duration
	rpm     int
}

func (s stubSettings) ProviderTimeout(string) time.Duration { return s.timeout }
func (s stubSettings) ProviderRPM(string) int               { return s.rpm }

type stubAdapter struct {
	typ       types.ChannelType
	send      func(ctx context.Context) *types.DeliveryOutcome
	configErr error
}

func (a *stubAdapter) Type() types.ChannelType { return a.typ }

func (a *stubAdapter) ValidateConfig(types.ChannelConfig) error { return a.configErr }

func (a *stubAdapter) Send(ctx context.Context, _ *types.AlertChannel, _ *types.RenderedPayload) *types.DeliveryOutcome {
	return a.send(ctx)
}

func newTestRegistry(timeout time.Duration, adapters ...types.ChannelAdapter) *Registry {
	r := NewRegistry(stubSettings{timeout: timeout}, NewProviderLimiter(), nil, types.RealClock{}, &mockLogger{})
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

func slackChannel() *types.AlertChannel {
	return &types.AlertChannel{ID: "ch_1", ChannelType: types.ChannelSlack, IsActive: true}
}

func TestRegistry_SendSuccess(t *testing.T) {
	r := newTestRegistry(time.Second, &stubAdapter{
		typ: types.ChannelSlack,
		send: func(context.Context) *types.DeliveryOutcome {
			return &types.DeliveryOutcome{Status: types.NotificationSent, ProviderMessageID: "m1"}
		},
	})
	out := r.Send(context.Background(), slackChannel(), &types.RenderedPayload{Title: "t"})
	if !out.Succeeded() || out.ProviderMessageID != "m1" {
		t.Errorf("unexpected outcome %+v", out)
	}
}

func TestRegistry_UnknownType(t *testing.T) {
	r := newTestRegistry(time.Second)
	out := r.Send(context.Background(), slackChannel(), &types.RenderedPayload{})
	if out.Succeeded() || out.Retryable {
		t.Errorf("expected permanent failure, got %+v", out)
	}
}

func TestRegistry_TimeoutIsRetryable(t *testing.T) {
	r := newTestRegistry(20*time.Millisecond, &stubAdapter{
		typ: types.ChannelSlack,
		send: func(ctx context.Context) *types.DeliveryOutcome {
			<-ctx.Done()
			return &types.DeliveryOutcome{Status: types.NotificationFailed, FailureReason: "ctx done"}
		},
	})
	out := r.Send(context.Background(), slackChannel(), &types.RenderedPayload{})
	if out.Succeeded() || !out.Retryable {
		t.Fatalf("expected retryable failure, got %+v", out)
	}
	if !strings.Contains(out.FailureReason, "timed out") {
		t.Errorf("reason = %q", out.FailureReason)
	}
}

func TestRegistry_ParentCancelIsNotTimeout(t *testing.T) {
	r := newTestRegistry(time.Second, &stubAdapter{
		typ: types.ChannelSlack,
		send: func(ctx context.Context) *types.DeliveryOutcome {
			<-ctx.Done()
			return &types.DeliveryOutcome{Status: types.NotificationFailed}
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	out := r.Send(ctx, slackChannel(), &types.RenderedPayload{})
	if out.Retryable || !strings.HasPrefix(out.FailureReason, "send cancelled") {
		t.Errorf("unexpected outcome %+v", out)
	}
}

func TestRegistry_AdapterPanicIsContained(t *testing.T) {
	r := newTestRegistry(time.Second, &stubAdapter{
		typ:  types.ChannelSlack,
		send: func(context.Context) *types.DeliveryOutcome { panic("boom") },
	})
	out := r.Send(context.Background(), slackChannel(), &types.RenderedPayload{})
	if out.Succeeded() || !strings.Contains(out.FailureReason, "boom") {
		t.Errorf("unexpected outcome %+v", out)
	}
}

func TestRegistry_BucketFor(t *testing.T) {
	r := NewRegistry(stubSettings{timeout: time.Second, rpm: 30}, NewProviderLimiter(), nil, types.RealClock{}, &mockLogger{})

	key, rpm := r.bucketFor(slackChannel())
	if key != "provider:slack" || rpm != 30 {
		t.Errorf("provider bucket = %s/%d", key, rpm)
	}

	ch := slackChannel()
	ch.Config = types.ChannelConfig{"rate_limits": map[string]any{"requests_per_minute": float64(5)}}
	key, rpm = r.bucketFor(ch)
	if key != "channel:ch_1" || rpm != 5 {
		t.Errorf("channel bucket = %s/%d", key, rpm)
	}
}

func TestRegistry_ValidateConfig(t *testing.T) {
	r := newTestRegistry(time.Second, &stubAdapter{typ: types.ChannelWebhook, configErr: errors.New("url required")})

	err := r.ValidateConfig(types.ChannelWebhook, types.ChannelConfig{})
	var ce *types.ConfigurationError
	if !errors.As(err, &ce) || ce.Field != "channel_configuration" {
		t.Errorf("expected wrapped ConfigurationError, got %v", err)
	}

	err = r.ValidateConfig(types.ChannelIoT, types.ChannelConfig{})
	if !errors.As(err, &ce) || ce.Field != "channel_type" {
		t.Errorf("expected channel_type error, got %v", err)
	}
}
