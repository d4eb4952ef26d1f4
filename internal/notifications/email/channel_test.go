package email

import (
	"context"
	"errors"
	"testing"

	"alertflow/internal/external"
	"alertflow/internal/types"
)

type mockLogger struct{}

func (m *mockLogger) Info(msg string, args ...any)  {}
func (m *mockLogger) Error(msg string, args ...any) {}
func (m *mockLogger) Warn(msg string, args ...any)  {}
func (m *mockLogger) With(args ...any) types.Logger { return m }

type mockEmailProvider struct {
	calls int
	last  external.EmailMessage
	msgID string
	err   error
}

func (m *mockEmailProvider) Send(ctx context.Context, msg external.EmailMessage) (string, error) {
	m.calls++
	m.last = msg
	return m.msgID, m.err
}

func newTestChannel(t *testing.T, p *mockEmailProvider) *Channel {
	t.Helper()
	r, err := NewRenderer(nil)
	if err != nil {
		t.Fatal(err)
	}
	return NewChannel(p, r, Sender{Address: "alerts@alertflow.test", Name: "AlertFlow"}, &mockLogger{})
}

func emailChannel(addr string) *types.AlertChannel {
	return &types.AlertChannel{ID: "ch-e", ChannelType: types.ChannelEmail, Config: types.ChannelConfig{"address": addr}}
}

func TestChannel_ValidateConfig(t *testing.T) {
	c := newTestChannel(t, &mockEmailProvider{})
	tests := []struct {
		name    string
		cfg     types.ChannelConfig
		wantErr bool
	}{
		{"valid", types.ChannelConfig{"address": "ops@example.com"}, false},
		{"display name form", types.ChannelConfig{"address": "Ops <ops@example.com>"}, false},
		{"missing", types.ChannelConfig{}, true},
		{"wrong type", types.ChannelConfig{"address": 42}, true},
		{"malformed", types.ChannelConfig{"address": "not-an-address"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.ValidateConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			var ce *types.ConfigurationError
			if err != nil && !errors.As(err, &ce) {
				t.Errorf("expected ConfigurationError, got %T", err)
			}
		})
	}
}

func TestChannel_SendSuccess(t *testing.T) {
	p := &mockEmailProvider{msgID: "ses-1"}
	c := newTestChannel(t, p)

	out := c.Send(context.Background(), emailChannel("ops@example.com"), alertPayload())
	if out.Status != types.NotificationSent || out.ProviderMessageID != "ses-1" {
		t.Fatalf("outcome = %+v", out)
	}
	if p.last.To != "ops@example.com" || p.last.FromAddress != "alerts@alertflow.test" || p.last.FromName != "AlertFlow" {
		t.Errorf("message = %+v", p.last)
	}
	if p.last.ReferenceID != "dsp-9" || p.last.Subject != "[CRITICAL] Smoke detected in Lab 2" {
		t.Errorf("message = %+v", p.last)
	}
}

func TestChannel_RecipientDestinationAndFromName(t *testing.T) {
	p := &mockEmailProvider{msgID: "m"}
	c := newTestChannel(t, p)
	ch := emailChannel("team@example.com")
	ch.Config["from_name"] = "Site Security"
	payload := alertPayload()
	payload.Destination = "alice@example.com"

	c.Send(context.Background(), ch, payload)
	if p.last.To != "alice@example.com" || p.last.FromName != "Site Security" {
		t.Errorf("message = %+v", p.last)
	}
}

func TestChannel_NoAddress(t *testing.T) {
	p := &mockEmailProvider{}
	c := newTestChannel(t, p)
	out := c.Send(context.Background(), &types.AlertChannel{Config: types.ChannelConfig{}}, alertPayload())
	if out.Succeeded() || out.Retryable {
		t.Fatalf("outcome = %+v", out)
	}
	if p.calls != 0 {
		t.Error("provider must not be called")
	}
}

func TestChannel_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		reason    string
	}{
		{"blocked", types.NewAppError(types.ErrCodeEmailBlocked, "suppressed", nil), false, "address_blocked"},
		{"throttled", types.NewAppError(types.ErrCodeUpstreamRateLimited, "slow down", types.NewTransientError("429", nil)), true, ""},
		{"rejected", types.NewAppError(types.ErrCodeUpstreamEmailProvider, "bad request", types.NewPermanentError("400", nil)), false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestChannel(t, &mockEmailProvider{err: tt.err})
			out := c.Send(context.Background(), emailChannel("ops@example.com"), alertPayload())
			if out.Succeeded() {
				t.Fatal("expected failure")
			}
			if out.Retryable != tt.retryable {
				t.Errorf("retryable = %v, want %v", out.Retryable, tt.retryable)
			}
			if tt.reason != "" && out.FailureReason != tt.reason {
				t.Errorf("reason = %q", out.FailureReason)
			}
		})
	}
}
