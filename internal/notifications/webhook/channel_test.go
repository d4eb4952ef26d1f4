package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"alertflow/internal/config"
	"alertflow/internal/security"
	"alertflow/internal/types"
)

type mockLogger struct{}

func (m *mockLogger) Info(msg string, args ...any)  {}
func (m *mockLogger) Error(msg string, args ...any) {}
func (m *mockLogger) Warn(msg string, args ...any)  {}
func (m *mockLogger) With(args ...any) types.Logger { return m }

type mockClock struct {
	now time.Time
}

func (m *mockClock) Now() time.Time { return m.now }

func testWebhookConfig() config.WebhookConfig {
	return config.WebhookConfig{UserAgent: "AlertFlow-Test/1.0", MaxRedirects: 3}
}

func newTestAdapter(t *testing.T, ct types.ChannelType, client *http.Client) *Adapter {
	t.Helper()
	a, err := NewAdapter(ct, testWebhookConfig(), client, nil, &mockLogger{})
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	return a
}

func testPayload() *types.RenderedPayload {
	return &types.RenderedPayload{
		Title:          "Person detected at Dock 4",
		Description:    "Confidence 0.93",
		Severity:       types.SeverityHigh,
		Timestamp:      time.Date(2026, 3, 2, 9, 10, 0, 0, time.UTC),
		EventType:      "person_detected",
		CameraID:       "cam-4",
		DispatchID:     "dsp-1",
		WorkflowName:   "Dock intrusions",
		OrganizationID: "org-1",
	}
}

func channelFor(url string) *types.AlertChannel {
	return &types.AlertChannel{
		ID:          "ch-1",
		ChannelType: types.ChannelWebhook,
		Config:      types.ChannelConfig{"url": url},
	}
}

func TestNewAdapter_Errors(t *testing.T) {
	if _, err := NewAdapter(types.ChannelEmail, testWebhookConfig(), http.DefaultClient, nil, &mockLogger{}); err == nil {
		t.Error("expected error for non-HTTP channel type")
	}
	if _, err := NewAdapter(types.ChannelSlack, testWebhookConfig(), nil, nil, &mockLogger{}); err == nil {
		t.Error("expected error for nil client")
	}
	if _, err := NewAdapter(types.ChannelSlack, testWebhookConfig(), http.DefaultClient, nil, nil); err == nil {
		t.Error("expected error for nil logger")
	}
}

func TestNewAdapters_CoversEveryHTTPType(t *testing.T) {
	adapters, err := NewAdapters(testWebhookConfig(), http.DefaultClient, nil, &mockLogger{})
	if err != nil {
		t.Fatalf("NewAdapters: %v", err)
	}
	seen := map[types.ChannelType]bool{}
	for _, a := range adapters {
		seen[a.Type()] = true
	}
	for _, ct := range []types.ChannelType{types.ChannelWebhook, types.ChannelSlack, types.ChannelTeams, types.ChannelZapier, types.ChannelN8N} {
		if !seen[ct] {
			t.Errorf("missing adapter for %s", ct)
		}
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name  string
		ct    types.ChannelType
		cfg   types.ChannelConfig
		field string
	}{
		{"missing url", types.ChannelWebhook, types.ChannelConfig{}, "url"},
		{"plain http", types.ChannelWebhook, types.ChannelConfig{"url": "http://example.com/hook"}, "url"},
		{"slack wrong host", types.ChannelSlack, types.ChannelConfig{"url": "https://example.com/hook"}, "url"},
		{"teams wrong host", types.ChannelTeams, types.ChannelConfig{"url": "https://hooks.slack.com/services/x"}, "url"},
		{"headers not object", types.ChannelWebhook, types.ChannelConfig{"url": "https://example.com", "headers": "x"}, "headers"},
		{"header not string", types.ChannelWebhook, types.ChannelConfig{"url": "https://example.com", "headers": map[string]any{"X-Key": 1}}, "headers.X-Key"},
		{"valid generic", types.ChannelWebhook, types.ChannelConfig{"url": "https://example.com/hook"}, ""},
		{"valid slack", types.ChannelSlack, types.ChannelConfig{"url": "https://hooks.slack.com/services/T/B/x"}, ""},
		{"valid teams workflow", types.ChannelTeams, types.ChannelConfig{"url": "https://prod-1.westus.logic.azure.com/workflows/x"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAdapter(t, tt.ct, http.DefaultClient)
			err := a.ValidateConfig(tt.cfg)
			if tt.field == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ce *types.ConfigurationError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if !strings.HasSuffix(ce.Field, tt.field) {
				t.Errorf("field = %q, want suffix %q", ce.Field, tt.field)
			}
		})
	}
}

func TestValidateConfig_UsesSSRFValidator(t *testing.T) {
	validator := func(string) error { return security.ErrBlockedAddress }
	a, err := NewAdapter(types.ChannelWebhook, testWebhookConfig(), http.DefaultClient, validator, &mockLogger{})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.ValidateConfig(types.ChannelConfig{"url": "https://internal.example"}); err == nil {
		t.Fatal("expected validator rejection")
	}
}

func TestSend_PlainSuccessIsSent(t *testing.T) {
	var gotUA, gotDispatch, gotCT, gotCustom string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotDispatch = r.Header.Get("X-AlertFlow-Dispatch-ID")
		gotCT = r.Header.Get("Content-Type")
		gotCustom = r.Header.Get("X-Api-Key")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("X-Request-Id", "req-77")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	a := newTestAdapter(t, types.ChannelWebhook, server.Client())
	ch := channelFor(server.URL)
	ch.Config["headers"] = map[string]any{"X-Api-Key": "k1"}

	out := a.Send(context.Background(), ch, testPayload())
	if out.Status != types.NotificationSent {
		t.Fatalf("status = %s (%s), want sent", out.Status, out.FailureReason)
	}
	if out.ProviderMessageID != "req-77" {
		t.Errorf("provider id = %q", out.ProviderMessageID)
	}
	if gotUA != "AlertFlow-Test/1.0" || gotDispatch != "dsp-1" || gotCT != "application/json" || gotCustom != "k1" {
		t.Errorf("headers: ua=%q dispatch=%q ct=%q custom=%q", gotUA, gotDispatch, gotCT, gotCustom)
	}
	if !strings.Contains(string(gotBody), `"camera_id":"cam-4"`) {
		t.Errorf("body missing camera: %s", gotBody)
	}
}

func TestSend_BodyAckIsDelivered(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	}))
	defer server.Close()

	a := newTestAdapter(t, types.ChannelSlack, server.Client())
	out := a.Send(context.Background(), channelFor(server.URL), testPayload())
	if out.Status != types.NotificationDelivered {
		t.Fatalf("status = %s, want delivered", out.Status)
	}
}

func TestSend_SlackSoftFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "channel_is_archived")
	}))
	defer server.Close()

	a := newTestAdapter(t, types.ChannelSlack, server.Client())
	out := a.Send(context.Background(), channelFor(server.URL), testPayload())
	if out.Succeeded() || !out.Retryable {
		t.Fatalf("want retryable failure, got %+v", out)
	}
	if !strings.Contains(out.FailureReason, "channel_is_archived") {
		t.Errorf("reason = %q", out.FailureReason)
	}
}

func TestSend_StatusClassification(t *testing.T) {
	tests := []struct {
		status     int
		retryAfter string
		retryable  bool
		wantAfter  time.Duration
	}{
		{http.StatusBadRequest, "", false, 0},
		{http.StatusGone, "", false, 0},
		{http.StatusTooManyRequests, "30", true, 30 * time.Second},
		{http.StatusTooManyRequests, "", true, 0},
		{http.StatusInternalServerError, "", true, 0},
		{http.StatusBadGateway, "", true, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				fmt.Fprint(w, "nope")
			}))
			defer server.Close()

			a := newTestAdapter(t, types.ChannelWebhook, server.Client())
			out := a.Send(context.Background(), channelFor(server.URL), testPayload())
			if out.Status != types.NotificationFailed {
				t.Fatalf("status = %s", out.Status)
			}
			if out.Retryable != tt.retryable {
				t.Errorf("retryable = %v, want %v", out.Retryable, tt.retryable)
			}
			if out.RetryAfter != tt.wantAfter {
				t.Errorf("retry after = %v, want %v", out.RetryAfter, tt.wantAfter)
			}
		})
	}
}

func TestSend_NetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	a := newTestAdapter(t, types.ChannelWebhook, http.DefaultClient)
	out := a.Send(context.Background(), channelFor(url), testPayload())
	if out.Succeeded() || !out.Retryable {
		t.Fatalf("want retryable failure, got %+v", out)
	}
}

func TestSend_SSRFBlockIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach a loopback server")
	}))
	defer server.Close()

	guard := security.NewGuard(security.AllowPlainHTTP())
	a := newTestAdapter(t, types.ChannelWebhook, guard.NewHTTPClient(2*time.Second, 3))
	out := a.Send(context.Background(), channelFor(server.URL), testPayload())
	if out.Succeeded() || out.Retryable {
		t.Fatalf("want permanent failure, got %+v", out)
	}
	if !strings.HasPrefix(out.FailureReason, "ssrf_blocked") {
		t.Errorf("reason = %q", out.FailureReason)
	}
}

func TestSend_RawBodyAndDestinationOverride(t *testing.T) {
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
	}))
	defer server.Close()

	a := newTestAdapter(t, types.ChannelWebhook, server.Client())
	p := testPayload()
	p.Destination = server.URL
	p.Raw = []byte(`{"custom":true}`)

	out := a.Send(context.Background(), channelFor("https://unused.example"), p)
	if !out.Succeeded() {
		t.Fatalf("send failed: %s", out.FailureReason)
	}
	if string(gotBody) != `{"custom":true}` {
		t.Errorf("body = %s", gotBody)
	}
}

func TestSend_MissingDestination(t *testing.T) {
	a := newTestAdapter(t, types.ChannelWebhook, http.DefaultClient)
	out := a.Send(context.Background(), channelFor(""), testPayload())
	if out.Succeeded() || out.Retryable {
		t.Fatalf("want permanent failure, got %+v", out)
	}
}

func TestSend_SignsWhenSecretConfigured(t *testing.T) {
	var gotSig string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
	}))
	defer server.Close()

	now := time.Date(2026, 3, 2, 9, 10, 0, 0, time.UTC)
	a := newTestAdapter(t, types.ChannelWebhook, server.Client())
	a.SetClock(&mockClock{now: now})
	ch := channelFor(server.URL)
	ch.Config["secret"] = "s3cret"

	out := a.Send(context.Background(), ch, testPayload())
	if !out.Succeeded() {
		t.Fatalf("send failed: %s", out.FailureReason)
	}
	if !VerifySignature(gotBody, gotSig, "s3cret", "", 5*time.Minute, now) {
		t.Errorf("signature %q does not verify", gotSig)
	}
}

func TestProviderMessageID(t *testing.T) {
	resp := &http.Response{StatusCode: 200, Header: http.Header{}}
	resp.Header.Set("X-Slack-Req-Id", "slack-1")
	if got := providerMessageID(resp, types.ChannelSlack); got != "slack-1" {
		t.Errorf("slack id = %q", got)
	}

	resp = &http.Response{StatusCode: 202, Header: http.Header{}}
	if got := providerMessageID(resp, types.ChannelZapier); !strings.HasPrefix(got, "zapier-202-") {
		t.Errorf("synthetic id = %q", got)
	}
}

func TestIsSSRFError(t *testing.T) {
	if !isSSRFError(fmt.Errorf("dial: %w", security.ErrBlockedAddress)) {
		t.Error("wrapped blocked address should be SSRF")
	}
	if !isSSRFError(security.ErrTooManyRedirects) {
		t.Error("redirects should be SSRF")
	}
	if isSSRFError(errors.New("connection refused")) {
		t.Error("plain network error is not SSRF")
	}
}
