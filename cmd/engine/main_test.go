package main

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"

	"alertflow/internal/config"
	"alertflow/internal/external"
	notifcore "alertflow/internal/notifications/core"
	"alertflow/internal/types"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewLogger_Levels(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"bogus": slog.LevelInfo,
	}
	for level, want := range cases {
		l := newLogger(level)
		if !l.Enabled(context.Background(), want) {
			t.Errorf("newLogger(%q) should enable %v", level, want)
		}
		if want > slog.LevelDebug && l.Enabled(context.Background(), want-4) {
			t.Errorf("newLogger(%q) should not enable %v", level, want-4)
		}
	}
}

func TestSlogAdapter_WithCarriesAttributes(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	var l types.Logger = &slogAdapter{logger: base}
	l.With("dispatch_id", "dsp_1").Warn("slow provider", "channel_type", "sms")

	out := buf.String()
	for _, want := range []string{"level=WARN", "dispatch_id=dsp_1", "channel_type=sms", "slow provider"} {
		if !bytes.Contains([]byte(out), []byte(want)) {
			t.Errorf("log line %q missing %q", out, want)
		}
	}
}

func TestRetryPolicy_OverridesDefaults(t *testing.T) {
	p := retryPolicy(config.EngineConfig{RetryMaxAttempts: 5, RetryBaseDelay: time.Second})
	if p.MaxAttempts != 5 || p.BaseDelay != time.Second {
		t.Fatalf("unexpected policy %+v", p)
	}
	if p.MaxDelay != notifcore.DefaultRetryPolicy.MaxDelay {
		t.Errorf("MaxDelay = %v, want default %v", p.MaxDelay, notifcore.DefaultRetryPolicy.MaxDelay)
	}
	if p.BackoffFactor != 2.0 {
		t.Errorf("BackoffFactor = %v, want 2", p.BackoffFactor)
	}
}

func TestNotificationMetrics_Backends(t *testing.T) {
	tlog := &slogAdapter{logger: quietLogger()}

	if _, ok := notificationMetrics(config.ObservabilityConfig{MetricsBackend: "none"}, prometheus.NewRegistry(), nil, tlog).(notifcore.NoopMetrics); !ok {
		t.Error("none should select NoopMetrics")
	}
	if _, ok := notificationMetrics(config.ObservabilityConfig{MetricsBackend: "prometheus"}, prometheus.NewRegistry(), nil, tlog).(*notifcore.PrometheusNotificationMetrics); !ok {
		t.Error("prometheus should select PrometheusNotificationMetrics")
	}
	multi, ok := notificationMetrics(config.ObservabilityConfig{MetricsBackend: "cloudwatch"}, prometheus.NewRegistry(), nil, tlog).(notifcore.MultiMetrics)
	if !ok || len(multi) != 2 {
		t.Fatalf("cloudwatch should fan out to prometheus and cloudwatch, got %T", multi)
	}
}

func TestNewStores_MemoryWithoutRedis(t *testing.T) {
	clock := fixedClock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	st := newStores(config.RedisConfig{DedupeTTL: time.Hour}, true, clock, &slogAdapter{logger: quietLogger()})
	defer st.close()

	if st.probe != nil {
		t.Error("memory stores have no health probe")
	}
	ctx := context.Background()
	first, err := st.dedupe.FirstSeen(ctx, "org_1", "evt_1")
	if err != nil || !first {
		t.Fatalf("first FirstSeen = %v, %v", first, err)
	}
	again, _ := st.dedupe.FirstSeen(ctx, "org_1", "evt_1")
	if again {
		t.Error("repeat event should not be first")
	}

	ok, err := st.jobLock.Acquire(ctx, "purge:slot", "w1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("lock acquire = %v, %v", ok, err)
	}
	if ok, _ := st.jobLock.Acquire(ctx, "purge:slot", "w2", time.Minute); ok {
		t.Error("held lock acquired twice")
	}
}

func TestNewStores_DedupeDisabled(t *testing.T) {
	st := newStores(config.RedisConfig{}, false, types.RealClock{}, &slogAdapter{logger: quietLogger()})
	defer st.close()
	if st.dedupe != nil {
		t.Error("dedupe should be nil when the feature is off")
	}
	if st.cooldowns == nil || st.ackBus == nil || st.rateLimit == nil {
		t.Error("other stores stay wired when dedupe is off")
	}
}

func TestNewStores_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	st := newStores(config.RedisConfig{Addr: mr.Addr(), DedupeTTL: time.Hour, AckChannel: "acks"}, true,
		types.RealClock{}, &slogAdapter{logger: quietLogger()})
	defer st.close()

	if st.probe == nil {
		t.Fatal("redis stores should expose a health probe")
	}
	if err := st.probe.Check(context.Background()); err != nil {
		t.Fatalf("probe: %v", err)
	}
	ok, err := st.cooldowns.Acquire(context.Background(), "wf_1", "cam_1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("cooldown acquire = %v, %v", ok, err)
	}
	if ok, _ := st.cooldowns.Acquire(context.Background(), "wf_1", "cam_1", time.Minute); ok {
		t.Error("second acquire inside the window should be refused")
	}

	mr.Close()
	if err := st.probe.Check(context.Background()); err == nil {
		t.Error("probe should fail once redis is gone")
	}
}

func TestBuildRegistry_LocalStubs(t *testing.T) {
	cfg := &config.Config{
		Environment: "local",
		Service:     "alertflow-engine",
		Email:       config.EmailConfig{FromAddress: "alerts@example.com", FromName: "Alerts"},
		SMS:         config.SMSConfig{MaxChars: 480},
		MQTT:        config.MQTTConfig{TopicPrefix: "alertflow/devices"},
		Webhook:     config.WebhookConfig{UserAgent: "test", MaxRedirects: 3},
		Engine:      config.EngineConfig{AdapterTimeout: time.Second, DefaultRequestsPerMinute: 60},
	}
	clients, err := external.NewClientRegistry(cfg, aws.Config{}, quietLogger())
	if err != nil {
		t.Fatalf("NewClientRegistry: %v", err)
	}

	registry, err := buildRegistry(cfg, clients, notifcore.NoopMetrics{}, types.RealClock{}, &slogAdapter{logger: quietLogger()})
	if err != nil {
		t.Fatalf("buildRegistry: %v", err)
	}

	got := make(map[types.ChannelType]bool)
	for _, ct := range registry.Types() {
		got[ct] = true
	}
	for _, ct := range types.AllChannelTypes {
		if !got[ct] {
			t.Errorf("channel type %q has no adapter", ct)
		}
	}
}

func TestBuildRegistry_SkipsMissingProviders(t *testing.T) {
	cfg := &config.Config{
		Environment: "dev",
		Webhook:     config.WebhookConfig{UserAgent: "test", MaxRedirects: 3},
		Engine:      config.EngineConfig{AdapterTimeout: time.Second, DefaultRequestsPerMinute: 60},
	}
	registry, err := buildRegistry(cfg, &external.ClientRegistry{}, notifcore.NoopMetrics{}, types.RealClock{}, &slogAdapter{logger: quietLogger()})
	if err != nil {
		t.Fatalf("buildRegistry: %v", err)
	}
	for _, ct := range []types.ChannelType{types.ChannelEmail, types.ChannelSMS, types.ChannelIoT} {
		if _, ok := registry.Adapter(ct); ok {
			t.Errorf("%q registered without a provider", ct)
		}
	}
	if _, ok := registry.Adapter(types.ChannelSlack); !ok {
		t.Error("webhook family should always register")
	}
}
