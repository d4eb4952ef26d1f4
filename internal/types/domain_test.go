package types

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestSeverityOrdering(t *testing.T) {
	if !SeverityCritical.AtLeast(SeverityHigh) {
		t.Error("critical should be at least high")
	}
	if SeverityLow.AtLeast(SeverityMedium) {
		t.Error("low should not be at least medium")
	}
	if Severity("urgent").AtLeast(SeverityLow) {
		t.Error("unknown severities never pass a floor")
	}
	if ParseSeverity(" HIGH ") != SeverityHigh {
		t.Error("ParseSeverity should normalize case and space")
	}
}

func TestEscalationPolicyTotalDelay(t *testing.T) {
	p := &EscalationPolicy{Steps: []EscalationStep{
		{DelayMinutes: 0}, {DelayMinutes: 15}, {DelayMinutes: 30},
	}}
	if got := p.TotalDelayMinutes(); got != 45 {
		t.Errorf("TotalDelayMinutes() = %d, want 45", got)
	}
	var nilPolicy *EscalationPolicy
	if nilPolicy.TotalDelayMinutes() != 0 {
		t.Error("nil policy should have zero delay")
	}
}

func TestAlertChannelMarshalJSON_RedactsSecrets(t *testing.T) {
	ch := AlertChannel{
		ID:          "ch_1",
		ChannelType: ChannelWebhook,
		Config: ChannelConfig{
			"url":        "https://example.com/hook",
			"secret":     "s3cr3t",
			"auth_token": "tok",
		},
	}

	out, err := json.Marshal(ch)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	body := string(out)
	if strings.Contains(body, "s3cr3t") || strings.Contains(body, `"tok"`) {
		t.Errorf("secrets leaked: %s", body)
	}
	if !strings.Contains(body, "https://example.com/hook") {
		t.Errorf("non-secret value missing: %s", body)
	}

	// Storage keeps the raw value.
	raw, err := ch.Config.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if !strings.Contains(string(raw.([]byte)), "s3cr3t") {
		t.Error("Value() must not redact")
	}
}

func TestChannelConfigRequestsPerMinute(t *testing.T) {
	var cfg ChannelConfig
	if err := json.Unmarshal([]byte(`{"rate_limits":{"requests_per_minute":30}}`), &cfg); err != nil {
		t.Fatal(err)
	}
	if got := cfg.RequestsPerMinute(); got != 30 {
		t.Errorf("RequestsPerMinute() = %d, want 30", got)
	}
	if (ChannelConfig{}).RequestsPerMinute() != 0 {
		t.Error("missing rate_limits should yield 0")
	}
}

func TestFlowDefinition_ScanValue_RoundTrip(t *testing.T) {
	gt := 0.8
	original := FlowDefinition{
		LogicOperator: LogicAnd,
		Triggers: []Trigger{{
			Type:       TriggerEventOccurs,
			Conditions: TriggerConditions{EventTypes: []string{"intrusion"}, ConfidenceGT: &gt},
		}},
		Actions: []Action{{ID: "a1", Type: ActionSendNotification, Config: ActionConfig{ChannelIDs: []string{"ch_1"}}}},
	}

	dv, err := original.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	var got FlowDefinition
	if err := got.Scan(dv); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if got.Triggers[0].Conditions.EventTypes[0] != "intrusion" || *got.Triggers[0].Conditions.ConfidenceGT != 0.8 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if err := got.Scan(42); err == nil {
		t.Error("Scan should reject unsupported types")
	}
}

func TestDNDWindows_ScanNil(t *testing.T) {
	w := DNDWindows{{Start: "22:00", End: "06:00"}}
	if err := w.Scan(nil); err != nil {
		t.Fatal(err)
	}
	if w != nil {
		t.Errorf("Scan(nil) should reset, got %v", w)
	}
}

func TestRealSleeper_RespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := (RealSleeper{}).Sleep(ctx, time.Hour); err == nil {
		t.Error("Sleep should return the context error")
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep should not block on a cancelled context")
	}
}

func TestContextValues(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithDispatchID(ctx, "dsp_1")
	if GetRequestID(ctx) != "req-1" || GetDispatchID(ctx) != "dsp_1" {
		t.Error("context values not round-tripped")
	}
	if LoggerFromContext(ctx) != nil {
		t.Error("no logger was set")
	}
}

func TestClampPageSize(t *testing.T) {
	if ClampPageSize(0) != DefaultPageSize || ClampPageSize(500) != MaxPageSize || ClampPageSize(7) != 7 {
		t.Error("ClampPageSize bounds wrong")
	}
}

func TestEnumValidity(t *testing.T) {
	if !SeverityHigh.Valid() || Severity("urgent").Valid() {
		t.Error("Severity.Valid mismatch")
	}
	if !ChannelN8N.Valid() || ChannelType("discord").Valid() {
		t.Error("ChannelType.Valid mismatch")
	}
	if !ChannelSMS.IsPersonal() || ChannelSlack.IsPersonal() {
		t.Error("only email and sms are personal")
	}
	if !DispatchAcknowledged.Valid() || DispatchAcknowledged.IsTerminal() {
		t.Error("acknowledged is valid but not terminal")
	}
	if !DispatchAborted.IsTerminal() || DispatchStatus("done").Valid() {
		t.Error("DispatchStatus mismatch")
	}
	if NotificationPending.IsTerminal() || !NotificationSkipped.IsTerminal() {
		t.Error("only pending rows may change")
	}
	if NotificationStatus("queued").Valid() {
		t.Error("unknown notification status accepted")
	}
}
