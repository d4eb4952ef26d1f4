package dispatch

import (
	"testing"
	"time"

	"alertflow/internal/config"
	"alertflow/internal/types"
)

func TestGroupActions_AscendingOrder(t *testing.T) {
	groups := groupActions([]types.Action{
		{ID: "c", ExecutionOrder: 2},
		{ID: "a1", ExecutionOrder: 0},
		{ID: "b", ExecutionOrder: 1},
		{ID: "a2", ExecutionOrder: 0},
	})
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(groups))
	}
	for i, want := range []int{0, 1, 2} {
		if groups[i].order != want {
			t.Errorf("group %d order = %d, want %d", i, groups[i].order, want)
		}
	}
	if len(groups[0].actions) != 2 || groups[0].actions[0].ID != "a1" || groups[0].actions[1].ID != "a2" {
		t.Errorf("group 0 should keep definition order, got %+v", groups[0].actions)
	}
}

func TestDispatchTimeout(t *testing.T) {
	s := testSettings()
	wf := testWorkflow("wf-1", 1,
		types.Action{ID: "a", ExecutionOrder: 0, Config: types.ActionConfig{DelayMinutes: 2}},
		types.Action{ID: "b", ExecutionOrder: 0, Config: types.ActionConfig{DelayMinutes: 7, RequireAcknowledgment: true}},
		types.Action{ID: "c", ExecutionOrder: 1, Type: types.ActionEscalate, Config: types.ActionConfig{DelayMinutes: 3, EscalationSteps: threeStepLadder()}},
	)

	// grace 5 + group delays (7 + 3) + one ack gate 30 + ladder (45 + final 15)
	want := 5*time.Minute + 10*time.Minute + 30*time.Minute + 60*time.Minute
	if got := DispatchTimeout(wf, s); got != want {
		t.Errorf("DispatchTimeout = %v, want %v", got, want)
	}
}

func TestDispatchTimeout_GatedNotificationCountsWorkflowPolicy(t *testing.T) {
	s := testSettings()
	gated := notify("n", 0, "c1")
	gated.Config.RequireAcknowledgment = true
	wf := testWorkflow("wf-1", 1, gated)
	wf.EscalationPolicy = &types.EscalationPolicy{Steps: threeStepLadder()}

	// grace 5 + ack gate 30 + ladder (45 + final 15)
	want := 5*time.Minute + 30*time.Minute + 60*time.Minute
	if got := DispatchTimeout(wf, s); got != want {
		t.Errorf("DispatchTimeout = %v, want %v", got, want)
	}

	s.EnableEscalation = false
	if got := DispatchTimeout(wf, s); got != 35*time.Minute {
		t.Errorf("with escalation disabled DispatchTimeout = %v, want 35m", got)
	}
}

func TestEscalationSteps_Fallback(t *testing.T) {
	policy := &types.EscalationPolicy{Steps: []types.EscalationStep{{ChannelIDs: []string{"p"}}}}
	wf := testWorkflow("wf-1", 1)
	wf.EscalationPolicy = policy

	own := types.Action{Config: types.ActionConfig{EscalationSteps: []types.EscalationStep{{ChannelIDs: []string{"own"}}}}}
	if got := escalationSteps(own, wf); got[0].ChannelIDs[0] != "own" {
		t.Errorf("action steps should win, got %+v", got)
	}
	if got := escalationSteps(types.Action{}, wf); got[0].ChannelIDs[0] != "p" {
		t.Errorf("policy fallback expected, got %+v", got)
	}
	if got := escalationSteps(types.Action{}, testWorkflow("wf-2", 1)); got != nil {
		t.Errorf("expected no steps, got %+v", got)
	}
}

func TestSettingsFromConfig(t *testing.T) {
	s := SettingsFromConfig(config.EngineConfig{
		FinalAckWindow:       15 * time.Minute,
		AckTimeout:           30 * time.Minute,
		ExhaustedReportFloor: "High",
	}, config.FeatureConfig{
		EnableEmail:      true,
		EnableSMS:        false,
		EnableWebhooks:   false,
		EnableIoT:        true,
		EnableEscalation: true,
	})

	if s.Minute != time.Minute {
		t.Errorf("minute should default to 1m, got %v", s.Minute)
	}
	if s.ExhaustedReportFloor != types.SeverityHigh {
		t.Errorf("floor = %q", s.ExhaustedReportFloor)
	}
	for _, ct := range []types.ChannelType{types.ChannelSMS, types.ChannelSlack, types.ChannelWebhook, types.ChannelN8N} {
		if !s.DisabledChannels[ct] {
			t.Errorf("%s should be disabled", ct)
		}
	}
	if s.DisabledChannels[types.ChannelEmail] || s.DisabledChannels[types.ChannelIoT] {
		t.Error("email and iot should stay enabled")
	}
}
