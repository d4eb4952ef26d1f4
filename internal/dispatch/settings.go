package dispatch

import (
	"sort"
	"time"

	"alertflow/internal/config"
	"alertflow/internal/types"
)

// Settings tunes engine timing and feature gates.
type Settings struct {
	// Minute is the length of one delay_minutes unit.
	Minute         time.Duration
	GracePeriod    time.Duration
	FinalAckWindow time.Duration
	AckTimeout     time.Duration

	// ExhaustedReportFloor is the lowest event severity whose exhausted
	// escalations are published as reports. They are always logged.
	ExhaustedReportFloor types.Severity

	EnableEscalation bool
	DisabledChannels map[types.ChannelType]bool
}

// SettingsFromConfig maps the engine and feature sections of the config.
func SettingsFromConfig(engine config.EngineConfig, features config.FeatureConfig) Settings {
	s := Settings{
		Minute:               engine.MinuteLength,
		GracePeriod:          engine.GracePeriod,
		FinalAckWindow:       engine.FinalAckWindow,
		AckTimeout:           engine.AckTimeout,
		ExhaustedReportFloor: types.ParseSeverity(engine.ExhaustedReportFloor),
		EnableEscalation:     features.EnableEscalation,
		DisabledChannels:     make(map[types.ChannelType]bool),
	}
	if s.Minute <= 0 {
		s.Minute = time.Minute
	}
	if !features.EnableEmail {
		s.DisabledChannels[types.ChannelEmail] = true
	}
	if !features.EnableSMS {
		s.DisabledChannels[types.ChannelSMS] = true
	}
	if !features.EnableIoT {
		s.DisabledChannels[types.ChannelIoT] = true
	}
	if !features.EnableWebhooks {
		for _, t := range []types.ChannelType{types.ChannelWebhook, types.ChannelSlack, types.ChannelTeams, types.ChannelZapier, types.ChannelN8N} {
			s.DisabledChannels[t] = true
		}
	}
	return s
}

// actionGroup is the set of actions sharing one execution_order.
type actionGroup struct {
	order   int
	actions []types.Action
}

// groupActions partitions actions by execution_order, ascending.
func groupActions(actions []types.Action) []actionGroup {
	byOrder := make(map[int][]types.Action)
	for _, a := range actions {
		byOrder[a.ExecutionOrder] = append(byOrder[a.ExecutionOrder], a)
	}
	groups := make([]actionGroup, 0, len(byOrder))
	for order, as := range byOrder {
		groups = append(groups, actionGroup{order: order, actions: as})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].order < groups[j].order })
	return groups
}

// escalationSteps returns the steps an escalate action runs: its own, or
// the workflow policy's.
func escalationSteps(a types.Action, wf *types.Workflow) []types.EscalationStep {
	if len(a.Config.EscalationSteps) > 0 {
		return a.Config.EscalationSteps
	}
	if wf.EscalationPolicy != nil {
		return wf.EscalationPolicy.Steps
	}
	return nil
}

// DispatchTimeout bounds a whole dispatch: the longest delay of every group,
// each ack gate, the longest escalation ladder with its final window, and
// the grace period. Gated notifications count the workflow policy's ladder.
func DispatchTimeout(wf *types.Workflow, s Settings) time.Duration {
	total := s.GracePeriod
	var longestEscalation time.Duration
	for _, g := range groupActions(wf.FlowDefinition.Actions) {
		var groupDelay time.Duration
		gated := false
		for _, a := range g.actions {
			if d := a.Config.Delay(s.Minute); d > groupDelay {
				groupDelay = d
			}
			if a.Config.RequireAcknowledgment {
				gated = true
			}
			var policy *types.EscalationPolicy
			switch {
			case a.Type == types.ActionEscalate:
				policy = &types.EscalationPolicy{Steps: escalationSteps(a, wf)}
			case a.Type == types.ActionSendNotification && a.Config.RequireAcknowledgment &&
				s.EnableEscalation && wf.EscalationPolicy != nil && len(wf.EscalationPolicy.Steps) > 0:
				policy = wf.EscalationPolicy
			}
			if policy != nil {
				d := time.Duration(policy.TotalDelayMinutes())*s.Minute + s.FinalAckWindow
				if d > longestEscalation {
					longestEscalation = d
				}
			}
		}
		total += groupDelay
		if gated {
			total += s.AckTimeout
		}
	}
	return total + longestEscalation
}
