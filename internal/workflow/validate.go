package workflow

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"alertflow/internal/types"
)

// Validation limits.
const (
	MaxNameLength = 200
	MaxTriggers   = 20
	MaxActions    = 50
	MaxDelay      = 7 * 24 * 60 // minutes
)

var knownActionTypes = []types.ActionType{
	types.ActionSendNotification, types.ActionTriggerWebhook, types.ActionCreateTask,
	types.ActionEscalate, types.ActionIoT, types.ActionLogIncident,
}

func configErr(field, format string, args ...any) error {
	return &types.ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ValidateWorkflow rejects definitions that could not run correctly. It is
// called when a workflow is saved so nothing malformed reaches the event path.
func ValidateWorkflow(wf *types.Workflow) error {
	if strings.TrimSpace(wf.Name) == "" {
		return configErr("name", "name is required")
	}
	if len(wf.Name) > MaxNameLength {
		return configErr("name", "name exceeds %d characters", MaxNameLength)
	}

	def := wf.FlowDefinition
	if len(def.Triggers) == 0 {
		return configErr("flow_definition.triggers", "at least one trigger is required")
	}
	if len(def.Triggers) > MaxTriggers {
		return configErr("flow_definition.triggers", "at most %d triggers are allowed", MaxTriggers)
	}
	if len(def.Actions) == 0 {
		return configErr("flow_definition.actions", "at least one action is required")
	}
	if len(def.Actions) > MaxActions {
		return configErr("flow_definition.actions", "at most %d actions are allowed", MaxActions)
	}
	if def.LogicOperator != "" && def.LogicOperator != types.LogicAnd && def.LogicOperator != types.LogicOr {
		return configErr("flow_definition.logic_operator", "must be AND or OR, got %q", def.LogicOperator)
	}
	if def.Modifiers.CooldownMinutes < 0 {
		return configErr("flow_definition.modifiers.cooldown_minutes", "must not be negative")
	}

	for i, trig := range def.Triggers {
		if err := validateTrigger(fmt.Sprintf("flow_definition.triggers[%d]", i), trig); err != nil {
			return err
		}
	}

	ids := make(map[string]bool, len(def.Actions))
	for i, a := range def.Actions {
		field := fmt.Sprintf("flow_definition.actions[%d]", i)
		if a.ID == "" {
			return configErr(field+".id", "action id is required")
		}
		if ids[a.ID] {
			return configErr(field+".id", "duplicate action id %q", a.ID)
		}
		ids[a.ID] = true
		if err := validateAction(field, a, wf.EscalationPolicy); err != nil {
			return err
		}
	}

	if wf.EscalationPolicy != nil {
		if err := ValidateEscalationSteps("escalation_policy.steps", wf.EscalationPolicy.Steps); err != nil {
			return err
		}
	}
	return nil
}

func validateTrigger(field string, trig types.Trigger) error {
	c := trig.Conditions
	for _, s := range c.SeverityLevels {
		if !s.Valid() {
			return configErr(field+".conditions.severity_levels", "unknown severity %q", s)
		}
	}
	if c.ConfidenceGT != nil && (*c.ConfidenceGT < 0 || *c.ConfidenceGT > 1) {
		return configErr(field+".conditions.confidence_gt", "must be between 0 and 1")
	}

	switch trig.Type {
	case types.TriggerEventOccurs:
	case types.TriggerSchedule:
		if _, _, err := parseSchedule(c.Cron, c.Timezone); err != nil {
			return configErr(field+".conditions.cron", "%s", err.Error())
		}
		if c.WindowMinutes <= 0 {
			return configErr(field+".conditions.window_minutes", "must be positive")
		}
	case types.TriggerThresholdExceeded:
		if c.Metric == "" {
			return configErr(field+".conditions.metric", "metric is required")
		}
		if c.Threshold == nil {
			return configErr(field+".conditions.threshold", "threshold is required")
		}
	default:
		return configErr(field+".type", "unknown trigger type %q", trig.Type)
	}
	return nil
}

func validateAction(field string, a types.Action, policy *types.EscalationPolicy) error {
	if !slices.Contains(knownActionTypes, a.Type) {
		return configErr(field+".type", "unknown action type %q", a.Type)
	}
	if a.ExecutionOrder < 0 {
		return configErr(field+".execution_order", "must not be negative")
	}
	cfg := a.Config
	if cfg.DelayMinutes < 0 {
		return configErr(field+".config.delay_minutes", "must not be negative")
	}
	if cfg.DelayMinutes > MaxDelay {
		return configErr(field+".config.delay_minutes", "must not exceed %d", MaxDelay)
	}
	for _, tmpl := range []struct{ name, value string }{
		{"title_template", cfg.TitleTemplate},
		{"message_template", cfg.MessageTemplate},
		{"webhook_payload", cfg.WebhookPayload},
		{"task_title", cfg.TaskTitle},
	} {
		if unknown := UnknownPlaceholders(tmpl.value); len(unknown) > 0 {
			return configErr(field+".config."+tmpl.name, "unknown placeholder {{%s}}", unknown[0])
		}
	}

	switch a.Type {
	case types.ActionSendNotification:
		if len(cfg.ChannelIDs) == 0 {
			return configErr(field+".config.channel_ids", "at least one channel is required")
		}
	case types.ActionTriggerWebhook:
		if err := validateHTTPSURL(cfg.WebhookURL); err != nil {
			return configErr(field+".config.webhook_url", "%s", err.Error())
		}
		if cfg.WebhookPayload != "" {
			if _, err := RenderJSON(cfg.WebhookPayload, sampleData); err != nil {
				return configErr(field+".config.webhook_payload", "%s", err.Error())
			}
		}
	case types.ActionEscalate:
		steps := cfg.EscalationSteps
		if len(steps) == 0 && policy != nil {
			steps = policy.Steps
		}
		if len(steps) == 0 {
			return configErr(field+".config.escalation_steps", "escalate requires steps or a workflow escalation policy")
		}
		if len(cfg.EscalationSteps) > 0 {
			return ValidateEscalationSteps(field+".config.escalation_steps", cfg.EscalationSteps)
		}
	case types.ActionCreateTask:
		if strings.TrimSpace(cfg.TaskTitle) == "" {
			return configErr(field+".config.task_title", "task_title is required")
		}
	case types.ActionIoT:
		if cfg.DeviceID == "" || cfg.Command == "" {
			return configErr(field+".config", "device_id and command are required")
		}
	case types.ActionLogIncident:
	}
	return nil
}

// ValidateEscalationSteps checks the ladder invariants: step 0 fires
// immediately, delays never decrease and every step has channels.
func ValidateEscalationSteps(field string, steps []types.EscalationStep) error {
	if len(steps) == 0 {
		return configErr(field, "at least one step is required")
	}
	if steps[0].DelayMinutes != 0 {
		return configErr(field+"[0].delay_minutes", "first step must have delay 0")
	}
	for i, s := range steps {
		if s.DelayMinutes < 0 {
			return configErr(fmt.Sprintf("%s[%d].delay_minutes", field, i), "must not be negative")
		}
		if i > 0 && s.DelayMinutes < steps[i-1].DelayMinutes {
			return configErr(fmt.Sprintf("%s[%d].delay_minutes", field, i), "delays must be non-decreasing")
		}
		if len(s.ChannelIDs) == 0 {
			return configErr(fmt.Sprintf("%s[%d].channel_ids", field, i), "at least one channel is required")
		}
	}
	return nil
}

func validateHTTPSURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid URL")
	}
	if u.Scheme != "https" {
		return fmt.Errorf("must use HTTPS")
	}
	return nil
}

// sampleData exercises every placeholder with characters that need escaping.
var sampleData = TemplateData{
	Event: &types.Event{
		ID:             "evt_sample",
		OrganizationID: "org_sample",
		EventType:      "sample",
		Severity:       types.SeverityHigh,
		Confidence:     0.5,
		CameraID:       "cam_sample",
		CameraName:     `Lobby "A"`,
		CameraLocation: `Line 1\2`,
		Description:    "multi\nline",
		Timestamp:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	},
	DispatchID:   "dsp_sample",
	WorkflowName: "sample",
}
