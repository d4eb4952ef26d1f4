package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"alertflow/internal/external"
	"alertflow/internal/notifications/core"
	"alertflow/internal/notifications/iot"
	"alertflow/internal/types"
	"alertflow/internal/workflow"
)

// ActionExecutor runs one action type. A non-nil error fails the action.
type ActionExecutor interface {
	Execute(ctx context.Context, run *dispatchRun, a types.Action) error
}

// Executors maps action types to their executors.
type Executors map[types.ActionType]ActionExecutor

// Collaborators are the services behind the non-notification actions.
type Collaborators struct {
	Tasks       external.TaskService
	Incidents   external.IncidentLogger
	Bus         external.CommandBus
	TopicPrefix string
}

// NewExecutors registers an executor for every action type.
func NewExecutors(c Collaborators, notifier *Notifier, pipeline Deliverer, escalator *Escalator, settings Settings, clock types.Clock) Executors {
	return Executors{
		types.ActionSendNotification: &SendNotificationExecutor{Notifier: notifier},
		types.ActionTriggerWebhook:   &TriggerWebhookExecutor{Pipeline: pipeline},
		types.ActionCreateTask:       &CreateTaskExecutor{Tasks: c.Tasks, Pipeline: pipeline},
		types.ActionEscalate:         &EscalateExecutor{Escalator: escalator, Enabled: settings.EnableEscalation},
		types.ActionIoT:              &IoTActionExecutor{Bus: c.Bus, TopicPrefix: strings.TrimSuffix(c.TopicPrefix, "/"), Pipeline: pipeline, Clock: clock},
		types.ActionLogIncident:      &LogIncidentExecutor{Incidents: c.Incidents, Pipeline: pipeline, Clock: clock},
	}
}

func (e Executors) execute(ctx context.Context, run *dispatchRun, a types.Action) error {
	ex, ok := e[a.Type]
	if !ok {
		return fmt.Errorf("no executor for action type %q", a.Type)
	}
	return ex.Execute(ctx, run, a)
}

// collaboratorTarget is the audit target of a collaborator call.
func collaboratorTarget(run *dispatchRun, a types.Action, payload *types.RenderedPayload) core.Target {
	return core.Target{
		DispatchID:     run.dispatch.ID,
		OrganizationID: run.dispatch.OrganizationID,
		Source:         "action:" + a.ID,
		Severity:       run.event.Severity,
		Payload:        payload,
	}
}

// recordOutcome writes the collaborator audit row and passes callErr through.
func recordOutcome(ctx context.Context, d Deliverer, run *dispatchRun, a types.Action, payload *types.RenderedPayload, callErr error) error {
	if _, err := d.Record(context.WithoutCancel(ctx), collaboratorTarget(run, a, payload), string(a.Type), callErr); err != nil {
		run.logger.Error("failed to record action outcome", "action_id", a.ID, "error", err.Error())
	}
	return callErr
}

// SendNotificationExecutor fans a rendered alert out to the action's channels.
type SendNotificationExecutor struct {
	Notifier *Notifier
}

func (x *SendNotificationExecutor) Execute(ctx context.Context, run *dispatchRun, a types.Action) error {
	payload := workflow.RenderPayload(a.Config.TitleTemplate, a.Config.MessageTemplate, run.templateData())
	res, err := x.Notifier.fanOut(ctx, run, fanOutRequest{
		source:     "action:" + a.ID,
		channelIDs: a.Config.ChannelIDs,
		recipients: a.Config.Recipients,
		payload:    payload,
	})
	if err != nil {
		return err
	}
	run.logger.Info("notifications sent",
		"action_id", a.ID,
		"delivered", res.Delivered,
		"failed", res.Failed,
		"skipped", res.Skipped,
	)
	return res.Err()
}

// TriggerWebhookExecutor posts the rendered webhook_payload to webhook_url
// through the webhook adapter and the delivery pipeline.
type TriggerWebhookExecutor struct {
	Pipeline Deliverer
}

func (x *TriggerWebhookExecutor) Execute(ctx context.Context, run *dispatchRun, a types.Action) error {
	data := run.templateData()
	payload := workflow.RenderPayload(a.Config.TitleTemplate, a.Config.MessageTemplate, data)
	if a.Config.WebhookPayload != "" {
		body, err := workflow.RenderJSON(a.Config.WebhookPayload, data)
		if err != nil {
			return recordOutcome(ctx, x.Pipeline, run, a, payload, types.NewPermanentError("render webhook payload", err))
		}
		payload.Raw = body
	}
	payload.Destination = a.Config.WebhookURL

	ch := &types.AlertChannel{
		OrganizationID: run.dispatch.OrganizationID,
		Name:           "action:" + a.ID,
		ChannelType:    types.ChannelWebhook,
		Config:         types.ChannelConfig{"url": a.Config.WebhookURL},
		IsActive:       true,
	}
	t := collaboratorTarget(run, a, payload)
	t.Channel = ch
	row, err := x.Pipeline.Deliver(ctx, t)
	if err != nil {
		return err
	}
	if row.Status != types.NotificationSent && row.Status != types.NotificationDelivered {
		return fmt.Errorf("webhook delivery %s: %s", row.Status, row.DeliveryError)
	}
	return nil
}

// CreateTaskExecutor opens a follow-up task with the task service.
type CreateTaskExecutor struct {
	Tasks    external.TaskService
	Pipeline Deliverer
}

func (x *CreateTaskExecutor) Execute(ctx context.Context, run *dispatchRun, a types.Action) error {
	data := run.templateData()
	titleTmpl := a.Config.TaskTitle
	if titleTmpl == "" {
		titleTmpl = a.Config.TitleTemplate
	}
	payload := workflow.RenderPayload(titleTmpl, a.Config.MessageTemplate, data)
	if x.Tasks == nil {
		return recordOutcome(ctx, x.Pipeline, run, a, payload, types.NewPermanentError("task service not configured", nil))
	}
	taskID, err := x.Tasks.CreateTask(ctx, external.TaskRequest{
		Title:          payload.Title,
		Description:    payload.Description,
		Assignee:       a.Config.TaskAssignee,
		Severity:       run.event.Severity,
		OrganizationID: run.dispatch.OrganizationID,
		DispatchID:     run.dispatch.ID,
		EventID:        run.event.ID,
	})
	if err == nil {
		run.logger.Info("task created", "action_id", a.ID, "task_id", taskID)
	}
	return recordOutcome(ctx, x.Pipeline, run, a, payload, err)
}

// LogIncidentExecutor appends the event to the incident log.
type LogIncidentExecutor struct {
	Incidents external.IncidentLogger
	Pipeline  Deliverer
	Clock     types.Clock
}

func (x *LogIncidentExecutor) Execute(ctx context.Context, run *dispatchRun, a types.Action) error {
	payload := workflow.RenderPayload(a.Config.TitleTemplate, a.Config.MessageTemplate, run.templateData())
	category := a.Config.IncidentCategory
	if category == "" {
		category = run.event.EventType
	}
	occurred := run.event.Timestamp
	if occurred.IsZero() {
		occurred = x.Clock.Now()
	}
	incidentID, err := x.Incidents.LogIncident(ctx, external.IncidentRecord{
		Category:       category,
		Title:          payload.Title,
		Description:    payload.Description,
		Severity:       run.event.Severity,
		OrganizationID: run.dispatch.OrganizationID,
		DispatchID:     run.dispatch.ID,
		EventID:        run.event.ID,
		CameraID:       run.event.CameraID,
		OccurredAt:     occurred,
	})
	if err == nil {
		run.logger.Info("incident logged", "action_id", a.ID, "incident_id", incidentID)
	}
	return recordOutcome(ctx, x.Pipeline, run, a, payload, err)
}

// IoTActionExecutor publishes a device command on the command bus.
type IoTActionExecutor struct {
	Bus         external.CommandBus
	TopicPrefix string
	Pipeline    Deliverer
	Clock       types.Clock
}

func (x *IoTActionExecutor) Execute(ctx context.Context, run *dispatchRun, a types.Action) error {
	payload := workflow.RenderPayload(a.Config.TitleTemplate, a.Config.MessageTemplate, run.templateData())
	topic := a.Config.Topic
	if topic == "" && a.Config.DeviceID != "" {
		topic = x.TopicPrefix + "/" + a.Config.DeviceID + "/commands"
	}
	if !iot.ValidTopic(topic) {
		return recordOutcome(ctx, x.Pipeline, run, a, payload, types.NewPermanentError("no valid MQTT topic for iot_action", nil))
	}
	if x.Bus == nil {
		return recordOutcome(ctx, x.Pipeline, run, a, payload, types.NewPermanentError("command bus not configured", nil))
	}

	cmd := iot.Command{
		CommandID:  uuid.NewString(),
		Command:    a.Config.Command,
		DeviceID:   a.Config.DeviceID,
		DispatchID: run.dispatch.ID,
		Severity:   run.event.Severity,
		Title:      payload.Title,
		Message:    payload.Description,
		IssuedAt:   x.Clock.Now().UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(cmd)
	if err != nil {
		return recordOutcome(ctx, x.Pipeline, run, a, payload, err)
	}
	err = x.Bus.Publish(ctx, topic, body)
	if err == nil {
		run.logger.Info("device command published", "action_id", a.ID, "topic", topic, "command_id", cmd.CommandID)
	}
	return recordOutcome(ctx, x.Pipeline, run, a, payload, err)
}

// EscalateExecutor arms the dispatch's escalation ladder. Arming returns
// immediately; the ladder runs alongside later action groups.
type EscalateExecutor struct {
	Escalator *Escalator
	Enabled   bool
}

func (x *EscalateExecutor) Execute(ctx context.Context, run *dispatchRun, a types.Action) error {
	if !x.Enabled {
		run.logger.Info("escalation disabled, skipping escalate action", "action_id", a.ID)
		return nil
	}
	steps := escalationSteps(a, run.workflow)
	if len(steps) == 0 {
		return fmt.Errorf("escalate action %s has no steps and the workflow has no policy", a.ID)
	}
	armed := run.armEscalation(func() types.EscalationState {
		return x.Escalator.Run(run, steps, a.Config.TitleTemplate, a.Config.MessageTemplate)
	})
	if !armed {
		run.logger.Warn("escalation already armed for dispatch", "action_id", a.ID)
	}
	return nil
}

// armFollowUp arms the workflow's escalation policy after a successful
// send_notification that requires acknowledgment. The action's own send
// counts as step 0.
func (x *EscalateExecutor) armFollowUp(run *dispatchRun, a types.Action) {
	policy := run.workflow.EscalationPolicy
	if !x.Enabled || policy == nil || len(policy.Steps) == 0 {
		return
	}
	armed := run.armEscalation(func() types.EscalationState {
		return x.Escalator.FollowUp(run, policy.Steps, a.Config.TitleTemplate, a.Config.MessageTemplate)
	})
	if armed {
		run.logger.Info("workflow escalation policy armed", "action_id", a.ID, "steps", len(policy.Steps))
	}
}
