package dispatch

import (
	"context"
	"fmt"
	"time"

	"alertflow/internal/notifications/core"
	"alertflow/internal/types"
	"alertflow/internal/workflow"
)

// Escalator walks an escalation ladder for one dispatch:
//
//	armed -> notified(0) -> escalated(1) -> ... -> exhausted
//
// with acknowledged reachable from every non-final state. Step 0 fires on
// arming; step N+1 fires steps[N+1].DelayMinutes after step N. After the
// last step a final acknowledgment window runs before exhaustion.
type Escalator struct {
	store    DispatchStore
	notifier *Notifier
	reports  ReportPublisher
	sleeper  types.Sleeper
	clock    types.Clock
	metrics  core.NotificationMetrics
	settings Settings
}

// NewEscalator creates an Escalator. A nil metrics records nothing.
func NewEscalator(store DispatchStore, notifier *Notifier, reports ReportPublisher, sleeper types.Sleeper, clock types.Clock, metrics core.NotificationMetrics, settings Settings) *Escalator {
	if metrics == nil {
		metrics = core.NoopMetrics{}
	}
	return &Escalator{
		store:    store,
		notifier: notifier,
		reports:  reports,
		sleeper:  sleeper,
		clock:    clock,
		metrics:  metrics,
		settings: settings,
	}
}

// Run executes the ladder and returns the final state. It blocks until the
// dispatch is acknowledged, the ladder is exhausted, or the run is halted or
// ends.
func (e *Escalator) Run(run *dispatchRun, steps []types.EscalationStep, titleTmpl, messageTmpl string) types.EscalationState {
	return e.walk(run, steps, 0, titleTmpl, messageTmpl)
}

// FollowUp executes the ladder of a notification that already went out as
// step 0, starting with the wait before step 1.
func (e *Escalator) FollowUp(run *dispatchRun, steps []types.EscalationStep, titleTmpl, messageTmpl string) types.EscalationState {
	return e.walk(run, steps, 1, titleTmpl, messageTmpl)
}

func (e *Escalator) walk(run *dispatchRun, steps []types.EscalationStep, first int, titleTmpl, messageTmpl string) types.EscalationState {
	logger := run.logger.With("component", "escalation", "steps", len(steps))
	e.persist(run, types.EscalationArmed, 0)
	if err := e.store.UpdateStatus(context.WithoutCancel(run.ctx), run.dispatch.ID, types.DispatchEscalating); err != nil {
		logger.Warn("failed to mark dispatch escalating", "error", err.Error())
	}
	if first > 0 {
		e.persist(run, types.EscalationNotified, 0)
	}

	payload := workflow.RenderPayload(titleTmpl, messageTmpl, run.templateData())

	for n := first; n < len(steps); n++ {
		step := steps[n]
		if n > 0 {
			wait := time.Duration(step.DelayMinutes) * e.settings.Minute
			if err := e.sleeper.Sleep(run.ackCtx, wait); err != nil {
				return e.interrupted(run, logger, n-1)
			}
		}
		if run.ackCtx.Err() != nil {
			return e.interrupted(run, logger, n-1)
		}

		state := types.EscalationEscalated
		if n == 0 {
			state = types.EscalationNotified
		}
		res, err := e.notifier.fanOut(run.ackCtx, run, fanOutRequest{
			source:     fmt.Sprintf("escalation:%d", n),
			channelIDs: step.ChannelIDs,
			recipients: step.Recipients,
			payload:    payload,
		})
		if err != nil {
			logger.Error("escalation step failed", "step", n, "error", err.Error())
		} else if res.Err() != nil {
			logger.Warn("escalation step delivered nothing", "step", n, "failed", res.Failed)
		}
		e.persist(run, state, n)
		logger.Info("escalation step fired", "step", n, "state", string(state),
			"delivered", res.Delivered, "failed", res.Failed, "skipped", res.Skipped)
	}

	last := len(steps) - 1
	if err := e.sleeper.Sleep(run.ackCtx, e.settings.FinalAckWindow); err != nil {
		return e.interrupted(run, logger, last)
	}
	if run.isAcknowledged() {
		return e.interrupted(run, logger, last)
	}
	e.exhaust(run, logger, last, "no acknowledgment after final step")
	return types.EscalationExhausted
}

// interrupted resolves a wait that ended early: acknowledgment, a fail-fast
// abort, which stops the ladder where it is, or the run itself ending
// (deadline, shutdown), which forces exhaustion.
func (e *Escalator) interrupted(run *dispatchRun, logger types.Logger, step int) types.EscalationState {
	if step < 0 {
		step = 0
	}
	if run.isAcknowledged() {
		run.setEscalationState(types.EscalationAcknowledged)
		logger.Info("escalation acknowledged", "step", step)
		return types.EscalationAcknowledged
	}
	if run.isHalted() {
		state := run.escalationState()
		logger.Info("escalation stopped, dispatch aborted", "step", step, "state", string(state))
		return state
	}
	reason := "dispatch ended before acknowledgment"
	if err := context.Cause(run.ctx); err != nil {
		reason = reason + ": " + err.Error()
	}
	e.exhaust(run, logger, step, reason)
	return types.EscalationExhausted
}

func (e *Escalator) exhaust(run *dispatchRun, logger types.Logger, step int, reason string) {
	e.persist(run, types.EscalationExhausted, step)
	e.metrics.RecordEscalationExhausted(context.WithoutCancel(run.ctx))
	logger.Warn("escalation exhausted without acknowledgment",
		"step", step,
		"severity", string(run.event.Severity),
		"reason", reason,
	)
	if e.reports == nil || !run.event.Severity.AtLeast(e.settings.ExhaustedReportFloor) {
		return
	}
	err := e.reports.Publish(context.WithoutCancel(run.ctx), Report{
		Kind:           ReportEscalationExhausted,
		DispatchID:     run.dispatch.ID,
		WorkflowID:     run.workflow.ID,
		WorkflowName:   run.workflow.Name,
		OrganizationID: run.dispatch.OrganizationID,
		EventID:        run.event.ID,
		Severity:       run.event.Severity,
		Step:           step,
		Reason:         reason,
		OccurredAt:     e.clock.Now(),
	})
	if err != nil {
		logger.Error("failed to publish exhausted escalation report", "error", err.Error())
	}
}

func (e *Escalator) persist(run *dispatchRun, state types.EscalationState, step int) {
	run.setEscalationState(state)
	if err := e.store.UpdateEscalation(context.WithoutCancel(run.ctx), run.dispatch.ID, state, step); err != nil {
		run.logger.Error("failed to persist escalation state",
			"state", string(state), "step", step, "error", err.Error())
	}
}
