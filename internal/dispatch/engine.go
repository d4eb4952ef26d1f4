// Package dispatch turns events into dispatches: it evaluates an
// organization's workflows, runs the matching workflows' actions in
// execution-order groups, drives escalation ladders and routes
// acknowledgments to the live dispatch.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"alertflow/internal/notifications/core"
	"alertflow/internal/types"
	"alertflow/internal/workflow"
)

var (
	errDispatchTimeout = errors.New("dispatch timeout exceeded")
	errEngineShutdown  = errors.New("engine shutdown")
)

// Deps are the collaborators of an Engine. Dedupe, Cooldowns, AckBus and
// Reports are optional.
type Deps struct {
	Dispatches DispatchStore
	Workflows  WorkflowSource
	Scheduler  *Scheduler
	Dedupe     Deduplicator
	Cooldowns  CooldownStore
	AckBus     AckBus
	Reports    ReportPublisher
	Clock      types.Clock
	Metrics    core.NotificationMetrics
	Logger     types.Logger
}

// Engine accepts events and owns the dispatches running on this instance.
type Engine struct {
	dispatches DispatchStore
	workflows  WorkflowSource
	scheduler  *Scheduler
	dedupe     Deduplicator
	cooldowns  CooldownStore
	ackBus     AckBus
	reports    ReportPublisher
	clock      types.Clock
	metrics    core.NotificationMetrics
	logger     types.Logger
	settings   Settings
	validate   *validator.Validate

	root    context.Context
	stop    context.CancelCauseFunc
	live    *liveSet
	wg      sync.WaitGroup
	mu      sync.Mutex
	closing bool
}

// NewEngine creates an Engine. Dispatches run under a root context that
// Shutdown cancels.
func NewEngine(deps Deps, settings Settings) *Engine {
	if deps.Metrics == nil {
		deps.Metrics = core.NoopMetrics{}
	}
	root, stop := context.WithCancelCause(context.Background())
	return &Engine{
		dispatches: deps.Dispatches,
		workflows:  deps.Workflows,
		scheduler:  deps.Scheduler,
		dedupe:     deps.Dedupe,
		cooldowns:  deps.Cooldowns,
		ackBus:     deps.AckBus,
		reports:    deps.Reports,
		clock:      deps.Clock,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		settings:   settings,
		validate:   validator.New(),
		root:       root,
		stop:       stop,
		live:       newLiveSet(),
	}
}

// IngestResult is returned to the event producer.
type IngestResult struct {
	EventID     string   `json:"event_id"`
	Duplicate   bool     `json:"duplicate"`
	DispatchIDs []string `json:"dispatch_ids"`
	// Suppressed lists workflows that matched but were inside their cooldown.
	Suppressed []string `json:"suppressed_workflow_ids,omitempty"`
}

// HandleEvent evaluates the event against the organization's active
// workflows and starts one dispatch per match, highest priority first. It
// returns once the dispatches are started. Only validation and workflow
// loading errors are returned; failures of individual workflows are logged.
func (e *Engine) HandleEvent(ctx context.Context, ev *types.Event) (*IngestResult, error) {
	e.normalize(ev)
	if err := e.validate.Struct(ev); err != nil {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidEvent, "invalid event", err,
			map[string]any{"fields": validationFields(err)})
	}
	logger := e.logger.With("event_id", ev.ID, "organization_id", ev.OrganizationID)

	workflows, err := e.workflows.ListActive(ctx, ev.OrganizationID)
	if err != nil {
		return nil, err
	}

	res := &IngestResult{EventID: ev.ID, DispatchIDs: []string{}}
	if e.dedupe != nil {
		first, err := e.dedupe.FirstSeen(ctx, ev.OrganizationID, ev.ID)
		if err != nil {
			logger.Warn("dedupe check failed, processing event", "error", err.Error())
		} else if !first {
			logger.Info("duplicate event ignored")
			res.Duplicate = true
			return res, nil
		}
	}

	sort.SliceStable(workflows, func(i, j int) bool { return workflows[i].Priority > workflows[j].Priority })
	for _, wf := range workflows {
		wlog := logger.With("workflow_id", wf.ID)
		matched, err := workflow.Evaluate(ev, wf)
		if err != nil {
			wlog.Warn("workflow evaluation failed, skipping workflow", "error", err.Error())
			continue
		}
		if !matched {
			continue
		}
		if !e.acquireCooldown(ctx, wlog, wf, ev) {
			res.Suppressed = append(res.Suppressed, wf.ID)
			continue
		}
		id, err := e.start(ctx, wf, ev)
		if err != nil {
			wlog.Error("failed to start dispatch", "error", err.Error())
			continue
		}
		res.DispatchIDs = append(res.DispatchIDs, id)
	}

	logger.Info("event processed",
		"workflows", len(workflows),
		"dispatches", len(res.DispatchIDs),
		"suppressed", len(res.Suppressed),
	)
	return res, nil
}

func (e *Engine) normalize(ev *types.Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.clock.Now()
	}
	ev.Severity = types.ParseSeverity(string(ev.Severity))
	ev.EventType = strings.TrimSpace(ev.EventType)
}

// acquireCooldown fails open: a cooldown store outage never drops alerts.
func (e *Engine) acquireCooldown(ctx context.Context, logger types.Logger, wf *types.Workflow, ev *types.Event) bool {
	minutes := wf.FlowDefinition.Modifiers.CooldownMinutes
	if minutes <= 0 || e.cooldowns == nil {
		return true
	}
	key := ev.CameraID
	if key == "" {
		key = "*"
	}
	ok, err := e.cooldowns.Acquire(ctx, wf.ID, key, time.Duration(minutes)*e.settings.Minute)
	if err != nil {
		logger.Warn("cooldown check failed, firing workflow", "error", err.Error())
		return true
	}
	if !ok {
		logger.Info("workflow in cooldown", "camera_id", ev.CameraID, "cooldown_minutes", minutes)
	}
	return ok
}

func (e *Engine) start(ctx context.Context, wf *types.Workflow, ev *types.Event) (string, error) {
	timeout := DispatchTimeout(wf, e.settings)
	now := e.clock.Now()
	d := &types.Dispatch{
		ID:             "dsp_" + uuid.NewString(),
		WorkflowID:     wf.ID,
		EventID:        ev.ID,
		OrganizationID: ev.OrganizationID,
		Status:         types.DispatchExecuting,
		Event:          types.EventSnapshot(*ev),
		CreatedAt:      now,
		UpdatedAt:      now,
		DeadlineAt:     now.Add(timeout),
	}
	if err := e.dispatches.Create(ctx, d); err != nil {
		return "", fmt.Errorf("create dispatch: %w", err)
	}

	parent, cancel := context.WithCancelCause(e.root)
	runCtx, cancelTimeout := context.WithTimeoutCause(parent, timeout, errDispatchTimeout)
	cancelRun := func(cause error) {
		cancel(cause)
		cancelTimeout()
	}
	logger := e.logger.With(
		"dispatch_id", d.ID,
		"workflow_id", wf.ID,
		"event_id", ev.ID,
		"organization_id", d.OrganizationID,
	)
	runCtx = types.WithLogger(types.WithDispatchID(runCtx, d.ID), logger)
	run := newDispatchRun(runCtx, cancelRun, d, wf, ev, logger)

	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		cancelRun(errEngineShutdown)
		if _, err := e.dispatches.Finish(context.WithoutCancel(ctx), d.ID, types.DispatchAborted, errEngineShutdown.Error()); err != nil {
			logger.Error("failed to abort dispatch", "error", err.Error())
		}
		return "", errEngineShutdown
	}
	e.live.add(run)
	e.wg.Add(1)
	e.mu.Unlock()
	go e.run(run)

	logger.Info("dispatch started", "priority", wf.Priority, "deadline_at", d.DeadlineAt)
	return d.ID, nil
}

func (e *Engine) run(run *dispatchRun) {
	defer e.wg.Done()
	defer e.live.remove(run.dispatch.ID)
	defer run.cancel(nil)

	status, reason := e.execute(run)

	finished, err := e.dispatches.Finish(context.Background(), run.dispatch.ID, status, reason)
	if err != nil {
		run.logger.Error("failed to finish dispatch", "status", string(status), "error", err.Error())
		return
	}
	if !finished {
		run.logger.Warn("dispatch already finished", "status", string(status))
		return
	}
	e.metrics.RecordDispatch(context.Background(), status)
	run.logger.Info("dispatch finished",
		"status", string(status),
		"abort_reason", reason,
		"escalation_state", string(run.escalationState()),
	)
}

// execute runs the scheduler, then waits for any armed escalation, and
// returns the final dispatch status. A fail-fast abort stops the escalation
// before the wait.
func (e *Engine) execute(run *dispatchRun) (status types.DispatchStatus, reason string) {
	defer func() {
		if rec := recover(); rec != nil {
			status, reason = types.DispatchAborted, fmt.Sprintf("panic: %v", rec)
			e.anomaly(run, reason)
		}
	}()

	abort := e.scheduler.Run(run)
	if abort != "" {
		run.halt()
	}
	if done := run.escalationDone(); done != nil {
		<-done
	}

	cause := context.Cause(run.ctx)
	switch {
	case abort != "":
		return types.DispatchAborted, abort
	case errors.Is(cause, errDispatchTimeout):
		e.anomaly(run, errDispatchTimeout.Error())
		if run.isAcknowledged() {
			return types.DispatchAcknowledged, ""
		}
		return types.DispatchAborted, errDispatchTimeout.Error()
	case errors.Is(cause, errEngineShutdown):
		return types.DispatchAborted, errEngineShutdown.Error()
	case run.isAcknowledged():
		return types.DispatchAcknowledged, ""
	default:
		return types.DispatchCompleted, ""
	}
}

// anomaly logs and reports an engine fault. Anomalies never fail the caller.
func (e *Engine) anomaly(run *dispatchRun, reason string) {
	ctx := context.Background()
	run.logger.Error("dispatch anomaly", "reason", reason)
	e.metrics.RecordAnomaly(ctx, anomalyKind(reason))
	if e.reports == nil {
		return
	}
	err := e.reports.Publish(ctx, Report{
		Kind:           ReportEngineAnomaly,
		DispatchID:     run.dispatch.ID,
		WorkflowID:     run.workflow.ID,
		WorkflowName:   run.workflow.Name,
		OrganizationID: run.dispatch.OrganizationID,
		EventID:        run.event.ID,
		Severity:       run.event.Severity,
		Reason:         reason,
		OccurredAt:     e.clock.Now(),
	})
	if err != nil {
		run.logger.Error("failed to publish anomaly report", "error", err.Error())
	}
}

func anomalyKind(reason string) string {
	switch {
	case strings.HasPrefix(reason, "panic"):
		return "panic"
	case reason == errDispatchTimeout.Error():
		return "timeout"
	default:
		return "other"
	}
}

// AckResult describes the effect of an acknowledgment.
type AckResult struct {
	Dispatch *types.Dispatch `json:"dispatch"`
	// Late is set when the dispatch had already finished or its escalation
	// was exhausted. The acknowledgment is stored but changes nothing.
	Late                bool `json:"late"`
	AlreadyAcknowledged bool `json:"already_acknowledged"`
}

// Acknowledge records userID's acknowledgment of a dispatch and signals the
// running dispatch, here or on another instance. Repeated acknowledgments
// return the stored state.
func (e *Engine) Acknowledge(ctx context.Context, dispatchID, userID string) (*AckResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "user_id is required", nil)
	}
	d, first, err := e.dispatches.MarkAcknowledged(ctx, dispatchID, userID, e.clock.Now())
	if err != nil {
		return nil, err
	}
	res := &AckResult{Dispatch: d, AlreadyAcknowledged: !first}
	logger := e.logger.With("dispatch_id", dispatchID, "user_id", userID)
	if !first {
		logger.Info("dispatch already acknowledged", "acknowledged_by", d.AcknowledgedBy)
		return res, nil
	}

	if d.EscalationState == types.EscalationExhausted || d.Status.IsTerminal() {
		res.Late = true
		race := &types.AcknowledgmentRaceError{DispatchID: dispatchID, State: d.EscalationState}
		logger.Warn("late acknowledgment recorded", "status", string(d.Status), "detail", race.Error())
		return res, nil
	}

	if run, ok := e.live.get(dispatchID); ok {
		run.acknowledge()
		logger.Info("dispatch acknowledged")
		return res, nil
	}
	if e.ackBus != nil {
		if err := e.ackBus.Publish(ctx, dispatchID); err != nil {
			// The stored acknowledgment still stops escalation on restart.
			logger.Error("failed to publish acknowledgment", "error", err.Error())
		}
	}
	logger.Info("dispatch acknowledged", "remote", true)
	return res, nil
}

// Start subscribes to acknowledgments published by other instances.
func (e *Engine) Start(ctx context.Context) {
	if e.ackBus == nil {
		return
	}
	go func() {
		err := e.ackBus.Subscribe(ctx, func(dispatchID string) {
			if run, ok := e.live.get(dispatchID); ok && run.acknowledge() {
				run.logger.Info("dispatch acknowledged via ack bus")
			}
		})
		if err != nil && ctx.Err() == nil {
			e.logger.Error("ack bus subscription ended", "error", err.Error())
		}
	}()
}

// Live returns the number of dispatches running on this instance.
func (e *Engine) Live() int {
	return e.live.len()
}

// Shutdown stops accepting events and waits for running dispatches until
// ctx ends; the remainder are aborted with reason "engine shutdown".
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closing = true
	e.mu.Unlock()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.stop(errEngineShutdown)
		return nil
	case <-ctx.Done():
	}
	e.logger.Warn("aborting running dispatches", "count", e.live.len())
	e.live.cancelAll(errEngineShutdown)
	e.stop(errEngineShutdown)
	<-done
	return ctx.Err()
}

// ChannelStatusStore records advisory channel health.
type ChannelStatusStore interface {
	UpdateTestStatus(ctx context.Context, id, orgID string, status types.ChannelTestStatus, at time.Time) error
}

// MarkChannelFailed returns a permanent-failure hook for the delivery
// pipeline that flags the channel's test_status for its owners. Delivery
// never reads test_status.
func MarkChannelFailed(store ChannelStatusStore, clock types.Clock, logger types.Logger) func(ctx context.Context, ch *types.AlertChannel, reason string) {
	return func(ctx context.Context, ch *types.AlertChannel, reason string) {
		if ch == nil || ch.ID == "" {
			return
		}
		if err := store.UpdateTestStatus(ctx, ch.ID, ch.OrganizationID, types.TestStatusFailed, clock.Now()); err != nil {
			logger.Warn("failed to flag channel", "channel_id", ch.ID, "error", err.Error())
			return
		}
		logger.Info("channel flagged after permanent failure", "channel_id", ch.ID, "reason", reason)
	}
}

func validationFields(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fe.Field()+":"+fe.Tag())
	}
	return out
}
