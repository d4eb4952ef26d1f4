package dispatch

import (
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"alertflow/internal/types"
)

// Scheduler runs a workflow's actions: groups by execution_order strictly
// in sequence, actions of a group concurrently.
type Scheduler struct {
	executors Executors
	sleeper   types.Sleeper
	settings  Settings
}

// NewScheduler creates a Scheduler over the given executors.
func NewScheduler(executors Executors, sleeper types.Sleeper, settings Settings) *Scheduler {
	return &Scheduler{executors: executors, sleeper: sleeper, settings: settings}
}

// Run executes every group and returns the abort reason of the first
// fail-fast failure, or "" when all groups ran. Siblings of a failed action
// always run to completion.
func (s *Scheduler) Run(run *dispatchRun) string {
	for _, g := range groupActions(run.workflow.FlowDefinition.Actions) {
		if run.ctx.Err() != nil {
			return ""
		}
		abort, gate := s.runGroup(run, g)
		if abort != "" {
			return abort
		}
		if gate {
			s.awaitAcknowledgment(run, g.order)
		}
	}
	return ""
}

// runGroup reports the abort reason, if any, and whether a successful
// action asked later groups to wait for acknowledgment.
func (s *Scheduler) runGroup(run *dispatchRun, g actionGroup) (string, bool) {
	logger := run.logger.With("execution_order", g.order)

	var (
		mu    sync.Mutex
		abort string
		gate  bool
	)
	var eg errgroup.Group
	for _, a := range g.actions {
		eg.Go(func() error {
			alog := logger.With("action_id", a.ID, "action_type", string(a.Type))
			if d := a.Config.Delay(s.settings.Minute); d > 0 {
				if err := s.sleeper.Sleep(run.ctx, d); err != nil {
					alog.Warn("action delay interrupted", "error", err.Error())
					return nil
				}
			}

			err := s.executeSafely(run, a)
			if err == nil {
				if a.Config.RequireAcknowledgment {
					if a.Type == types.ActionSendNotification {
						s.armPolicy(run, a)
					}
					mu.Lock()
					gate = true
					mu.Unlock()
				}
				return nil
			}

			if a.Config.ContinueOnFailure {
				alog.Warn("action failed, continuing", "error", err.Error())
				return nil
			}
			alog.Error("action failed, halting later groups", "error", err.Error())
			mu.Lock()
			if abort == "" {
				abort = fmt.Sprintf("action %s (%s) failed: %v", a.ID, a.Type, err)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	return abort, gate
}

func (s *Scheduler) executeSafely(run *dispatchRun, a types.Action) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("action panic: %v", rec)
		}
	}()
	return s.executors.execute(run.ctx, run, a)
}

// armPolicy hands an acknowledgment-gated notification to the workflow's
// escalation policy.
func (s *Scheduler) armPolicy(run *dispatchRun, a types.Action) {
	x, ok := s.executors[types.ActionEscalate].(*EscalateExecutor)
	if !ok {
		return
	}
	x.armFollowUp(run, a)
}

// awaitAcknowledgment blocks until the dispatch is acknowledged or, with an
// escalation armed, until the ladder ends; without one the ack timeout
// bounds the wait. Later groups run in every case.
func (s *Scheduler) awaitAcknowledgment(run *dispatchRun, order int) {
	if run.isAcknowledged() {
		return
	}
	if done := run.escalationDone(); done != nil {
		run.logger.Info("waiting for acknowledgment or escalation end", "execution_order", order)
		select {
		case <-done:
		case <-run.ackCtx.Done():
		}
		return
	}

	run.logger.Info("waiting for acknowledgment", "execution_order", order, "timeout", s.settings.AckTimeout.String())
	if err := s.sleeper.Sleep(run.ackCtx, s.settings.AckTimeout); err == nil {
		run.logger.Warn("acknowledgment timeout elapsed, continuing", "execution_order", order)
	}
}
