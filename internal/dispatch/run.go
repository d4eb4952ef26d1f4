package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"alertflow/internal/types"
	"alertflow/internal/workflow"
)

// dispatchRun is the in-memory state of one executing dispatch.
type dispatchRun struct {
	dispatch *types.Dispatch
	workflow *types.Workflow
	event    *types.Event
	logger   types.Logger

	// ctx ends at the dispatch deadline or on shutdown. ackCtx additionally
	// ends on acknowledgment or a fail-fast abort; escalation waits and sends
	// run under it.
	ctx       context.Context
	cancel    context.CancelCauseFunc
	ackCtx    context.Context
	cancelAck context.CancelFunc
	acked     atomic.Bool
	halted    atomic.Bool

	mu       sync.Mutex
	escDone  chan struct{}
	escState types.EscalationState
}

func newDispatchRun(ctx context.Context, cancel context.CancelCauseFunc, d *types.Dispatch, wf *types.Workflow, ev *types.Event, logger types.Logger) *dispatchRun {
	ackCtx, cancelAck := context.WithCancel(ctx)
	return &dispatchRun{
		dispatch:  d,
		workflow:  wf,
		event:     ev,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		ackCtx:    ackCtx,
		cancelAck: cancelAck,
	}
}

// acknowledge signals the run. It reports whether this call was the first.
func (r *dispatchRun) acknowledge() bool {
	if !r.acked.CompareAndSwap(false, true) {
		return false
	}
	r.cancelAck()
	return true
}

func (r *dispatchRun) isAcknowledged() bool {
	return r.acked.Load()
}

// halt stops the escalation of an aborted dispatch: pending timers and
// in-flight sends end without exhausting the ladder.
func (r *dispatchRun) halt() {
	r.halted.Store(true)
	r.cancelAck()
}

func (r *dispatchRun) isHalted() bool {
	return r.halted.Load()
}

func (r *dispatchRun) templateData() workflow.TemplateData {
	return workflow.TemplateData{
		Event:        r.event,
		DispatchID:   r.dispatch.ID,
		WorkflowName: r.workflow.Name,
	}
}

// armEscalation runs fn in the background unless an escalation was already
// armed. At most one escalation exists per dispatch.
func (r *dispatchRun) armEscalation(fn func() types.EscalationState) bool {
	r.mu.Lock()
	if r.escDone != nil {
		r.mu.Unlock()
		return false
	}
	done := make(chan struct{})
	r.escDone = done
	r.escState = types.EscalationArmed
	r.mu.Unlock()

	go func() {
		defer close(done)
		state := types.EscalationExhausted
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("escalation panicked", "panic", fmt.Sprint(rec))
			}
			r.setEscalationState(state)
		}()
		state = fn()
	}()
	return true
}

// escalationDone returns nil when no escalation was armed.
func (r *dispatchRun) escalationDone() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.escDone
}

func (r *dispatchRun) escalationState() types.EscalationState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.escState
}

func (r *dispatchRun) setEscalationState(s types.EscalationState) {
	r.mu.Lock()
	r.escState = s
	r.mu.Unlock()
}

// liveSet indexes the runs executing on this instance.
type liveSet struct {
	mu   sync.RWMutex
	runs map[string]*dispatchRun
}

func newLiveSet() *liveSet {
	return &liveSet{runs: make(map[string]*dispatchRun)}
}

func (s *liveSet) add(r *dispatchRun) {
	s.mu.Lock()
	s.runs[r.dispatch.ID] = r
	s.mu.Unlock()
}

func (s *liveSet) get(id string) (*dispatchRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	return r, ok
}

func (s *liveSet) remove(id string) {
	s.mu.Lock()
	delete(s.runs, id)
	s.mu.Unlock()
}

func (s *liveSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

func (s *liveSet) cancelAll(cause error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.runs {
		r.cancel(cause)
	}
}
