package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type recordingService struct {
	mu    sync.Mutex
	calls []TaskType
	nows  []time.Time
	fail  map[TaskType]error
}

func (s *recordingService) Run(_ context.Context, task TaskType, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, task)
	s.nows = append(s.nows, now)
	if err := s.fail[task]; err != nil {
		return 0, err
	}
	return 4, nil
}

type mapLock struct {
	mu   sync.Mutex
	held map[string]string
	err  error
}

func (l *mapLock) Acquire(_ context.Context, lockID, workerID string, _ time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = make(map[string]string)
	}
	if _, ok := l.held[lockID]; ok {
		return false, nil
	}
	l.held[lockID] = workerID
	return true, nil
}

func TestHandle_RunsUnderLock(t *testing.T) {
	svc := &recordingService{}
	lock := &mapLock{}
	h := &Handler{Service: svc, JobLock: lock, Clock: fixedClock{refTime.Add(7 * time.Minute)}, WorkerID: "w1", Logger: testLogger()}

	res, err := h.Handle(context.Background(), MaintenancePayload{Task: TaskPurgeDispatches})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != "task purge_dispatches complete: 4 items processed" {
		t.Errorf("result = %q", res)
	}
	if holder := lock.held["purge_dispatches:2026-03-02T09:00"]; holder != "w1" {
		t.Errorf("lock holder = %q, locks = %v", holder, lock.held)
	}

	res, err = h.Handle(context.Background(), MaintenancePayload{Task: TaskPurgeDispatches})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(res, "skipped:") {
		t.Errorf("second run in the slot should be skipped, got %q", res)
	}
	if len(svc.calls) != 1 {
		t.Errorf("service called %d times, want 1", len(svc.calls))
	}
}

func TestHandle_ReferenceTime(t *testing.T) {
	svc := &recordingService{}
	h := &Handler{Service: svc, Clock: fixedClock{refTime}, Logger: testLogger()}

	ref := time.Date(2026, 1, 15, 3, 0, 0, 0, time.FixedZone("EST", -5*3600))
	if _, err := h.Handle(context.Background(), MaintenancePayload{Task: TaskPurgeNotifications, ReferenceTime: &ref}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !svc.nows[0].Equal(ref) || svc.nows[0].Location() != time.UTC {
		t.Errorf("now = %v, want %v in UTC", svc.nows[0], ref)
	}
}

func TestHandle_Errors(t *testing.T) {
	h := &Handler{Service: &recordingService{}, Logger: testLogger()}
	if _, err := h.Handle(context.Background(), MaintenancePayload{}); err == nil {
		t.Error("expected error for empty task")
	}

	h.JobLock = &mapLock{err: errors.New("redis down")}
	if _, err := h.Handle(context.Background(), MaintenancePayload{Task: TaskPurgeDispatches}); err == nil {
		t.Error("expected lock error")
	}

	h.JobLock = nil
	h.Service = &recordingService{fail: map[TaskType]error{TaskFailStalePending: errors.New("boom")}}
	_, err := h.Handle(context.Background(), MaintenancePayload{Task: TaskFailStalePending})
	if err == nil || !strings.Contains(err.Error(), "fail_stale_pending") {
		t.Errorf("err = %v", err)
	}
}

func TestLockFunc(t *testing.T) {
	var got string
	var l JobLocker = LockFunc(func(_ context.Context, id, _ string, _ time.Duration) (bool, error) {
		got = id
		return true, nil
	})
	ok, _ := l.Acquire(context.Background(), "x", "w", time.Minute)
	if !ok || got != "x" {
		t.Errorf("LockFunc did not delegate: ok=%v id=%q", ok, got)
	}
}

func TestRunner_RunOnceContinuesAfterFailure(t *testing.T) {
	svc := &recordingService{fail: map[TaskType]error{TaskReapStaleDispatches: errors.New("boom")}}
	h := &Handler{Service: svc, Clock: fixedClock{refTime}, Logger: testLogger()}

	r, err := NewRunner("@every 15m", h, nil, testLogger())
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	r.RunOnce(context.Background())

	if len(svc.calls) != len(AllTasks) {
		t.Fatalf("ran %v, want every task", svc.calls)
	}
	for i, task := range AllTasks {
		if svc.calls[i] != task {
			t.Errorf("call %d = %s, want %s", i, svc.calls[i], task)
		}
	}
}

func TestRunner_InvalidSchedule(t *testing.T) {
	if _, err := NewRunner("every now and then", &Handler{}, nil, testLogger()); err == nil {
		t.Error("expected parse error")
	}
}

func TestRunner_StartStop(t *testing.T) {
	r, err := NewRunner("@every 1h", &Handler{Service: &recordingService{}}, nil, testLogger())
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	r.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Errorf("Stop: %v", err)
	}
}
