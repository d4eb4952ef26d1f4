package dispatch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"alertflow/internal/external"
	"alertflow/internal/notifications/core"
	"alertflow/internal/types"
)

type mockLogger struct{}

func (l *mockLogger) Info(msg string, args ...any)  {}
func (l *mockLogger) Error(msg string, args ...any) {}
func (l *mockLogger) Warn(msg string, args ...any)  {}
func (l *mockLogger) With(args ...any) types.Logger { return l }

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeSleeper returns immediately, advancing the clock. onSleep runs before
// the clock moves and may cancel ctx to simulate an interruption.
type fakeSleeper struct {
	clock   *fakeClock
	mu      sync.Mutex
	sleeps  []time.Duration
	onSleep func(d time.Duration)
}

func (s *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	hook := s.onSleep
	s.mu.Unlock()
	if hook != nil {
		hook(d)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.clock.Advance(d)
	return nil
}

func (s *fakeSleeper) slept() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}

// blockingSleeper waits for ctx regardless of d.
type blockingSleeper struct{}

func (blockingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	<-ctx.Done()
	return ctx.Err()
}

type memDispatchStore struct {
	mu         sync.Mutex
	dispatches map[string]*types.Dispatch
	order      []string
	finished   map[string]string
}

func newMemDispatchStore() *memDispatchStore {
	return &memDispatchStore{
		dispatches: make(map[string]*types.Dispatch),
		finished:   make(map[string]string),
	}
}

func (m *memDispatchStore) Create(_ context.Context, d *types.Dispatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.dispatches[d.ID] = &cp
	m.order = append(m.order, d.ID)
	return nil
}

func (m *memDispatchStore) GetByID(_ context.Context, id string) (*types.Dispatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dispatches[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundDispatch, "dispatch not found", nil)
	}
	cp := *d
	return &cp, nil
}

func (m *memDispatchStore) UpdateStatus(_ context.Context, id string, status types.DispatchStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d := m.dispatches[id]; d != nil && d.CompletedAt == nil && d.Status != types.DispatchAcknowledged {
		d.Status = status
	}
	return nil
}

func (m *memDispatchStore) UpdateEscalation(_ context.Context, id string, state types.EscalationState, step int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.dispatches[id]
	if d == nil || d.EscalationState == types.EscalationAcknowledged || d.EscalationState == types.EscalationExhausted {
		return nil
	}
	d.EscalationState = state
	d.EscalationStep = step
	return nil
}

func (m *memDispatchStore) Finish(_ context.Context, id string, status types.DispatchStatus, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.dispatches[id]
	if d == nil || d.CompletedAt != nil {
		return false, nil
	}
	if !(d.Status == types.DispatchAcknowledged && status == types.DispatchCompleted) {
		d.Status = status
	}
	if reason != "" {
		d.AbortReason = reason
	}
	now := t0
	d.CompletedAt = &now
	m.finished[id] = string(status)
	return true, nil
}

func (m *memDispatchStore) MarkAcknowledged(_ context.Context, id, userID string, at time.Time) (*types.Dispatch, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dispatches[id]
	if !ok {
		return nil, false, types.NewAppError(types.ErrCodeNotFoundDispatch, "dispatch not found", nil)
	}
	if d.AcknowledgedAt != nil {
		cp := *d
		return &cp, false, nil
	}
	d.AcknowledgedAt = &at
	d.AcknowledgedBy = userID
	if d.CompletedAt == nil && d.EscalationState != types.EscalationExhausted {
		d.Status = types.DispatchAcknowledged
	}
	switch d.EscalationState {
	case types.EscalationArmed, types.EscalationNotified, types.EscalationEscalated:
		d.EscalationState = types.EscalationAcknowledged
	}
	cp := *d
	return &cp, true, nil
}

func (m *memDispatchStore) get(id string) types.Dispatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.dispatches[id]
}

func (m *memDispatchStore) ids() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

type staticWorkflows struct {
	workflows []*types.Workflow
	err       error
}

func (s *staticWorkflows) ListActive(_ context.Context, orgID string) ([]*types.Workflow, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []*types.Workflow
	for _, wf := range s.workflows {
		if wf.OrganizationID == orgID && wf.IsActive {
			out = append(out, wf)
		}
	}
	return out, nil
}

type staticChannels map[string]*types.AlertChannel

func (s staticChannels) GetByIDs(_ context.Context, orgID string, ids []string) (map[string]*types.AlertChannel, error) {
	out := make(map[string]*types.AlertChannel)
	for _, id := range ids {
		if ch, ok := s[id]; ok && ch.OrganizationID == orgID {
			out[id] = ch
		}
	}
	return out, nil
}

type staticPreferences map[string]*types.UserNotificationPreferences

func (s staticPreferences) GetMany(_ context.Context, _ string, userIDs []string) (map[string]*types.UserNotificationPreferences, error) {
	out := make(map[string]*types.UserNotificationPreferences)
	for _, id := range userIDs {
		if p, ok := s[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type delivery struct {
	source      string
	channelID   string
	recipient   string
	destination string
	status      types.NotificationStatus
	reason      string
	at          time.Time
}

// recordingDeliverer succeeds unless the channel id is listed in fail.
type recordingDeliverer struct {
	clock *fakeClock
	fail  map[string]bool

	mu   sync.Mutex
	rows []delivery
}

func (r *recordingDeliverer) add(d delivery) *types.AlertNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	d.at = r.clock.Now()
	r.rows = append(r.rows, d)
	return &types.AlertNotification{Source: d.source, ChannelID: d.channelID, Recipient: d.recipient, Status: d.status, DeliveryError: d.reason}
}

func (r *recordingDeliverer) Deliver(_ context.Context, t core.Target) (*types.AlertNotification, error) {
	status, reason := types.NotificationSent, ""
	if r.fail[t.Channel.ID] {
		status, reason = types.NotificationFailed, "client_error_400"
	}
	dest := ""
	if t.Payload != nil {
		dest = t.Payload.Destination
	}
	return r.add(delivery{source: t.Source, channelID: t.Channel.ID, recipient: t.Recipient, destination: dest, status: status, reason: reason}), nil
}

func (r *recordingDeliverer) Skip(_ context.Context, t core.Target, reason string) (*types.AlertNotification, error) {
	return r.add(delivery{source: t.Source, channelID: t.Channel.ID, recipient: t.Recipient, status: types.NotificationSkipped, reason: reason}), nil
}

func (r *recordingDeliverer) Record(_ context.Context, t core.Target, notificationType string, callErr error) (*types.AlertNotification, error) {
	status, reason := types.NotificationSent, ""
	if callErr != nil {
		status, reason = types.NotificationFailed, callErr.Error()
	}
	channelID := notificationType
	if t.Channel != nil {
		channelID = t.Channel.ID
	}
	return r.add(delivery{source: t.Source, channelID: channelID, recipient: t.Recipient, status: status, reason: reason}), nil
}

func (r *recordingDeliverer) bySource(source string) []delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []delivery
	for _, d := range r.rows {
		if d.source == source {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].channelID < out[j].channelID })
	return out
}

func (r *recordingDeliverer) sources() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int)
	for _, d := range r.rows {
		out[d.source]++
	}
	return out
}

type memDedupe struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func (m *memDedupe) FirstSeen(_ context.Context, orgID, eventID string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	key := orgID + "/" + eventID
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

type memCooldowns struct {
	mu      sync.Mutex
	held    map[string]bool
	windows []time.Duration
}

func (m *memCooldowns) Acquire(_ context.Context, workflowID, key string, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held == nil {
		m.held = make(map[string]bool)
	}
	m.windows = append(m.windows, window)
	k := workflowID + "/" + key
	if m.held[k] {
		return false, nil
	}
	m.held[k] = true
	return true, nil
}

type recordingReports struct {
	mu      sync.Mutex
	reports []Report
}

func (r *recordingReports) Publish(_ context.Context, rep Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
	return nil
}

func (r *recordingReports) kinds() []ReportKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ReportKind
	for _, rep := range r.reports {
		out = append(out, rep.Kind)
	}
	return out
}

type countingMetrics struct {
	core.NoopMetrics
	mu         sync.Mutex
	exhausted  int
	anomalies  []string
	dispatches []types.DispatchStatus
}

func (m *countingMetrics) RecordDispatch(_ context.Context, s types.DispatchStatus) {
	m.mu.Lock()
	m.dispatches = append(m.dispatches, s)
	m.mu.Unlock()
}

func (m *countingMetrics) RecordEscalationExhausted(context.Context) {
	m.mu.Lock()
	m.exhausted++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordAnomaly(_ context.Context, kind string) {
	m.mu.Lock()
	m.anomalies = append(m.anomalies, kind)
	m.mu.Unlock()
}

type stubTasks struct {
	err   error
	mu    sync.Mutex
	calls []external.TaskRequest
}

func (s *stubTasks) CreateTask(_ context.Context, req external.TaskRequest) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	return "task-1", nil
}

type stubIncidents struct {
	mu      sync.Mutex
	records []external.IncidentRecord
}

func (s *stubIncidents) LogIncident(_ context.Context, rec external.IncidentRecord) (string, error) {
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	return "inc-1", nil
}

type stubBus struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
}

func (s *stubBus) Publish(_ context.Context, topic string, payload []byte) error {
	s.mu.Lock()
	s.topics = append(s.topics, topic)
	s.payloads = append(s.payloads, payload)
	s.mu.Unlock()
	return nil
}

var errTaskService = errors.New("task service unavailable")
