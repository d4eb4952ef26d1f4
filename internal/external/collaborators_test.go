package external

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"alertflow/internal/types"
)

func TestTaskClientCreateTask(t *testing.T) {
	var got TaskRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/tasks" || r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("path=%s auth=%s", r.URL.Path, r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"task_9"}`))
	}))
	defer srv.Close()

	base, _ := newTestClient(DefaultRetryPolicy())
	id, err := NewTaskClient(base, srv.URL, "tok").CreateTask(context.Background(), TaskRequest{
		Title: "Inspect dock B", Severity: types.SeverityHigh, DispatchID: "dsp_1",
	})
	if err != nil || id != "task_9" {
		t.Fatalf("CreateTask = %q, %v", id, err)
	}
	if got.Title != "Inspect dock B" || got.DispatchID != "dsp_1" {
		t.Errorf("request = %+v", got)
	}
}

func TestIncidentClient_RejectionIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte("unknown category"))
	}))
	defer srv.Close()

	base, _ := newTestClient(RetryPolicy{MinWait: time.Millisecond, MaxWait: time.Millisecond})
	_, err := NewIncidentClient(base, srv.URL, "").LogIncident(context.Background(), IncidentRecord{Category: "x"})
	if err == nil || types.IsTransient(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestLogIncidentLogger(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := NewLogIncidentLogger(logger).LogIncident(context.Background(), IncidentRecord{Title: "t"}); err != nil {
		t.Fatalf("LogIncident: %v", err)
	}
}
