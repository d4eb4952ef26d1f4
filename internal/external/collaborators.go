package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"alertflow/internal/types"
)

// collaboratorClient posts JSON to a first-party service and reads back an id.
type collaboratorClient struct {
	base    *BaseClient
	baseURL string
	token   types.SecretString
	name    string
}

type createdResponse struct {
	ID string `json:"id"`
}

func (c *collaboratorClient) post(ctx context.Context, path string, v any) (string, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return "", permanentAppError(types.ErrCodeInternalUnexpected, "failed to encode "+c.name+" request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", permanentAppError(types.ErrCodeInternalUnexpected, "failed to build "+c.name+" request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token.IsSet() {
		req.Header.Set("Authorization", "Bearer "+c.token.Unmask())
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return "", err
	}
	raw := readBody(resp, 64<<10)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", permanentAppError(types.ErrCodeUpstreamCollaborator,
			fmt.Sprintf("%s returned %d: %s", c.name, resp.StatusCode, strings.TrimSpace(string(raw))), nil)
	}
	var created createdResponse
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &created)
	}
	return created.ID, nil
}

// TaskClient creates tasks in the task service.
type TaskClient struct {
	c collaboratorClient
}

// NewTaskClient builds a client for baseURL.
func NewTaskClient(base *BaseClient, baseURL string, token types.SecretString) *TaskClient {
	return &TaskClient{c: collaboratorClient{base: base, baseURL: strings.TrimSuffix(baseURL, "/"), token: token, name: "task service"}}
}

// CreateTask posts req to /v1/tasks.
func (t *TaskClient) CreateTask(ctx context.Context, req TaskRequest) (string, error) {
	return t.c.post(ctx, "/v1/tasks", req)
}

// IncidentClient appends to the incident log service.
type IncidentClient struct {
	c collaboratorClient
}

// NewIncidentClient builds a client for baseURL.
func NewIncidentClient(base *BaseClient, baseURL string, token types.SecretString) *IncidentClient {
	return &IncidentClient{c: collaboratorClient{base: base, baseURL: strings.TrimSuffix(baseURL, "/"), token: token, name: "incident service"}}
}

// LogIncident posts rec to /v1/incidents.
func (i *IncidentClient) LogIncident(ctx context.Context, rec IncidentRecord) (string, error) {
	return i.c.post(ctx, "/v1/incidents", rec)
}

// LogIncidentLogger writes incidents to the structured log. It backs
// log_incident when no incident service is configured.
type LogIncidentLogger struct {
	logger *slog.Logger
}

// NewLogIncidentLogger builds the log-only incident sink.
func NewLogIncidentLogger(logger *slog.Logger) *LogIncidentLogger {
	return &LogIncidentLogger{logger: logger}
}

// LogIncident writes rec as one log record.
func (l *LogIncidentLogger) LogIncident(ctx context.Context, rec IncidentRecord) (string, error) {
	l.logger.InfoContext(ctx, "incident logged",
		"category", rec.Category,
		"title", rec.Title,
		"severity", rec.Severity,
		"organization_id", rec.OrganizationID,
		"dispatch_id", rec.DispatchID,
		"event_id", rec.EventID,
		"camera_id", rec.CameraID,
		"occurred_at", rec.OccurredAt,
	)
	return "", nil
}

var (
	_ TaskService    = (*TaskClient)(nil)
	_ IncidentLogger = (*IncidentClient)(nil)
	_ IncidentLogger = (*LogIncidentLogger)(nil)
)
