package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"alertflow/internal/core"
	"alertflow/internal/dispatch"
	"alertflow/internal/types"
)

// Engine is the slice of the dispatch engine the event endpoints drive.
type Engine interface {
	HandleEvent(ctx context.Context, ev *types.Event) (*dispatch.IngestResult, error)
	Acknowledge(ctx context.Context, dispatchID, userID string) (*dispatch.AckResult, error)
}

// DispatchListParams mirrors db.ListDispatchesParams.
type DispatchListParams struct {
	OrganizationID string
	Status         types.DispatchStatus
	WorkflowID     string
	Limit          int
	Cursor         string
}

// DispatchReader reads dispatch records.
type DispatchReader interface {
	GetByID(ctx context.Context, id string) (*types.Dispatch, error)
	List(ctx context.Context, params DispatchListParams) ([]*types.Dispatch, types.PageInfo, error)
}

// AckRequest is the body of POST /v1/dispatches/{id}/ack.
type AckRequest struct {
	UserID string `json:"user_id" validate:"required,max=200"`
}

// EventHandler accepts events and serves dispatch state.
type EventHandler struct {
	engine     Engine
	dispatches DispatchReader
	validator  *core.Validator
	logger     *slog.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(engine Engine, dispatches DispatchReader, v *core.Validator, l *slog.Logger) *EventHandler {
	return &EventHandler{engine: engine, dispatches: dispatches, validator: v, logger: loggerOr(l)}
}

// RegisterRoutes mounts /events and /dispatches.
func (h *EventHandler) RegisterRoutes(r chi.Router) {
	r.Post("/events", h.Ingest)
	r.Route("/dispatches", func(r chi.Router) {
		r.Get("/", h.ListDispatches)
		r.Get("/{id}", h.GetDispatch)
		r.Post("/{id}/ack", h.Acknowledge)
	})
}

// Ingest handles POST /v1/events. The response is sent once the matching
// dispatches have started; delivery continues in the background.
func (h *EventHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var ev types.Event
	if err := core.DecodeJSON(w, r, &ev); err != nil {
		core.Error(w, r, err)
		return
	}

	res, err := h.engine.HandleEvent(r.Context(), &ev)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusAccepted, res)
}

// Acknowledge handles POST /v1/dispatches/{id}/ack. A late acknowledgment is
// still a 200; the body's late flag tells the caller it changed nothing.
func (h *EventHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}
	var req AckRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	res, err := h.engine.Acknowledge(r.Context(), id, req.UserID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if res.Late {
		h.logger.InfoContext(r.Context(), "late acknowledgment",
			"dispatch_id", id,
			"user_id", req.UserID,
		)
	}
	core.Data(w, r, http.StatusOK, res)
}

// GetDispatch handles GET /v1/dispatches/{id}.
func (h *EventHandler) GetDispatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}
	d, err := h.dispatches.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, d)
}

// ListDispatches handles GET /v1/dispatches?organization_id=&status=&workflow_id=.
func (h *EventHandler) ListDispatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := DispatchListParams{
		OrganizationID: q.Get("organization_id"),
		Status:         types.DispatchStatus(q.Get("status")),
		WorkflowID:     q.Get("workflow_id"),
		Cursor:         q.Get("cursor"),
	}
	if params.OrganizationID == "" {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
			"organization_id is required", nil, map[string]any{"field": "organization_id"}))
		return
	}
	if params.Status != "" && !params.Status.Valid() {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidFilter,
			"unknown dispatch status", nil, map[string]any{"field": "status"}))
		return
	}
	limit, err := core.QueryLimit(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	params.Limit = limit

	items, page, err := h.dispatches.List(r.Context(), params)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if items == nil {
		items = []*types.Dispatch{}
	}
	core.List(w, r, items, page)
}
