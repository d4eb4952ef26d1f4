package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"alertflow/internal/core"
	"alertflow/internal/types"
	"alertflow/internal/workflow"
)

// WorkflowListParams mirrors db.ListWorkflowsParams.
type WorkflowListParams struct {
	ActiveOnly bool
	Limit      int
	Cursor     string
}

// WorkflowRepo is the data access contract of the workflow endpoints.
type WorkflowRepo interface {
	Create(ctx context.Context, wf *types.Workflow) error
	GetByID(ctx context.Context, id, orgID string) (*types.Workflow, error)
	Update(ctx context.Context, wf *types.Workflow) error
	Delete(ctx context.Context, id, orgID string) error
	List(ctx context.Context, orgID string, params WorkflowListParams) ([]*types.Workflow, types.PageInfo, error)
}

// WorkflowRequest is the body of workflow create and replace.
type WorkflowRequest struct {
	Name             string                  `json:"name" validate:"required,max=200"`
	IsActive         *bool                   `json:"is_active,omitempty"`
	Priority         int                     `json:"priority" validate:"gte=0,lte=1000"`
	FlowDefinition   types.FlowDefinition    `json:"flow_definition"`
	EscalationPolicy *types.EscalationPolicy `json:"escalation_policy,omitempty"`
}

func (req WorkflowRequest) apply(wf *types.Workflow) {
	wf.Name = req.Name
	wf.Priority = req.Priority
	wf.FlowDefinition = req.FlowDefinition
	wf.EscalationPolicy = req.EscalationPolicy
	if req.IsActive != nil {
		wf.IsActive = *req.IsActive
	}
}

// WorkflowHandler manages workflow definitions. Every write runs
// workflow.ValidateWorkflow so malformed definitions never reach the engine.
type WorkflowHandler struct {
	repo      WorkflowRepo
	validator *core.Validator
	logger    *slog.Logger
}

// NewWorkflowHandler creates a WorkflowHandler.
func NewWorkflowHandler(repo WorkflowRepo, v *core.Validator, l *slog.Logger) *WorkflowHandler {
	return &WorkflowHandler{repo: repo, validator: v, logger: loggerOr(l)}
}

// RegisterRoutes mounts /organizations/{orgID}/workflows.
func (h *WorkflowHandler) RegisterRoutes(r chi.Router) {
	r.Route("/organizations/{orgID}/workflows", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Put("/", h.Update)
			r.Delete("/", h.Delete)
		})
	})
}

func (h *WorkflowHandler) decode(w http.ResponseWriter, r *http.Request) (*WorkflowRequest, bool) {
	var req WorkflowRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return nil, false
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return nil, false
	}
	return &req, true
}

// Create handles POST. New workflows are active unless is_active is false.
func (h *WorkflowHandler) Create(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathParam(w, r, "orgID")
	if !ok {
		return
	}
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	wf := &types.Workflow{ID: newID("wf"), OrganizationID: orgID, IsActive: true}
	req.apply(wf)
	if err := workflow.ValidateWorkflow(wf); err != nil {
		core.Error(w, r, types.ConfigurationErrorToApp(types.ErrCodeValidationInvalidWorkflow, err))
		return
	}
	if err := h.repo.Create(r.Context(), wf); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "workflow created",
		"workflow_id", wf.ID,
		"organization_id", orgID,
		"actions", len(wf.FlowDefinition.Actions),
	)
	core.Data(w, r, http.StatusCreated, wf)
}

// Get handles GET /{id}.
func (h *WorkflowHandler) Get(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathParam(w, r, "orgID")
	if !ok {
		return
	}
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}
	wf, err := h.repo.GetByID(r.Context(), id, orgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, wf)
}

// Update handles PUT /{id}: the definition is replaced as a whole.
// Dispatches already running keep the definition they started with.
func (h *WorkflowHandler) Update(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathParam(w, r, "orgID")
	if !ok {
		return
	}
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	wf, err := h.repo.GetByID(r.Context(), id, orgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	req.apply(wf)
	if err := workflow.ValidateWorkflow(wf); err != nil {
		core.Error(w, r, types.ConfigurationErrorToApp(types.ErrCodeValidationInvalidWorkflow, err))
		return
	}
	if err := h.repo.Update(r.Context(), wf); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "workflow updated", "workflow_id", id, "organization_id", orgID)
	core.Data(w, r, http.StatusOK, wf)
}

// Delete handles DELETE /{id}.
func (h *WorkflowHandler) Delete(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathParam(w, r, "orgID")
	if !ok {
		return
	}
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.repo.Delete(r.Context(), id, orgID); err != nil {
		core.Error(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "workflow deleted", "workflow_id", id, "organization_id", orgID)
	w.WriteHeader(http.StatusNoContent)
}

// List handles GET with ?active=true&limit=&cursor=.
func (h *WorkflowHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathParam(w, r, "orgID")
	if !ok {
		return
	}
	limit, err := core.QueryLimit(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	params := WorkflowListParams{Limit: limit, Cursor: r.URL.Query().Get("cursor")}
	if raw := r.URL.Query().Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidFilter,
				"active must be a boolean", err, map[string]any{"field": "active"}))
			return
		}
		params.ActiveOnly = active
	}

	items, page, err := h.repo.List(r.Context(), orgID, params)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if items == nil {
		items = []*types.Workflow{}
	}
	core.List(w, r, items, page)
}
