package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"alertflow/internal/core"
	"alertflow/internal/types"
)

// ChannelListParams mirrors db.ListChannelsParams.
type ChannelListParams struct {
	ChannelType types.ChannelType
	Limit       int
	Cursor      string
}

// ChannelRepo is the data access contract of the channel endpoints.
type ChannelRepo interface {
	Create(ctx context.Context, ch *types.AlertChannel) error
	GetByID(ctx context.Context, id, orgID string) (*types.AlertChannel, error)
	Update(ctx context.Context, ch *types.AlertChannel) error
	Delete(ctx context.Context, id, orgID string) error
	List(ctx context.Context, orgID string, params ChannelListParams) ([]*types.AlertChannel, types.PageInfo, error)
}

// ConfigValidator checks a channel configuration against its adapter.
type ConfigValidator interface {
	ValidateConfig(t types.ChannelType, cfg types.ChannelConfig) error
}

// ChannelTester performs a synthetic send and records the result.
type ChannelTester interface {
	Test(ctx context.Context, ch *types.AlertChannel) (*types.DeliveryOutcome, error)
}

// CreateChannelRequest is the body of POST .../channels.
type CreateChannelRequest struct {
	Name        string              `json:"name" validate:"required,max=200"`
	ChannelType types.ChannelType   `json:"channel_type" validate:"required,channel_type"`
	Config      types.ChannelConfig `json:"channel_configuration" validate:"required"`
	IsActive    *bool               `json:"is_active,omitempty"`
}

// UpdateChannelRequest is the body of PATCH .../channels/{id}. The channel
// type cannot change.
type UpdateChannelRequest struct {
	Name     *string             `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Config   types.ChannelConfig `json:"channel_configuration,omitempty"`
	IsActive *bool               `json:"is_active,omitempty"`
}

// ChannelTestResult is the response of POST .../channels/{id}/test.
type ChannelTestResult struct {
	Channel           *types.AlertChannel `json:"channel"`
	Success           bool                `json:"success"`
	ProviderMessageID string              `json:"provider_message_id,omitempty"`
	FailureReason     string              `json:"failure_reason,omitempty"`
}

// ChannelHandler manages organization channels.
type ChannelHandler struct {
	repo      ChannelRepo
	configs   ConfigValidator
	tester    ChannelTester
	validator *core.Validator
	logger    *slog.Logger
}

// NewChannelHandler creates a ChannelHandler.
func NewChannelHandler(repo ChannelRepo, configs ConfigValidator, tester ChannelTester, v *core.Validator, l *slog.Logger) *ChannelHandler {
	return &ChannelHandler{repo: repo, configs: configs, tester: tester, validator: v, logger: loggerOr(l)}
}

// RegisterRoutes mounts /organizations/{orgID}/channels.
func (h *ChannelHandler) RegisterRoutes(r chi.Router) {
	r.Route("/organizations/{orgID}/channels", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Patch("/", h.Update)
			r.Delete("/", h.Delete)
			r.Post("/test", h.Test)
		})
	})
}

// Create handles POST. Configuration is checked by the channel type's
// adapter; a new channel starts untested.
func (h *ChannelHandler) Create(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathParam(w, r, "orgID")
	if !ok {
		return
	}
	var req CreateChannelRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.configs.ValidateConfig(req.ChannelType, req.Config); err != nil {
		core.Error(w, r, types.ConfigurationErrorToApp(types.ErrCodeValidationInvalidChannel, err))
		return
	}

	ch := &types.AlertChannel{
		ID:             newID("ch"),
		OrganizationID: orgID,
		Name:           req.Name,
		ChannelType:    req.ChannelType,
		Config:         req.Config,
		IsActive:       true,
		TestStatus:     types.TestStatusUntested,
	}
	if req.IsActive != nil {
		ch.IsActive = *req.IsActive
	}
	if err := h.repo.Create(r.Context(), ch); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "channel created",
		"channel_id", ch.ID,
		"channel_type", string(ch.ChannelType),
		"organization_id", orgID,
	)
	core.Data(w, r, http.StatusCreated, ch)
}

// Get handles GET /{id}. Secret configuration values are redacted.
func (h *ChannelHandler) Get(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.load(w, r)
	if !ok {
		return
	}
	core.Data(w, r, http.StatusOK, ch)
}

// Update handles PATCH /{id}. A changed configuration resets test_status.
func (h *ChannelHandler) Update(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.load(w, r)
	if !ok {
		return
	}
	var req UpdateChannelRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if req.Name != nil {
		ch.Name = *req.Name
	}
	if req.IsActive != nil {
		ch.IsActive = *req.IsActive
	}
	if req.Config != nil {
		if err := h.configs.ValidateConfig(ch.ChannelType, req.Config); err != nil {
			core.Error(w, r, types.ConfigurationErrorToApp(types.ErrCodeValidationInvalidChannel, err))
			return
		}
		ch.Config = req.Config
	}
	if err := h.repo.Update(r.Context(), ch); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "channel updated", "channel_id", ch.ID, "organization_id", ch.OrganizationID)
	core.Data(w, r, http.StatusOK, ch)
}

// Delete handles DELETE /{id}. Workflows still referencing the channel skip
// it at dispatch time.
func (h *ChannelHandler) Delete(w http.ResponseWriter, r *http.Request) {
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
	h.logger.InfoContext(r.Context(), "channel deleted", "channel_id", id, "organization_id", orgID)
	w.WriteHeader(http.StatusNoContent)
}

// List handles GET with ?channel_type=&limit=&cursor=.
func (h *ChannelHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathParam(w, r, "orgID")
	if !ok {
		return
	}
	limit, err := core.QueryLimit(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	params := ChannelListParams{
		ChannelType: types.ChannelType(r.URL.Query().Get("channel_type")),
		Limit:       limit,
		Cursor:      r.URL.Query().Get("cursor"),
	}

	items, page, err := h.repo.List(r.Context(), orgID, params)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if items == nil {
		items = []*types.AlertChannel{}
	}
	core.List(w, r, items, page)
}

// Test handles POST /{id}/test. A failed delivery is a 200 with
// success=false; only storage errors are reported as errors.
func (h *ChannelHandler) Test(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.load(w, r)
	if !ok {
		return
	}
	outcome, err := h.tester.Test(r.Context(), ch)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, ChannelTestResult{
		Channel:           ch,
		Success:           outcome.Succeeded(),
		ProviderMessageID: outcome.ProviderMessageID,
		FailureReason:     outcome.FailureReason,
	})
}

func (h *ChannelHandler) load(w http.ResponseWriter, r *http.Request) (*types.AlertChannel, bool) {
	orgID, ok := pathParam(w, r, "orgID")
	if !ok {
		return nil, false
	}
	id, ok := pathParam(w, r, "id")
	if !ok {
		return nil, false
	}
	ch, err := h.repo.GetByID(r.Context(), id, orgID)
	if err != nil {
		core.Error(w, r, err)
		return nil, false
	}
	return ch, true
}
