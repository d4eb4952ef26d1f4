package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"alertflow/internal/core"
	"alertflow/internal/types"
)

// PreferenceRepo stores per-user routing preferences.
type PreferenceRepo interface {
	Get(ctx context.Context, orgID, userID string) (*types.UserNotificationPreferences, error)
	Upsert(ctx context.Context, p *types.UserNotificationPreferences) error
	Delete(ctx context.Context, orgID, userID string) error
}

// PreferencesValidator is notifications/core.ValidatePreferences.
type PreferencesValidator func(p *types.UserNotificationPreferences) error

// PreferencesRequest is the body of PUT .../preferences.
type PreferencesRequest struct {
	PreferredChannels  []types.ChannelType          `json:"preferred_channels" validate:"omitempty,dive,channel_type"`
	BlockedChannels    []types.ChannelType          `json:"blocked_channels" validate:"omitempty,dive,channel_type"`
	MuteAlerts         bool                         `json:"mute_alerts"`
	SeverityThreshold  types.Severity               `json:"severity_threshold,omitempty" validate:"omitempty,severity"`
	DoNotDisturb       types.DNDWindows             `json:"do_not_disturb_windows" validate:"omitempty,max=20,dive"`
	OverrideOrgRouting bool                         `json:"override_org_routing"`
	Contacts           map[types.ChannelType]string `json:"contacts,omitempty" validate:"omitempty,dive,keys,channel_type,endkeys,max=320"`
}

// PreferenceHandler serves /organizations/{orgID}/users/{userID}/preferences.
type PreferenceHandler struct {
	repo      PreferenceRepo
	check     PreferencesValidator
	validator *core.Validator
	logger    *slog.Logger
}

// NewPreferenceHandler creates a PreferenceHandler.
func NewPreferenceHandler(repo PreferenceRepo, check PreferencesValidator, v *core.Validator, l *slog.Logger) *PreferenceHandler {
	return &PreferenceHandler{repo: repo, check: check, validator: v, logger: loggerOr(l)}
}

func (h *PreferenceHandler) RegisterRoutes(r chi.Router) {
	r.Route("/organizations/{orgID}/users/{userID}/preferences", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Put("/", h.Put)
		r.Delete("/", h.Delete)
	})
}

func (h *PreferenceHandler) ids(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	orgID, ok := pathParam(w, r, "orgID")
	if !ok {
		return "", "", false
	}
	userID, ok := pathParam(w, r, "userID")
	if !ok {
		return "", "", false
	}
	return orgID, userID, true
}

// Get answers 404 when the user has no record; organization routing applies.
func (h *PreferenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	orgID, userID, ok := h.ids(w, r)
	if !ok {
		return
	}
	p, err := h.repo.Get(r.Context(), orgID, userID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, p)
}

// Put replaces the user's preferences.
func (h *PreferenceHandler) Put(w http.ResponseWriter, r *http.Request) {
	orgID, userID, ok := h.ids(w, r)
	if !ok {
		return
	}
	var req PreferencesRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	p := &types.UserNotificationPreferences{
		UserID:             userID,
		OrganizationID:     orgID,
		PreferredChannels:  req.PreferredChannels,
		BlockedChannels:    req.BlockedChannels,
		MuteAlerts:         req.MuteAlerts,
		SeverityThreshold:  types.ParseSeverity(string(req.SeverityThreshold)),
		DoNotDisturb:       req.DoNotDisturb,
		OverrideOrgRouting: req.OverrideOrgRouting,
		Contacts:           req.Contacts,
	}
	if h.check != nil {
		if err := h.check(p); err != nil {
			core.Error(w, r, types.ConfigurationErrorToApp(types.ErrCodeValidationInvalidPrefs, err))
			return
		}
	}
	if err := h.repo.Upsert(r.Context(), p); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "preferences updated",
		"organization_id", orgID,
		"user_id", userID,
		"mute_alerts", p.MuteAlerts,
		"dnd_windows", len(p.DoNotDisturb),
	)
	core.Data(w, r, http.StatusOK, p)
}

// Delete removes the record, restoring organization routing for the user.
func (h *PreferenceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	orgID, userID, ok := h.ids(w, r)
	if !ok {
		return
	}
	if err := h.repo.Delete(r.Context(), orgID, userID); err != nil {
		core.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
