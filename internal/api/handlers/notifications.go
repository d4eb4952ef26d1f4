package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"alertflow/internal/core"
	"alertflow/internal/export"
	"alertflow/internal/types"
)

// NotificationRepo reads the audit log.
type NotificationRepo interface {
	List(ctx context.Context, f types.NotificationFilter) ([]*types.AlertNotification, types.PageInfo, error)
	Stats(ctx context.Context, orgID string) (*types.NotificationStats, error)
}

// Exporter streams a filtered audit log as a file.
type Exporter interface {
	Write(ctx context.Context, w io.Writer, f types.NotificationFilter, opts export.Options) (int, error)
}

// NotificationHandler serves the audit log: paged listing, file export and
// per-organization delivery statistics.
type NotificationHandler struct {
	repo     NotificationRepo
	exporter Exporter
	now      func() time.Time
	logger   *slog.Logger
}

// NewNotificationHandler creates a NotificationHandler.
func NewNotificationHandler(repo NotificationRepo, exporter Exporter, clock types.Clock, l *slog.Logger) *NotificationHandler {
	now := time.Now
	if clock != nil {
		now = clock.Now
	}
	return &NotificationHandler{repo: repo, exporter: exporter, now: now, logger: loggerOr(l)}
}

func (h *NotificationHandler) RegisterRoutes(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/export", h.Export)
		r.Get("/stats", h.Stats)
	})
}

// filterFromQuery reads organization_id (required), channel_type, status,
// severity, dispatch_id, q, limit and cursor.
func filterFromQuery(r *http.Request) (types.NotificationFilter, error) {
	q := r.URL.Query()
	f := types.NotificationFilter{
		OrganizationID: q.Get("organization_id"),
		ChannelType:    q.Get("channel_type"),
		Status:         types.NotificationStatus(q.Get("status")),
		DispatchID:     q.Get("dispatch_id"),
		Search:         strings.TrimSpace(q.Get("q")),
		Cursor:         q.Get("cursor"),
	}
	if f.OrganizationID == "" {
		return f, types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
			"organization_id is required", nil, map[string]any{"field": "organization_id"})
	}
	if f.Status != "" && !f.Status.Valid() {
		return f, invalidFilter("status", fmt.Sprintf("unknown status %q", f.Status))
	}
	if raw := q.Get("severity"); raw != "" {
		f.Severity = types.ParseSeverity(raw)
		if !f.Severity.Valid() {
			return f, invalidFilter("severity", fmt.Sprintf("unknown severity %q", raw))
		}
	}
	if f.ChannelType != "" && !types.ChannelType(f.ChannelType).Valid() {
		return f, invalidFilter("channel_type", fmt.Sprintf("unknown channel type %q", f.ChannelType))
	}
	if len(f.Search) > 200 {
		return f, invalidFilter("q", "search text exceeds 200 characters")
	}
	return f, nil
}

func invalidFilter(field, msg string) error {
	return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidFilter, msg, nil, map[string]any{"field": field})
}

// List handles GET /v1/notifications, newest first.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if f.Limit, err = core.QueryLimit(r); err != nil {
		core.Error(w, r, err)
		return
	}

	items, page, err := h.repo.List(r.Context(), f)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if items == nil {
		items = []*types.AlertNotification{}
	}
	core.List(w, r, items, page)
}

// Export handles GET /v1/notifications/export?format=csv|xlsx&gzip=true.
// Once streaming has started a failure can only be logged; the client sees
// a truncated file.
func (h *NotificationHandler) Export(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	opts := export.Options{Format: format, Gzip: r.URL.Query().Get("gzip") == "true"}

	w.Header().Set("Content-Type", opts.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, opts.FileName(h.now())))
	w.WriteHeader(http.StatusOK)

	n, err := h.exporter.Write(r.Context(), w, f, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "notification export failed",
			"organization_id", f.OrganizationID,
			"rows", n,
			"error", err,
		)
		return
	}
	h.logger.InfoContext(r.Context(), "notifications exported",
		"organization_id", f.OrganizationID,
		"format", string(format),
		"rows", n,
	)
}

// Stats handles GET /v1/notifications/stats?organization_id=.
func (h *NotificationHandler) Stats(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("organization_id")
	if orgID == "" {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
			"organization_id is required", nil, map[string]any{"field": "organization_id"}))
		return
	}
	stats, err := h.repo.Stats(r.Context(), orgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, stats)
}
