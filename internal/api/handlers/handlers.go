// Package handlers contains the HTTP handlers of the alertflow API: event
// ingestion and acknowledgments, workflow, channel and preference
// management, and the notification audit log.
//
// Handlers depend on narrow interfaces declared next to them, satisfied in
// production by the internal/db repositories and the dispatch engine.
package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"alertflow/internal/core"
	"alertflow/internal/types"
)

// newID returns a prefixed random identifier, e.g. "wf_6f1c...".
func newID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// pathParam reads a chi URL parameter, answering 400 when it is blank.
func pathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := strings.TrimSpace(chi.URLParam(r, name))
	if v == "" {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
			name+" is required", nil, map[string]any{"field": name}))
		return "", false
	}
	return v, true
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
