// Package ingest feeds events from message queues into the dispatch engine.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"alertflow/internal/dispatch"
	"alertflow/internal/types"
)

// EventHandler is implemented by *dispatch.Engine.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev *types.Event) (*dispatch.IngestResult, error)
}

// disposition tells a consumer what to do with a message after handling.
type disposition int

const (
	// settle removes the message: processed, duplicate, or malformed.
	settle disposition = iota
	// redeliver leaves the message for another attempt.
	redeliver
)

func (d disposition) String() string {
	if d == redeliver {
		return "redeliver"
	}
	return "settle"
}

// process decodes and handles one message body. Malformed bodies and
// rejected events are dropped with a log line; infrastructure errors ask for
// redelivery.
func process(ctx context.Context, h EventHandler, logger *slog.Logger, source string, body []byte) disposition {
	ev, err := decodeEvent(body)
	if err != nil {
		logger.WarnContext(ctx, "dropping malformed event message", "source", source, "error", err.Error())
		return settle
	}

	res, err := h.HandleEvent(ctx, ev)
	if err != nil {
		if isRejection(err) {
			logger.WarnContext(ctx, "dropping rejected event", "source", source, "event_id", ev.ID, "error", err.Error())
			return settle
		}
		logger.ErrorContext(ctx, "event handling failed, leaving for redelivery", "source", source, "event_id", ev.ID, "error", err.Error())
		return redeliver
	}

	logger.InfoContext(ctx, "event ingested",
		"source", source,
		"event_id", res.EventID,
		"duplicate", res.Duplicate,
		"dispatches", len(res.DispatchIDs),
	)
	return settle
}

func decodeEvent(body []byte) (*types.Event, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}
	var ev types.Event
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return &ev, nil
}

// isRejection reports whether err is the engine refusing the event itself,
// which redelivery cannot fix.
func isRejection(err error) bool {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return strings.HasPrefix(string(appErr.Code), "validation_")
	}
	return false
}
