package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/paperdesk/internal/domain"
)

// EventReader replays the durable event stream.
type EventReader interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// EventHandler serves the recorded event stream.
type EventHandler struct {
	events EventReader
	stream string
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler reading stream.
func NewEventHandler(events EventReader, stream string, logger *slog.Logger) *EventHandler {
	return &EventHandler{events: events, stream: stream, logger: componentLogger(logger, "events")}
}

type eventsResponse struct {
	Events []domain.StreamMessage `json:"events"`
	LastID string                 `json:"last_id"`
}

// ListEvents returns up to count events after the given id. Clients page by
// passing the returned last_id back as after.
// GET /api/events?after=0&count=100
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	after := q.Get("after")
	if after == "" {
		after = "0"
	}
	count := 100
	if v := q.Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeBadRequest(w, "count must be a positive integer")
			return
		}
		count = min(n, 1000)
	}

	msgs, err := h.events.StreamRead(r.Context(), h.stream, after, count)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	resp := eventsResponse{Events: []domain.StreamMessage{}, LastID: after}
	if len(msgs) > 0 {
		resp.Events = msgs
		resp.LastID = msgs[len(msgs)-1].ID
	}
	writeJSON(w, http.StatusOK, resp)
}
