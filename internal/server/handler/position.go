package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/paperdesk/internal/domain"
)

// PositionHistory lists persisted closed positions.
type PositionHistory interface {
	ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error)
}

// PositionHandler serves position endpoints.
type PositionHandler struct {
	engine  TradingEngine
	history PositionHistory
	logger  *slog.Logger
}

// NewPositionHandler creates a PositionHandler. history may be nil.
func NewPositionHandler(engine TradingEngine, history PositionHistory, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		engine:  engine,
		history: history,
		logger:  componentLogger(logger, "positions"),
	}
}

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns positions by status (open by default, "all" for
// every status), or persisted history when history=true.
// GET /api/positions?status=open|closed|all
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("history") == "true" {
		if h.history == nil {
			writeError(w, h.logger, r, domain.Errorf(domain.KindNotFound, "positions", "position history is not persisted"))
			return
		}
		positions, err := h.history.ListHistory(r.Context(), parseListOpts(r))
		if err != nil {
			writeError(w, h.logger, r, err)
			return
		}
		if positions == nil {
			positions = []domain.Position{}
		}
		writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
		return
	}

	var status domain.PositionStatus
	switch s := q.Get("status"); s {
	case "", string(domain.PositionStatusOpen):
		status = domain.PositionStatusOpen
	case string(domain.PositionStatusClosed):
		status = domain.PositionStatusClosed
	case "all":
	default:
		writeBadRequest(w, "unknown status "+s)
		return
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: h.engine.Positions(status)})
}

// GetPosition returns one position.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.Position(pathParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type closeRequest struct {
	Volume *float64 `json:"volume,omitempty"`
}

// ClosePosition closes a position fully, or partially when a volume is
// given. Closing an already closed position returns 200 with
// already_closed set.
// POST /api/positions/{id}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	res, err := h.engine.ClosePosition(r.Context(), pathParam(r, "id"), req.Volume)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
