package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/paperdesk/internal/domain"
	"github.com/alanyoungcy/paperdesk/internal/marketdata"
	"github.com/alanyoungcy/paperdesk/internal/resilience"
)

// StatusSources supplies the live runtime views. Nil funcs are reported as
// empty lists.
type StatusSources struct {
	Connections func() []domain.ConnectionInfo
	Breakers    func() []resilience.BreakerSnapshot
	Symbols     func() []marketdata.SymbolInfo
}

// StatusHandler reports connection states, breakers and live symbols.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	src       StatusSources
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, startedAt time.Time, src StatusSources) *StatusHandler {
	return &StatusHandler{mode: mode, startedAt: startedAt, src: src}
}

type statusResponse struct {
	Mode          string                       `json:"mode"`
	UptimeSeconds int64                        `json:"uptime_seconds"`
	Connections   []domain.ConnectionInfo      `json:"connections"`
	Breakers      []resilience.BreakerSnapshot `json:"breakers"`
	Symbols       []marketdata.SymbolInfo      `json:"symbols"`
}

// GetStatus responds with the runtime snapshot.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Mode:          h.mode,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Connections:   []domain.ConnectionInfo{},
		Breakers:      []resilience.BreakerSnapshot{},
		Symbols:       []marketdata.SymbolInfo{},
	}
	if h.src.Connections != nil {
		resp.Connections = append(resp.Connections, h.src.Connections()...)
	}
	if h.src.Breakers != nil {
		resp.Breakers = append(resp.Breakers, h.src.Breakers()...)
	}
	if h.src.Symbols != nil {
		resp.Symbols = append(resp.Symbols, h.src.Symbols()...)
	}
	writeJSON(w, http.StatusOK, resp)
}
