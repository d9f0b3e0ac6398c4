package handler

import (
	"net/http"
)

// AccountHandler serves the account summary.
type AccountHandler struct {
	engine TradingEngine
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(engine TradingEngine) *AccountHandler {
	return &AccountHandler{engine: engine}
}

// GetAccount returns balance, equity and margin figures.
// GET /api/account
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.AccountSummary())
}
