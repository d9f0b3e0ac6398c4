package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/paperdesk/internal/domain"
)

// QuoteGetter resolves the current quote for a symbol.
type QuoteGetter interface {
	GetQuote(ctx context.Context, symbol string) (domain.Quote, error)
}

// QuoteHandler serves quote lookups.
type QuoteHandler struct {
	quotes QuoteGetter
	logger *slog.Logger
}

// NewQuoteHandler creates a QuoteHandler.
func NewQuoteHandler(quotes QuoteGetter, logger *slog.Logger) *QuoteHandler {
	return &QuoteHandler{quotes: quotes, logger: componentLogger(logger, "quotes")}
}

type quoteResponse struct {
	domain.Quote
	Warning string `json:"warning,omitempty"`
}

// GetQuote returns the quote for a symbol. A stale or synthetic fallback is
// still served with 200 and a warning; symbols with no data at all fail.
// GET /api/quotes/{symbol...} (EUR/USD and EUR%2FUSD both work)
func (h *QuoteHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimSpace(pathParam(r, "symbol"))
	if symbol == "" {
		writeBadRequest(w, "symbol is required")
		return
	}

	q, err := h.quotes.GetQuote(r.Context(), symbol)
	if err != nil {
		if errors.Is(err, domain.ErrStaleData) && q.Price > 0 {
			writeJSON(w, http.StatusOK, quoteResponse{Quote: q, Warning: err.Error()})
			return
		}
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteResponse{Quote: q})
}
