package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/paperdesk/internal/domain"
)

// OrderHistory lists persisted orders, including archived-eligible ones the
// engine no longer keeps.
type OrderHistory interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.Order, error)
}

// OrderHandler serves order endpoints.
type OrderHandler struct {
	engine  TradingEngine
	history OrderHistory
	logger  *slog.Logger
}

// NewOrderHandler creates an OrderHandler. history may be nil.
func NewOrderHandler(engine TradingEngine, history OrderHistory, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		engine:  engine,
		history: history,
		logger:  componentLogger(logger, "orders"),
	}
}

type listOrdersResponse struct {
	Orders []domain.Order `json:"orders"`
}

// ListOrders returns the session's orders, optionally filtered by status,
// or the persisted history when history=true.
// GET /api/orders?status=pending
// GET /api/orders?history=true&limit=50&offset=0&since=...
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("history") == "true" {
		if h.history == nil {
			writeError(w, h.logger, r, domain.Errorf(domain.KindNotFound, "orders", "order history is not persisted"))
			return
		}
		orders, err := h.history.List(r.Context(), parseListOpts(r))
		if err != nil {
			writeError(w, h.logger, r, err)
			return
		}
		if orders == nil {
			orders = []domain.Order{}
		}
		writeJSON(w, http.StatusOK, listOrdersResponse{Orders: orders})
		return
	}

	status := domain.OrderStatus(q.Get("status"))
	orders := []domain.Order{}
	for _, o := range h.engine.Orders() {
		if status == "" || o.Status == status {
			orders = append(orders, o)
		}
	}
	writeJSON(w, http.StatusOK, listOrdersResponse{Orders: orders})
}

// GetOrder returns one order.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.engine.Order(pathParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type rejectedOrderBody struct {
	errorBody
	Order *domain.Order `json:"order,omitempty"`
}

// PlaceOrder submits an order. Market orders fill immediately; limit and
// stop orders rest until triggered. A rejected order is returned with the
// error body so the caller still gets its id.
// POST /api/orders
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.OrderRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	res, err := h.engine.PlaceOrder(r.Context(), req)
	if err != nil {
		if res.Order.ID == "" {
			writeError(w, h.logger, r, err)
			return
		}
		status, body := errorResponse(err)
		writeJSON(w, status, rejectedOrderBody{errorBody: body, Order: &res.Order})
		return
	}

	h.logger.InfoContext(r.Context(), "order placed",
		slog.String("order_id", res.Order.ID),
		slog.String("symbol", res.Order.Symbol),
		slog.String("status", string(res.Order.Status)),
	)
	writeJSON(w, http.StatusCreated, res)
}

// CancelOrder cancels a pending order.
// DELETE /api/orders/{id}
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.engine.CancelOrder(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
