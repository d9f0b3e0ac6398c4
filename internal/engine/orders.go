package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/paperdesk/internal/domain"
	"github.com/alanyoungcy/paperdesk/internal/marketdata"
)

// PlaceOrder validates req and either fills it at the current quote (market
// orders) or stores it as pending (limit and stop orders). Orders that fail
// the margin check are recorded as rejected and returned together with an
// insufficient_margin error.
func (e *Engine) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	req.Symbol = marketdata.NormalizeSymbol(req.Symbol)
	if req.Kind == "" {
		req.Kind = domain.OrderKindMarket
	}
	if err := e.validate(req); err != nil {
		return domain.OrderResult{}, err
	}

	if req.Kind != domain.OrderKindMarket {
		return e.placePending(req)
	}

	q, err := e.quotes.GetQuote(ctx, req.Symbol)
	if ctx.Err() != nil {
		return domain.OrderResult{}, ctx.Err()
	}
	if q.Price <= 0 || q.Synthetic {
		if err == nil {
			err = domain.Errorf(domain.KindNoData, "quote", "no price for "+req.Symbol)
		}
		return e.reject(req, "no executable quote", fmt.Errorf("engine: place order: %w", err))
	}
	if err != nil {
		e.logger.WarnContext(ctx, "filling against stale quote",
			slog.String("symbol", req.Symbol),
			slog.String("error", err.Error()),
		)
	}

	price := q.BuyPrice()
	if req.Side == domain.OrderSideSell {
		price = q.SellPrice()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	order := &domain.Order{
		ID:         e.newID(),
		Symbol:     req.Symbol,
		Side:       req.Side,
		Kind:       req.Kind,
		Volume:     req.Volume,
		StopLoss:   cloneFloat(req.StopLoss),
		TakeProfit: cloneFloat(req.TakeProfit),
		Status:     domain.OrderStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.checkMarginLocked(order); err != nil {
		e.recordRejectedLocked(order, err.Error())
		return domain.OrderResult{Order: cloneOrder(order)}, err
	}
	if err := e.watchLocked(order.Symbol); err != nil {
		return domain.OrderResult{}, fmt.Errorf("engine: watch %s: %w", order.Symbol, err)
	}

	e.addOrderLocked(order)
	e.hooks.emit(domain.OrderEvent{Type: domain.OrderEventPlaced, Order: cloneOrder(order), At: now})
	pos := e.fillLocked(order, price)
	e.publishAccountLocked()

	e.logger.InfoContext(ctx, "market order filled",
		slog.String("order_id", order.ID),
		slog.String("position_id", pos.ID),
		slog.String("symbol", order.Symbol),
		slog.String("side", string(order.Side)),
		slog.Float64("volume", order.Volume),
		slog.Float64("price", price),
	)
	p := clonePosition(pos)
	return domain.OrderResult{Order: cloneOrder(order), Position: &p}, nil
}

func (e *Engine) placePending(req domain.OrderRequest) (domain.OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	order := &domain.Order{
		ID:         e.newID(),
		Symbol:     req.Symbol,
		Side:       req.Side,
		Kind:       req.Kind,
		Volume:     req.Volume,
		Price:      req.Price,
		StopLoss:   cloneFloat(req.StopLoss),
		TakeProfit: cloneFloat(req.TakeProfit),
		Status:     domain.OrderStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.checkMarginLocked(order); err != nil {
		e.recordRejectedLocked(order, err.Error())
		return domain.OrderResult{Order: cloneOrder(order)}, err
	}
	if err := e.watchLocked(order.Symbol); err != nil {
		return domain.OrderResult{}, fmt.Errorf("engine: watch %s: %w", order.Symbol, err)
	}

	e.addOrderLocked(order)
	e.hooks.emit(domain.OrderEvent{Type: domain.OrderEventPlaced, Order: cloneOrder(order), At: now})
	e.publishAccountLocked()

	e.logger.Info("pending order placed",
		slog.String("order_id", order.ID),
		slog.String("symbol", order.Symbol),
		slog.String("kind", string(order.Kind)),
		slog.Float64("price", order.Price),
	)
	return domain.OrderResult{Order: cloneOrder(order)}, nil
}

// CancelOrder cancels a pending order.
func (e *Engine) CancelOrder(ctx context.Context, id string) (domain.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[id]
	if !ok {
		return domain.Order{}, domain.Errorf(domain.KindNotFound, "engine: cancel order", "unknown order "+id)
	}
	if o.Status.Terminal() {
		return cloneOrder(o), domain.Errorf(domain.KindValidation, "engine: cancel order", "order is "+string(o.Status))
	}

	o.Status = domain.OrderStatusCancelled
	o.UpdatedAt = e.now()
	e.hooks.emit(domain.OrderEvent{Type: domain.OrderEventCancelled, Order: cloneOrder(o), At: o.UpdatedAt})
	e.releaseLocked(o.Symbol)
	e.publishAccountLocked()

	e.logger.InfoContext(ctx, "order cancelled", slog.String("order_id", id))
	return cloneOrder(o), nil
}

func (e *Engine) validate(req domain.OrderRequest) error {
	const op = "engine: place order"
	switch {
	case req.Symbol == "":
		return domain.Errorf(domain.KindValidation, op, "symbol is required")
	case !req.Side.Valid():
		return domain.Errorf(domain.KindValidation, op, fmt.Sprintf("invalid side %q", req.Side))
	case !req.Kind.Valid():
		return domain.Errorf(domain.KindValidation, op, fmt.Sprintf("invalid kind %q", req.Kind))
	case req.Volume <= 0:
		return domain.Errorf(domain.KindValidation, op, "volume must be positive")
	case e.cfg.MaxVolume > 0 && req.Volume > e.cfg.MaxVolume:
		return domain.Errorf(domain.KindValidation, op, fmt.Sprintf("volume exceeds maximum of %g", e.cfg.MaxVolume))
	case req.Kind != domain.OrderKindMarket && req.Price <= 0:
		return domain.Errorf(domain.KindValidation, op, string(req.Kind)+" orders need a positive price")
	case req.StopLoss != nil && *req.StopLoss <= 0:
		return domain.Errorf(domain.KindValidation, op, "stop loss must be positive")
	case req.TakeProfit != nil && *req.TakeProfit <= 0:
		return domain.Errorf(domain.KindValidation, op, "take profit must be positive")
	}
	return nil
}

// checkMarginLocked verifies the account can carry o.
func (e *Engine) checkMarginLocked(o *domain.Order) error {
	required := e.marginFor(o.Symbol, o.Volume)
	acct := e.recomputeLocked()
	if required.InexactFloat64() > acct.FreeMargin {
		return &domain.Error{
			Kind: domain.KindInsufficientMargin,
			Op:   "engine: place order",
			Msg:  fmt.Sprintf("required margin %s exceeds free margin %.2f", required.StringFixed(2), acct.FreeMargin),
		}
	}
	return nil
}

func (e *Engine) addOrderLocked(o *domain.Order) {
	e.orders[o.ID] = o
	e.orderIDs = append(e.orderIDs, o.ID)
}

func (e *Engine) recordRejectedLocked(o *domain.Order, reason string) {
	o.Status = domain.OrderStatusRejected
	o.RejectReason = reason
	o.UpdatedAt = e.now()
	if _, ok := e.orders[o.ID]; !ok {
		e.addOrderLocked(o)
	}
	e.hooks.emit(domain.OrderEvent{Type: domain.OrderEventRejected, Order: cloneOrder(o), At: o.UpdatedAt})
	e.logger.Warn("order rejected",
		slog.String("order_id", o.ID),
		slog.String("symbol", o.Symbol),
		slog.String("reason", reason),
	)
}

func (e *Engine) reject(req domain.OrderRequest, reason string, cause error) (domain.OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	o := &domain.Order{
		ID:         e.newID(),
		Symbol:     req.Symbol,
		Side:       req.Side,
		Kind:       req.Kind,
		Volume:     req.Volume,
		Price:      req.Price,
		StopLoss:   cloneFloat(req.StopLoss),
		TakeProfit: cloneFloat(req.TakeProfit),
		CreatedAt:  now,
	}
	e.recordRejectedLocked(o, reason)
	return domain.OrderResult{Order: cloneOrder(o)}, cause
}

// fillLocked marks o filled at price and opens its position.
func (e *Engine) fillLocked(o *domain.Order, price float64) *domain.Position {
	now := e.now()
	o.Status = domain.OrderStatusFilled
	o.FillPrice = price
	o.UpdatedAt = now
	o.FilledAt = &now

	pos := &domain.Position{
		ID:            e.newID(),
		OrderID:       o.ID,
		Symbol:        o.Symbol,
		Side:          o.Side,
		Volume:        o.Volume,
		InitialVolume: o.Volume,
		ContractSize:  e.cfg.ContractSize(o.Symbol),
		OpenPrice:     price,
		CurrentPrice:  price,
		StopLoss:      cloneFloat(o.StopLoss),
		TakeProfit:    cloneFloat(o.TakeProfit),
		Margin:        e.marginFor(o.Symbol, o.Volume).InexactFloat64(),
		Status:        domain.PositionStatusOpen,
		OpenedAt:      now,
		UpdatedAt:     now,
	}
	o.PositionID = pos.ID
	e.positions[pos.ID] = pos
	e.positionIDs = append(e.positionIDs, pos.ID)

	e.hooks.emit(domain.OrderEvent{Type: domain.OrderEventFilled, Order: cloneOrder(o), At: now})
	e.hooks.emit(domain.PositionEvent{
		Type:     domain.PositionEventOpened,
		Position: clonePosition(pos),
		Volume:   pos.Volume,
		Price:    price,
		At:       now,
	})
	return pos
}
