package engine

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/paperdesk/internal/domain"
)

// evaluateAll pulls a quote for every watched symbol and evaluates it.
// Symbols without a usable quote are skipped this cycle.
func (e *Engine) evaluateAll(ctx context.Context) {
	for _, sym := range e.Symbols() {
		q, err := e.quotes.GetQuote(ctx, sym)
		if ctx.Err() != nil {
			return
		}
		if err != nil || q.Price <= 0 {
			e.logger.Debug("skipping evaluation, no fresh quote", slog.String("symbol", sym))
			continue
		}
		e.evaluate(q)
	}
}

// evaluate applies one quote: triggers pending orders, marks open positions,
// enforces stop loss and take profit, then checks account margin.
func (e *Engine) evaluate(q domain.Quote) {
	if q.Synthetic || q.Price <= 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, watched := e.subs[q.Symbol]; !watched {
		return
	}

	e.triggerPendingLocked(q)
	e.markLocked(q)
	e.enforceMarginLocked()
	e.publishAccountLocked()
}

// triggerPendingLocked fills limit and stop orders whose trigger the quote
// reaches. Buy orders test the ask and sell orders the bid.
func (e *Engine) triggerPendingLocked(q domain.Quote) {
	for _, id := range e.orderIDs {
		o := e.orders[id]
		if o.Status != domain.OrderStatusPending || o.Symbol != q.Symbol {
			continue
		}
		if !triggered(o, q) {
			continue
		}
		if err := e.checkMarginLocked(o); err != nil {
			e.recordRejectedLocked(o, err.Error())
			e.releaseLocked(o.Symbol)
			continue
		}
		pos := e.fillLocked(o, o.Price)
		e.logger.Info("pending order triggered",
			slog.String("order_id", o.ID),
			slog.String("position_id", pos.ID),
			slog.String("kind", string(o.Kind)),
			slog.Float64("price", o.Price),
		)
	}
}

func triggered(o *domain.Order, q domain.Quote) bool {
	ask, bid := q.BuyPrice(), q.SellPrice()
	switch {
	case o.Kind == domain.OrderKindLimit && o.Side == domain.OrderSideBuy:
		return ask <= o.Price
	case o.Kind == domain.OrderKindLimit && o.Side == domain.OrderSideSell:
		return bid >= o.Price
	case o.Kind == domain.OrderKindStop && o.Side == domain.OrderSideBuy:
		return ask >= o.Price
	case o.Kind == domain.OrderKindStop && o.Side == domain.OrderSideSell:
		return bid <= o.Price
	}
	return false
}

// markLocked re-marks the symbol's open positions and closes those whose
// stop loss or take profit was reached. Stop loss is checked first and both
// close at their trigger level, not at the possibly gapped quote.
func (e *Engine) markLocked(q domain.Quote) {
	now := e.now()
	for _, id := range e.positionIDs {
		p := e.positions[id]
		if p.Status != domain.PositionStatusOpen || p.Symbol != q.Symbol {
			continue
		}
		mark := closePrice(p.Side, q)
		p.CurrentPrice = mark
		p.UnrealizedPnL = realizedPnL(p, mark, p.Volume).InexactFloat64()
		p.UpdatedAt = now

		if level, hit := stopLossHit(p, mark); hit {
			e.closeLocked(p, p.Volume, level, domain.CloseReasonStopLoss)
			continue
		}
		if level, hit := takeProfitHit(p, mark); hit {
			e.closeLocked(p, p.Volume, level, domain.CloseReasonTakeProfit)
		}
	}
}

func stopLossHit(p *domain.Position, mark float64) (float64, bool) {
	if p.StopLoss == nil {
		return 0, false
	}
	sl := *p.StopLoss
	if p.Side == domain.OrderSideBuy {
		return sl, mark <= sl
	}
	return sl, mark >= sl
}

func takeProfitHit(p *domain.Position, mark float64) (float64, bool) {
	if p.TakeProfit == nil {
		return 0, false
	}
	tp := *p.TakeProfit
	if p.Side == domain.OrderSideBuy {
		return tp, mark >= tp
	}
	return tp, mark <= tp
}

// enforceMarginLocked raises a margin call when the margin level first drops
// below MarginCallLevel and stops out the worst position, repeatedly, while
// it is below StopOutLevel.
func (e *Engine) enforceMarginLocked() {
	acct := e.recomputeLocked()
	for acct.UsedMargin > 0 && e.cfg.StopOutLevel > 0 && acct.MarginLevel < e.cfg.StopOutLevel {
		worst := e.worstPositionLocked()
		if worst == nil {
			break
		}
		level := acct.MarginLevel
		e.logger.Warn("stop out",
			slog.String("position_id", worst.ID),
			slog.Float64("margin_level", level),
		)
		e.closeLocked(worst, worst.Volume, worst.CurrentPrice, domain.CloseReasonStopOut)
		acct = e.recomputeLocked()
		e.hooks.emit(domain.RiskAlert{
			Type:        domain.RiskAlertStopOut,
			MarginLevel: level,
			PositionID:  worst.ID,
			Account:     acct,
			At:          e.now(),
		})
	}

	below := acct.UsedMargin > 0 && acct.MarginLevel < e.cfg.MarginCallLevel
	switch {
	case below && !e.marginCalled:
		e.marginCalled = true
		e.logger.Warn("margin call", slog.Float64("margin_level", acct.MarginLevel))
		e.hooks.emit(domain.RiskAlert{
			Type:        domain.RiskAlertMarginCall,
			MarginLevel: acct.MarginLevel,
			Account:     acct,
			At:          e.now(),
		})
	case !below:
		e.marginCalled = false
	}
}

// worstPositionLocked returns the open position with the lowest unrealized
// P&L.
func (e *Engine) worstPositionLocked() *domain.Position {
	var worst *domain.Position
	for _, id := range e.positionIDs {
		p := e.positions[id]
		if p.Status != domain.PositionStatusOpen {
			continue
		}
		if worst == nil || p.UnrealizedPnL < worst.UnrealizedPnL {
			worst = p
		}
	}
	return worst
}
