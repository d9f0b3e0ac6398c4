package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/paperdesk/internal/domain"
)

// ClosePosition closes volume lots of position id at the current quote, or
// the whole position when volume is nil. Closing an already closed position
// is a no-op that reports the realized P&L with AlreadyClosed set.
func (e *Engine) ClosePosition(ctx context.Context, id string, volume *float64) (domain.CloseResult, error) {
	const op = "engine: close position"

	e.mu.Lock()
	p, ok := e.positions[id]
	if !ok {
		e.mu.Unlock()
		return domain.CloseResult{}, domain.Errorf(domain.KindNotFound, op, "unknown position "+id)
	}
	if p.Status == domain.PositionStatusClosed {
		res := alreadyClosed(p)
		e.mu.Unlock()
		return res, nil
	}
	symbol, side := p.Symbol, p.Side
	e.mu.Unlock()

	if volume != nil && *volume <= 0 {
		return domain.CloseResult{}, domain.Errorf(domain.KindValidation, op, "volume must be positive")
	}

	q, err := e.quotes.GetQuote(ctx, symbol)
	if ctx.Err() != nil {
		return domain.CloseResult{}, ctx.Err()
	}
	if q.Price <= 0 || q.Synthetic {
		if err == nil {
			err = domain.Errorf(domain.KindNoData, "quote", "no price for "+symbol)
		}
		return domain.CloseResult{}, fmt.Errorf("%s: %w", op, err)
	}
	price := closePrice(side, q)

	e.mu.Lock()
	defer e.mu.Unlock()

	// The evaluation loop may have closed it while we were fetching.
	if p.Status == domain.PositionStatusClosed {
		return alreadyClosed(p), nil
	}
	vol := p.Volume
	if volume != nil {
		if *volume > p.Volume {
			return domain.CloseResult{}, domain.Errorf(domain.KindValidation, op,
				fmt.Sprintf("volume %g exceeds open volume %g", *volume, p.Volume))
		}
		vol = *volume
	}

	res := e.closeLocked(p, vol, price, domain.CloseReasonManual)
	e.publishAccountLocked()
	return res, nil
}

func alreadyClosed(p *domain.Position) domain.CloseResult {
	res := domain.CloseResult{
		Position:      clonePosition(p),
		RealizedPnL:   p.RealizedPnL,
		AlreadyClosed: true,
	}
	if p.ClosePrice != nil {
		res.ClosePrice = *p.ClosePrice
	}
	return res
}

// closePrice is the price a position of the given side exits at: longs sell
// at the bid, shorts buy back at the ask.
func closePrice(side domain.OrderSide, q domain.Quote) float64 {
	if side == domain.OrderSideBuy {
		return q.SellPrice()
	}
	return q.BuyPrice()
}

// realizedPnL computes (close - open) * sign * volume * contractSize exactly.
func realizedPnL(p *domain.Position, price, volume float64) decimal.Decimal {
	return decimal.NewFromFloat(price).
		Sub(decimal.NewFromFloat(p.OpenPrice)).
		Mul(decimal.NewFromFloat(p.Side.Sign())).
		Mul(decimal.NewFromFloat(volume)).
		Mul(decimal.NewFromFloat(p.ContractSize))
}

// closeLocked realizes vol lots of p at price and books the P&L into the
// balance. Closing the full remaining volume closes the position.
func (e *Engine) closeLocked(p *domain.Position, vol, price float64, reason domain.CloseReason) domain.CloseResult {
	now := e.now()
	pnl := realizedPnL(p, price, vol)
	e.balance = e.balance.Add(pnl)

	remaining := decimal.NewFromFloat(p.Volume).Sub(decimal.NewFromFloat(vol))
	p.RealizedPnL = decimal.NewFromFloat(p.RealizedPnL).Add(pnl).InexactFloat64()
	p.CurrentPrice = price
	p.UpdatedAt = now

	evType := domain.PositionEventPartialClosed
	if remaining.IsPositive() {
		p.Volume = remaining.InexactFloat64()
		p.Margin = e.positionMargin(p).InexactFloat64()
		p.UnrealizedPnL = realizedPnL(p, price, p.Volume).InexactFloat64()
	} else {
		evType = domain.PositionEventClosed
		p.Volume = 0
		p.Margin = 0
		p.UnrealizedPnL = 0
		p.Status = domain.PositionStatusClosed
		p.CloseReason = reason
		cp := price
		p.ClosePrice = &cp
		p.ClosedAt = &now
		e.releaseLocked(p.Symbol)
	}

	realized := pnl.InexactFloat64()
	e.hooks.emit(domain.PositionEvent{
		Type:        evType,
		Position:    clonePosition(p),
		Volume:      vol,
		Price:       price,
		RealizedPnL: realized,
		At:          now,
	})
	e.logger.Info("position closed",
		slog.String("position_id", p.ID),
		slog.String("symbol", p.Symbol),
		slog.String("reason", string(reason)),
		slog.Float64("volume", vol),
		slog.Float64("price", price),
		slog.Float64("realized_pnl", realized),
		slog.Bool("partial", evType == domain.PositionEventPartialClosed),
	)

	return domain.CloseResult{
		Position:     clonePosition(p),
		ClosedVolume: vol,
		ClosePrice:   price,
		RealizedPnL:  realized,
	}
}
