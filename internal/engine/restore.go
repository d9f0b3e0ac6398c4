package engine

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/paperdesk/internal/domain"
)

// Restore seeds a fresh engine with persisted state: the last known balance,
// open positions and pending orders. It must be called before Run and before
// any order is placed. Quote subscriptions are re-acquired for every restored
// symbol.
func (e *Engine) Restore(balance float64, positions []domain.Position, orders []domain.Order) error {
	const op = "engine: restore"

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.orders) > 0 || len(e.positions) > 0 {
		return domain.Errorf(domain.KindValidation, op, "engine already has state")
	}

	e.balance = decimal.NewFromFloat(balance)
	for i := range positions {
		p := clonePosition(&positions[i])
		if p.Status != domain.PositionStatusOpen || p.Volume <= 0 {
			continue
		}
		if err := e.watchLocked(p.Symbol); err != nil {
			return fmt.Errorf("%s: watch %s: %w", op, p.Symbol, err)
		}
		if p.ContractSize <= 0 {
			p.ContractSize = e.cfg.ContractSize(p.Symbol)
		}
		p.Margin = e.positionMargin(&p).InexactFloat64()
		e.positions[p.ID] = &p
		e.positionIDs = append(e.positionIDs, p.ID)
	}
	for i := range orders {
		o := cloneOrder(&orders[i])
		if o.Status != domain.OrderStatusPending {
			continue
		}
		if err := e.watchLocked(o.Symbol); err != nil {
			return fmt.Errorf("%s: watch %s: %w", op, o.Symbol, err)
		}
		e.orders[o.ID] = &o
		e.orderIDs = append(e.orderIDs, o.ID)
	}

	acct := e.recomputeLocked()
	e.logger.Info("state restored",
		slog.Float64("balance", acct.Balance),
		slog.Int("open_positions", acct.OpenPositions),
		slog.Int("pending_orders", acct.PendingOrders),
	)
	return nil
}
