package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/paperdesk/internal/domain"
)

// OrderStore implements domain.OrderStore.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates an OrderStore backed by pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderCols = `id, symbol, side, kind, volume, price, stop_loss, take_profit,
	status, fill_price, position_id, reject_reason, created_at, updated_at, filled_at`

// Upsert writes o. A row is only overwritten by a version with the same or a
// later updated_at, so out-of-order deliveries cannot roll an order back.
func (s *OrderStore) Upsert(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (` + orderCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			status        = EXCLUDED.status,
			fill_price    = EXCLUDED.fill_price,
			position_id   = EXCLUDED.position_id,
			reject_reason = EXCLUDED.reject_reason,
			updated_at    = EXCLUDED.updated_at,
			filled_at     = EXCLUDED.filled_at
		WHERE orders.updated_at <= EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.Symbol, string(o.Side), string(o.Kind), o.Volume, o.Price,
		o.StopLoss, o.TakeProfit, string(o.Status), o.FillPrice, o.PositionID,
		o.RejectReason, o.CreatedAt, o.UpdatedAt, o.FilledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert order %s: %w", o.ID, err)
	}
	return nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var o domain.Order
	var side, kind, status string
	err := row.Scan(
		&o.ID, &o.Symbol, &side, &kind, &o.Volume, &o.Price, &o.StopLoss, &o.TakeProfit,
		&status, &o.FillPrice, &o.PositionID, &o.RejectReason, &o.CreatedAt, &o.UpdatedAt, &o.FilledAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.Side = domain.OrderSide(side)
	o.Kind = domain.OrderKind(kind)
	o.Status = domain.OrderStatus(status)
	return o, nil
}

func collectOrders(rows pgx.Rows) ([]domain.Order, error) {
	defer rows.Close()
	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// GetByID returns one order or domain.ErrNotFound.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// List returns orders newest first.
func (s *OrderStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Order, error) {
	query, args := withListOpts(`SELECT `+orderCols+` FROM orders WHERE TRUE`, nil, "created_at", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders: %w", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders: %w", err)
	}
	return orders, nil
}

// ListPending returns pending orders, oldest first.
func (s *OrderStore) ListPending(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderCols+` FROM orders WHERE status = 'pending' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending orders: %w", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan pending orders: %w", err)
	}
	return orders, nil
}

// ListTerminalBefore returns filled, rejected and cancelled orders last
// updated before the cutoff, oldest first.
func (s *OrderStore) ListTerminalBefore(ctx context.Context, before time.Time) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderCols+` FROM orders
		 WHERE status <> 'pending' AND updated_at < $1
		 ORDER BY updated_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list terminal orders: %w", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan terminal orders: %w", err)
	}
	return orders, nil
}

// DeleteTerminalBefore removes the rows ListTerminalBefore returns.
func (s *OrderStore) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM orders WHERE status <> 'pending' AND updated_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete terminal orders: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.OrderStore = (*OrderStore)(nil)
