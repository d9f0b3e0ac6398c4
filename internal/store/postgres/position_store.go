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

// PositionStore implements domain.PositionStore.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionCols = `id, order_id, symbol, side, volume, initial_volume, contract_size,
	open_price, current_price, stop_loss, take_profit, margin, unrealized_pnl,
	realized_pnl, status, close_reason, close_price, opened_at, updated_at, closed_at`

// Upsert writes p unless a newer version of the row is already stored.
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (` + positionCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (id) DO UPDATE SET
			volume         = EXCLUDED.volume,
			current_price  = EXCLUDED.current_price,
			margin         = EXCLUDED.margin,
			unrealized_pnl = EXCLUDED.unrealized_pnl,
			realized_pnl   = EXCLUDED.realized_pnl,
			status         = EXCLUDED.status,
			close_reason   = EXCLUDED.close_reason,
			close_price    = EXCLUDED.close_price,
			updated_at     = EXCLUDED.updated_at,
			closed_at      = EXCLUDED.closed_at
		WHERE positions.updated_at <= EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.OrderID, p.Symbol, string(p.Side), p.Volume, p.InitialVolume, p.ContractSize,
		p.OpenPrice, p.CurrentPrice, p.StopLoss, p.TakeProfit, p.Margin, p.UnrealizedPnL,
		p.RealizedPnL, string(p.Status), string(p.CloseReason), p.ClosePrice,
		p.OpenedAt, p.UpdatedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", p.ID, err)
	}
	return nil
}

func scanPosition(row rowScanner) (domain.Position, error) {
	var p domain.Position
	var side, status, reason string
	err := row.Scan(
		&p.ID, &p.OrderID, &p.Symbol, &side, &p.Volume, &p.InitialVolume, &p.ContractSize,
		&p.OpenPrice, &p.CurrentPrice, &p.StopLoss, &p.TakeProfit, &p.Margin, &p.UnrealizedPnL,
		&p.RealizedPnL, &status, &reason, &p.ClosePrice, &p.OpenedAt, &p.UpdatedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Side = domain.OrderSide(side)
	p.Status = domain.PositionStatus(status)
	p.CloseReason = domain.CloseReason(reason)
	return p, nil
}

func collectPositions(rows pgx.Rows) ([]domain.Position, error) {
	defer rows.Close()
	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetByID returns one position or domain.ErrNotFound.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	p, err := scanPosition(s.pool.QueryRow(ctx, `SELECT `+positionCols+` FROM positions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListOpen returns open positions, oldest first.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionCols+` FROM positions WHERE status = 'open' ORDER BY opened_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	positions, err := collectPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// ListHistory returns closed positions, most recently closed first.
func (s *PositionStore) ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	query, args := withListOpts(`SELECT `+positionCols+` FROM positions WHERE status = 'closed'`, nil, "closed_at", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list position history: %w", err)
	}
	positions, err := collectPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan position history: %w", err)
	}
	return positions, nil
}

// ListClosedBefore returns positions closed before the cutoff, oldest first.
func (s *PositionStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionCols+` FROM positions
		 WHERE status = 'closed' AND closed_at < $1
		 ORDER BY closed_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	positions, err := collectPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions: %w", err)
	}
	return positions, nil
}

// DeleteClosedBefore removes the rows ListClosedBefore returns.
func (s *PositionStore) DeleteClosedBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE status = 'closed' AND closed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete closed positions: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
