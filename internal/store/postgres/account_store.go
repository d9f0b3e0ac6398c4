package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/paperdesk/internal/domain"
)

// AccountStore implements domain.AccountStore as an append-only series of
// snapshots.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates an AccountStore backed by pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

// Snapshot appends st.
func (s *AccountStore) Snapshot(ctx context.Context, st domain.AccountState) error {
	const query = `
		INSERT INTO account_snapshots (
			balance, equity, used_margin, free_margin, margin_level, unrealized_pnl,
			currency, open_positions, pending_orders, taken_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := s.pool.Exec(ctx, query,
		st.Balance, st.Equity, st.UsedMargin, st.FreeMargin, st.MarginLevel, st.UnrealizedPnL,
		st.Currency, st.OpenPositions, st.PendingOrders, st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: snapshot account: %w", err)
	}
	return nil
}

// Latest returns the most recent snapshot or domain.ErrNotFound.
func (s *AccountStore) Latest(ctx context.Context) (domain.AccountState, error) {
	var st domain.AccountState
	err := s.pool.QueryRow(ctx, `
		SELECT balance, equity, used_margin, free_margin, margin_level, unrealized_pnl,
		       currency, open_positions, pending_orders, taken_at
		FROM account_snapshots ORDER BY taken_at DESC, id DESC LIMIT 1`,
	).Scan(
		&st.Balance, &st.Equity, &st.UsedMargin, &st.FreeMargin, &st.MarginLevel, &st.UnrealizedPnL,
		&st.Currency, &st.OpenPositions, &st.PendingOrders, &st.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AccountState{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.AccountState{}, fmt.Errorf("postgres: latest account snapshot: %w", err)
	}
	return st, nil
}

var _ domain.AccountStore = (*AccountStore)(nil)
