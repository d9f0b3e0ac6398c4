package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OrderStore persists paper orders.
type OrderStore interface {
	Upsert(ctx context.Context, order Order) error
	GetByID(ctx context.Context, id string) (Order, error)
	List(ctx context.Context, opts ListOpts) ([]Order, error)
	ListPending(ctx context.Context) ([]Order, error)
	ListTerminalBefore(ctx context.Context, before time.Time) ([]Order, error)
	DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error)
}

// PositionStore persists positions.
type PositionStore interface {
	Upsert(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListOpen(ctx context.Context) ([]Position, error)
	ListHistory(ctx context.Context, opts ListOpts) ([]Position, error)
	ListClosedBefore(ctx context.Context, before time.Time) ([]Position, error)
	DeleteClosedBefore(ctx context.Context, before time.Time) (int64, error)
}

// AccountStore persists periodic account snapshots.
type AccountStore interface {
	Snapshot(ctx context.Context, state AccountState) error
	Latest(ctx context.Context) (AccountState, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
