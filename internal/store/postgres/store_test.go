package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/paperdesk/internal/domain"
)

// testClient connects to PAPERDESK_TEST_POSTGRES_DSN and migrates, or skips.
func testClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("PAPERDESK_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PAPERDESK_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	require.NoError(t, c.RunMigrations(ctx))
	require.NoError(t, c.RunMigrations(ctx), "migrations are idempotent")
	return c
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/paper?sslmode=disable",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Database: "paper"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestWithListOpts(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q, args := withListOpts("SELECT 1 FROM t WHERE a = $1", []any{"x"}, "created_at",
		domain.ListOpts{Since: &since, Limit: 10, Offset: 20})
	assert.Equal(t, "SELECT 1 FROM t WHERE a = $1 AND created_at >= $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4", q)
	assert.Equal(t, []any{"x", since, 10, 20}, args)
}

func TestOrderUpsertNeverRollsBack(t *testing.T) {
	c := testClient(t)
	store := NewOrderStore(c.Pool())
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	o := domain.Order{
		ID: uuid.NewString(), Symbol: "EUR/USD", Side: domain.OrderSideBuy, Kind: domain.OrderKindLimit,
		Volume: 1, Price: 1.08, Status: domain.OrderStatusPending, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.Upsert(ctx, o))

	filled := o
	filled.Status = domain.OrderStatusFilled
	filled.FillPrice = 1.08
	filled.UpdatedAt = now.Add(time.Second)
	require.NoError(t, store.Upsert(ctx, filled))
	require.NoError(t, store.Upsert(ctx, o), "stale write is ignored")

	got, err := store.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, got.Status)

	_, err = store.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	old, err := store.ListTerminalBefore(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.NotEmpty(t, old)
	n, err := store.DeleteTerminalBefore(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))
}

func TestPositionLifecycle(t *testing.T) {
	c := testClient(t)
	store := NewPositionStore(c.Pool())
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	sl := 1.08
	p := domain.Position{
		ID: uuid.NewString(), OrderID: uuid.NewString(), Symbol: "EUR/USD", Side: domain.OrderSideBuy,
		Volume: 1, InitialVolume: 1, ContractSize: 100000, OpenPrice: 1.085, CurrentPrice: 1.085,
		StopLoss: &sl, Margin: 1000, Status: domain.PositionStatusOpen, OpenedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.Upsert(ctx, p))

	open, err := store.ListOpen(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids(open), p.ID)

	closedAt := now.Add(time.Minute)
	cp := 1.09
	p.Status, p.Volume, p.Margin, p.RealizedPnL = domain.PositionStatusClosed, 0, 0, 500
	p.CloseReason, p.ClosePrice, p.ClosedAt, p.UpdatedAt = domain.CloseReasonManual, &cp, &closedAt, closedAt
	require.NoError(t, store.Upsert(ctx, p))

	got, err := store.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 500.0, got.RealizedPnL)
	require.NotNil(t, got.StopLoss)
	assert.Equal(t, 1.08, *got.StopLoss)

	hist, err := store.ListHistory(ctx, domain.ListOpts{Limit: 50})
	require.NoError(t, err)
	assert.Contains(t, ids(hist), p.ID)
}

func TestAccountSnapshots(t *testing.T) {
	c := testClient(t)
	store := NewAccountStore(c.Pool())
	ctx := context.Background()

	st := domain.AccountState{Balance: 100500, Equity: 100500, Currency: "USD", UpdatedAt: time.Now().UTC().Add(time.Hour).Truncate(time.Microsecond)}
	require.NoError(t, store.Snapshot(ctx, st))
	latest, err := store.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, st, latest)

	audit := NewAuditStore(c.Pool())
	require.NoError(t, audit.Log(ctx, "test_event", map[string]any{"k": "v"}))
	entries, err := audit.List(ctx, domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "test_event", entries[0].Event)
}

func ids(ps []domain.Position) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.ID)
	}
	return out
}
