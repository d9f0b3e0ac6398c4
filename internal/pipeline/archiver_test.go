package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/paperdesk/internal/domain"
)

type fakeBlobArchiver struct {
	mu      sync.Mutex
	cutoffs []time.Time
	calls   []string
}

func (f *fakeBlobArchiver) ArchivePositions(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "positions")
	f.cutoffs = append(f.cutoffs, before)
	return 3, nil
}

func (f *fakeBlobArchiver) ArchiveOrders(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "orders")
	f.cutoffs = append(f.cutoffs, before)
	return 5, nil
}

type fakeLocks struct{ held bool }

func (f *fakeLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	if f.held {
		return nil, domain.ErrLockHeld
	}
	f.held = true
	return func() { f.held = false }, nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestArchiverRunUsesRetentionCutoff(t *testing.T) {
	blob := &fakeBlobArchiver{}
	locks := &fakeLocks{}
	a := NewArchiver(blob, locks, 30, discard())
	now := time.Date(2026, 10, 15, 3, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	require.NoError(t, a.Run(context.Background()))
	assert.Equal(t, []string{"positions", "orders"}, blob.calls)
	want := now.AddDate(0, 0, -30)
	assert.Equal(t, []time.Time{want, want}, blob.cutoffs)
	assert.False(t, locks.held, "lock released after run")
}

func TestArchiverSkipsWhenLockHeld(t *testing.T) {
	blob := &fakeBlobArchiver{}
	a := NewArchiver(blob, &fakeLocks{held: true}, 30, discard())

	require.NoError(t, a.Run(context.Background()))
	assert.Empty(t, blob.calls)
}

func TestRunCronRejectsBadSpec(t *testing.T) {
	a := NewArchiver(&fakeBlobArchiver{}, nil, 30, discard())
	err := a.RunCron(context.Background(), "not a cron")
	require.Error(t, err)
}

func TestRunCronStopsWithContext(t *testing.T) {
	a := NewArchiver(&fakeBlobArchiver{}, nil, 30, discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.RunCron(ctx, "0 3 * * *") }()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("RunCron did not stop")
	}
}
