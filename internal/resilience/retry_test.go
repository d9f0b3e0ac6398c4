package resilience

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/paperdesk/internal/domain"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 60 * time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},
		{40, 60 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

type recordedSleeps struct {
	delays []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func newTestRetrier() (*Retrier, *recordedSleeps) {
	rec := &recordedSleeps{}
	r := NewRetrier(Backoff{Base: 100 * time.Millisecond, Max: time.Second}, discardLogger())
	r.sleep = rec.sleep
	return r, rec
}

func TestRetrierSucceedsAfterTransientFailures(t *testing.T) {
	r, rec := newTestRetrier()
	var seen []int
	err := r.Do(context.Background(), "finnhub", 5, func(ctx context.Context) error {
		seen = append(seen, AttemptFrom(ctx))
		assert.Equal(t, AttemptFrom(ctx), r.Attempt("finnhub"))
		if len(seen) < 3 {
			return domain.NewError(domain.KindNetwork, "dial", io.EOF)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, seen)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, rec.delays)
	assert.Zero(t, r.Attempt("finnhub"), "state cleared after success")
}

func TestRetrierStopsOnNonRetryable(t *testing.T) {
	r, rec := newTestRetrier()
	calls := 0
	err := r.Do(context.Background(), "twelvedata", 5, func(context.Context) error {
		calls++
		return domain.Errorf(domain.KindAuthentication, "dial", "invalid api key")
	})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestRetrierExhaustion(t *testing.T) {
	r, rec := newTestRetrier()
	err := r.Do(context.Background(), "finnhub", 3, func(context.Context) error {
		return domain.NewError(domain.KindNetwork, "dial", io.EOF)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRetryExhausted)
	assert.ErrorIs(t, err, io.EOF)
	assert.Contains(t, err.Error(), "retry finnhub")
	assert.Contains(t, err.Error(), "3 attempts")
	assert.Len(t, rec.delays, 2)
	assert.Zero(t, r.Attempt("finnhub"))
}

func TestRetrierHonoursRetryAfter(t *testing.T) {
	r, rec := newTestRetrier()
	calls := 0
	err := r.Do(context.Background(), "finnhub", 2, func(context.Context) error {
		calls++
		if calls == 1 {
			return &domain.Error{Kind: domain.KindRateLimit, RetryAfter: 7 * time.Second}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{7 * time.Second}, rec.delays)
}

func TestRetrierCancellation(t *testing.T) {
	r := NewRetrier(Backoff{Base: time.Hour, Max: time.Hour}, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- r.Do(ctx, "finnhub", 10, func(context.Context) error {
			return domain.NewError(domain.KindNetwork, "dial", io.EOF)
		})
	}()

	require.Eventually(t, func() bool { return r.Attempt("finnhub") == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not observe cancellation during backoff")
	}
}
