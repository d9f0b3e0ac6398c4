package resilience

import (
	"context"
	"time"
)

// Backoff computes exponential delays: Base * 2^attempt, capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff starts at one second and caps at one minute.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Max: time.Minute}
}

// Delay returns the wait before re-attempt number attempt (zero based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// 2^30 seconds is far beyond any sane cap.
	if attempt > 30 {
		return b.Max
	}
	d := b.Base * time.Duration(1<<attempt)
	if d > b.Max || d <= 0 {
		return b.Max
	}
	return d
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
