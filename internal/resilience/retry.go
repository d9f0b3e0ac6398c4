package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/paperdesk/internal/domain"
)

type attemptKey struct{}

// WithAttempt annotates ctx with the 1-based attempt number.
func WithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptKey{}, attempt)
}

// AttemptFrom returns the attempt number stored in ctx, or 1.
func AttemptFrom(ctx context.Context) int {
	if n, ok := ctx.Value(attemptKey{}).(int); ok {
		return n
	}
	return 1
}

// Retrier re-runs failed operations with exponential backoff. Attempt state
// is tracked per key so callers can report progress.
type Retrier struct {
	backoff Backoff
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	attempts map[string]int
}

// NewRetrier creates a Retrier using the given backoff schedule.
func NewRetrier(b Backoff, logger *slog.Logger) *Retrier {
	return &Retrier{
		backoff:  b,
		logger:   logger.With(slog.String("component", "retry")),
		sleep:    sleepCtx,
		attempts: make(map[string]int),
	}
}

// Do runs op until it succeeds, returns a non-retryable error, ctx is done,
// or maxAttempts is reached. Rate-limit errors carrying a RetryAfter hint
// wait for that long instead of the backoff delay. On exhaustion the
// returned error names the key and attempt count and wraps the last error.
func (r *Retrier) Do(ctx context.Context, key string, maxAttempts int, op func(ctx context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	defer r.clear(key)

	var last error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.set(key, attempt+1)

		last = op(WithAttempt(ctx, attempt+1))
		if last == nil {
			return nil
		}
		if !domain.IsRetryable(last) {
			return last
		}
		if attempt == maxAttempts-1 {
			break
		}

		delay := domain.RetryAfterOf(last)
		if delay <= 0 {
			delay = r.backoff.Delay(attempt)
		}
		r.logger.DebugContext(ctx, "retrying",
			slog.String("key", key),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("error", last.Error()),
		)
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return &domain.Error{
		Kind: domain.KindRetryExhausted,
		Op:   "retry " + key,
		Msg:  fmt.Sprintf("gave up after %d attempts", maxAttempts),
		Err:  last,
	}
}

// Attempt returns the attempt currently running for key, or 0 when idle.
func (r *Retrier) Attempt(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts[key]
}

func (r *Retrier) set(key string, n int) {
	r.mu.Lock()
	r.attempts[key] = n
	r.mu.Unlock()
}

func (r *Retrier) clear(key string) {
	r.mu.Lock()
	delete(r.attempts, key)
	r.mu.Unlock()
}
