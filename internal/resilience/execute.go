package resilience

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/paperdesk/internal/domain"
)

// Executor guards outbound calls with the breaker registered for the
// target service and logs every failure in a uniform shape.
type Executor struct {
	breakers *Breakers
	logger   *slog.Logger
}

// NewExecutor creates an Executor over the given registry.
func NewExecutor(breakers *Breakers, logger *slog.Logger) *Executor {
	return &Executor{
		breakers: breakers,
		logger:   logger.With(slog.String("component", "executor")),
	}
}

// Breakers exposes the registry for status reporting.
func (e *Executor) Breakers() *Breakers { return e.breakers }

// Execute runs op behind serviceID's breaker. Calls rejected by an open
// breaker fail fast with a circuit_open error without invoking op.
func Execute[T any](ctx context.Context, e *Executor, serviceID string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	b := e.breakers.Get(serviceID)
	ticket, err := b.Allow()
	if err != nil {
		e.logFailure(ctx, serviceID, err)
		return zero, err
	}

	v, err := op(ctx)
	switch {
	case err == nil:
		b.RecordSuccess(ticket)
		return v, nil
	case domain.CountsAsFailure(err):
		b.RecordFailure(ticket)
	default:
		b.Release(ticket)
	}
	e.logFailure(ctx, serviceID, err)
	return zero, err
}

func (e *Executor) logFailure(ctx context.Context, serviceID string, err error) {
	kind := domain.KindOf(err)
	if kind == "" {
		kind = "unknown"
	}
	e.logger.WarnContext(ctx, "outbound call failed",
		slog.String("service", serviceID),
		slog.Int("attempt", AttemptFrom(ctx)),
		slog.String("kind", string(kind)),
		slog.String("error", err.Error()),
	)
}
