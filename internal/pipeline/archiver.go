// Package pipeline runs scheduled background jobs over the stored trading
// history.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/paperdesk/internal/domain"
)

const archiveLockKey = "archive"

// Archiver moves closed positions and terminal orders older than the
// retention window to cold storage. Runs are serialized across processes by
// a distributed lock when one is configured.
type Archiver struct {
	blobArchiver  domain.Archiver
	locks         domain.LockManager
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
}

// NewArchiver creates an Archiver. locks may be nil for a single instance.
func NewArchiver(blobArchiver domain.Archiver, locks domain.LockManager, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		locks:         locks,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Run executes one archive pass. It returns nil without doing anything when
// another instance holds the archive lock.
func (a *Archiver) Run(ctx context.Context) error {
	if a.locks != nil {
		unlock, err := a.locks.Acquire(ctx, archiveLockKey, time.Hour)
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.Info("archive run skipped, lock held elsewhere")
			return nil
		}
		if err != nil {
			return fmt.Errorf("pipeline: acquire archive lock: %w", err)
		}
		defer unlock()
	}

	cutoff := a.now().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.Info("starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	positions, err := a.blobArchiver.ArchivePositions(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archive positions before %v: %w", cutoff, err)
	}
	orders, err := a.blobArchiver.ArchiveOrders(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archive orders before %v: %w", cutoff, err)
	}

	a.logger.Info("archive run complete",
		slog.Int64("positions_archived", positions),
		slog.Int64("orders_archived", orders),
	)
	return nil
}

// RunCron runs the archiver on a standard five-field cron schedule until ctx
// is done. A run still in progress when ctx ends is waited for.
func (a *Archiver) RunCron(ctx context.Context, spec string) error {
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(spec, func() {
		if err := a.Run(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("archive run failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("pipeline: parse cron %q: %w", spec, err)
	}

	c.Start()
	a.logger.Info("archiver scheduled", slog.String("cron", spec))

	<-ctx.Done()
	<-c.Stop().Done()
	a.logger.Info("archiver stopped")
	return ctx.Err()
}
