package marketdata

import (
	"context"
	"log/slog"
	"time"
)

// Run refreshes stale live symbols over REST every PollInterval until ctx
// is done. Streaming symbols with fresh ticks are left alone.
func (h *Hub) Run(ctx context.Context) error {
	interval := h.cfg.PollInterval
	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.logger.InfoContext(ctx, "poller started", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.PollOnce(ctx)
		}
	}
}

// PollOnce performs one polling pass and returns the number of symbols
// refreshed.
func (h *Hub) PollOnce(ctx context.Context) int {
	refreshed := 0
	for _, info := range h.Snapshot() {
		if ctx.Err() != nil {
			return refreshed
		}
		if q, ok := h.cached(ctx, info.Symbol); ok && !h.isStale(q) {
			continue
		}
		if _, err := h.pull(ctx, info.Symbol); err != nil {
			h.logger.DebugContext(ctx, "poll failed",
				slog.String("symbol", info.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		refreshed++
	}
	return refreshed
}
