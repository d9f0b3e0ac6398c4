package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/paperdesk/internal/domain"
)

// quoteExpiry bounds how long an abandoned symbol lingers. Staleness is
// judged by the reader from the stored arrival time, not by key expiry.
const quoteExpiry = 24 * time.Hour

// QuoteCache implements domain.QuoteCache with one hash per symbol at
// "paperdesk:quote:{symbol}".
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

// Set stores q and refreshes the key's expiry.
func (qc *QuoteCache) Set(ctx context.Context, q domain.Quote) error {
	k := key("quote", q.Symbol)
	fields := map[string]any{
		"price":  formatFloat(q.Price),
		"bid":    formatFloat(q.Bid),
		"ask":    formatFloat(q.Ask),
		"volume": formatFloat(q.Volume),
		"ts":     strconv.FormatInt(q.Timestamp.UnixNano(), 10),
		"source": q.Source,
	}
	if !q.ProviderTime.IsZero() {
		fields["pts"] = strconv.FormatInt(q.ProviderTime.UnixNano(), 10)
	}
	if !q.StaleAfter.IsZero() {
		fields["stale_after"] = strconv.FormatInt(q.StaleAfter.UnixNano(), 10)
	}

	_, err := qc.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, fields)
		pipe.Expire(ctx, k, quoteExpiry)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.Symbol, err)
	}
	return nil
}

// Get returns the cached quote for symbol; ok is false when none is held.
func (qc *QuoteCache) Get(ctx context.Context, symbol string) (domain.Quote, bool, error) {
	vals, err := qc.rdb.HGetAll(ctx, key("quote", symbol)).Result()
	if err != nil {
		return domain.Quote{}, false, fmt.Errorf("redis: get quote %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, false, nil
	}

	q := domain.Quote{Symbol: symbol, Source: vals["source"]}
	if q.Price, err = parseFloat(vals["price"]); err != nil {
		return domain.Quote{}, false, fmt.Errorf("redis: parse quote %s price: %w", symbol, err)
	}
	q.Bid, _ = parseFloat(vals["bid"])
	q.Ask, _ = parseFloat(vals["ask"])
	q.Volume, _ = parseFloat(vals["volume"])

	ts, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.Quote{}, false, fmt.Errorf("redis: parse quote %s ts: %w", symbol, err)
	}
	q.Timestamp = time.Unix(0, ts).UTC()
	if pts, err := strconv.ParseInt(vals["pts"], 10, 64); err == nil {
		q.ProviderTime = time.Unix(0, pts).UTC()
	}
	if sa, err := strconv.ParseInt(vals["stale_after"], 10, 64); err == nil {
		q.StaleAfter = time.Unix(0, sa).UTC()
	}
	return q, true, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

var _ domain.QuoteCache = (*QuoteCache)(nil)
