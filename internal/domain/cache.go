package domain

import (
	"context"
	"encoding/json"
	"time"
)

// QuoteCache holds the latest quote per symbol. Staleness is judged by the
// caller from Quote.Timestamp.
type QuoteCache interface {
	Set(ctx context.Context, q Quote) error
	Get(ctx context.Context, symbol string) (Quote, bool, error)
}

// RateLimiter admits at most limit events per sliding window for a key.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is one entry of a durable event stream.
type StreamMessage struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// SignalBus publishes engine events to live listeners and keeps a capped
// stream of them for replay.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
