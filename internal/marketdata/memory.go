package marketdata

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/paperdesk/internal/domain"
)

// MemoryCache implements domain.QuoteCache in process.
type MemoryCache struct {
	mu     sync.RWMutex
	quotes map[string]domain.Quote
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{quotes: make(map[string]domain.Quote)}
}

// Set stores q unless a quote with a later arrival time is already held.
func (c *MemoryCache) Set(_ context.Context, q domain.Quote) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.quotes[q.Symbol]; ok && cur.Timestamp.After(q.Timestamp) {
		return nil
	}
	c.quotes[q.Symbol] = q
	return nil
}

func (c *MemoryCache) Get(_ context.Context, symbol string) (domain.Quote, bool, error) {
	c.mu.RLock()
	q, ok := c.quotes[symbol]
	c.mu.RUnlock()
	return q, ok, nil
}

// MemoryLimiter implements domain.RateLimiter as an in-process sliding
// window log.
type MemoryLimiter struct {
	mu     sync.Mutex
	events map[string][]time.Time
	now    func() time.Time
}

// NewMemoryLimiter returns an empty MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{events: make(map[string][]time.Time), now: time.Now}
}

// Allow admits the event when fewer than limit events were admitted for key
// during the trailing window. Admitted events are counted.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := l.now()
	cutoff := now.Add(-window)

	l.mu.Lock()
	defer l.mu.Unlock()

	log := l.events[key]
	i := 0
	for i < len(log) && !log[i].After(cutoff) {
		i++
	}
	log = log[i:]
	if len(log) >= limit {
		l.events[key] = log
		return false, nil
	}
	l.events[key] = append(log, now)
	return true, nil
}

var (
	_ domain.QuoteCache  = (*MemoryCache)(nil)
	_ domain.RateLimiter = (*MemoryLimiter)(nil)
)
