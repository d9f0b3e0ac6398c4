package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/paperdesk/internal/domain"
)

// unlockLua deletes the lock only if it still carries the caller's token,
// so a holder whose TTL lapsed cannot release the next holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.LockManager with SET NX and a token-checked
// release.
type LockManager struct {
	rdb      *redis.Client
	unlockSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
	}
}

// Acquire takes the lock named k for ttl. The returned unlock function may
// be called any number of times. A lock held elsewhere yields
// domain.ErrLockHeld.
func (lm *LockManager) Acquire(ctx context.Context, k string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := key("lock", k)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", k, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// The caller's context may already be done by the time it unlocks.
			uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(uctx, lm.rdb, []string{lk}, token).Err()
		})
	}
	return unlock, nil
}

var _ domain.LockManager = (*LockManager)(nil)
