package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/prediclaw/internal/domain"
)

// unlockLua deletes the lock only while it still holds the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// lockPollInterval is how often a blocked Acquire retries SETNX.
const lockPollInterval = 25 * time.Millisecond

// LockManager implements domain.LockManager with SETNX plus a TTL and a
// token-checked unlock. Acquire polls until the lock is free.
type LockManager struct {
	client   *Client
	unlockSc *redis.Script
	poll     time.Duration
	ttl      time.Duration
}

// NewLockManager creates a LockManager backed by c.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		client:   c,
		unlockSc: redis.NewScript(unlockLua),
		poll:     lockPollInterval,
	}
}

// WithTTL makes every lock expire after ttl regardless of the TTL the caller
// asks for. Zero keeps the caller's TTL.
func (lm *LockManager) WithTTL(ttl time.Duration) *LockManager {
	lm.ttl = ttl
	return lm
}

// Acquire blocks until the lock for key is held or ctx is done. ttl bounds
// how long a crashed holder keeps the lock. The returned unlock is safe to
// call more than once.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lm.client.key("lock", key)
	if lm.ttl > 0 {
		ttl = lm.ttl
	}

	for {
		ok, err := lm.client.rdb.SetNX(ctx, lk, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(lm.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("redis: acquire lock %s: %w: %w", key, domain.ErrLockHeld, ctx.Err())
		case <-timer.C:
		}
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// The caller's context may already be cancelled.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(unlockCtx, lm.client.rdb, []string{lk}, token).Err()
		})
	}
	return unlock, nil
}

var _ domain.LockManager = (*LockManager)(nil)
