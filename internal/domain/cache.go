package domain

import (
	"context"
	"time"
)

// WindowResult reports the state of a sliding window after a hit.
type WindowResult struct {
	Allowed bool
	// Count is the number of timestamps inside the window, including the
	// new one when Allowed.
	Count int
	// Oldest is the earliest timestamp still inside the window.
	Oldest time.Time
}

// WindowCounter is a set of sliding-window timestamp logs. Hit prunes
// timestamps at or before now-window, then records now only when fewer than
// limit remain. The prune, count and append happen atomically per key.
type WindowCounter interface {
	Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (WindowResult, error)
}

// LockManager serializes work on a key. Acquire blocks until the lock is held
// or ctx is done; ttl bounds how long a crashed holder can keep it.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides fire-and-forget pub/sub for live event streaming.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
