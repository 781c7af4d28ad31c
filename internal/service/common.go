package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/prediclaw/internal/domain"
)

// lockTTL bounds how long a crashed holder can keep a distributed lock.
const lockTTL = 30 * time.Second

func marketLockKey(id string) string { return "market:" + id }

func botLockKey(id string) string { return "bot:" + id }

func newID() string { return uuid.NewString() }

// withLock runs fn while holding key.
func withLock(ctx context.Context, locks domain.LockManager, key string, fn func() error) error {
	unlock, err := locks.Acquire(ctx, key, lockTTL)
	if err != nil {
		return fmt.Errorf("acquire %s: %w", key, err)
	}
	defer unlock()
	return fn()
}

type heldBotsKey struct{}

// withBotLocks runs fn holding the lock of every bot in ids. Locks are taken
// in sorted order and stay held until fn returns, so a transaction opened
// inside fn commits before another writer can touch those wallets. Ledger
// writes under the returned context skip re-acquiring the held locks.
func withBotLocks(ctx context.Context, locks domain.LockManager, ids []string, fn func(ctx context.Context) error) error {
	held := make(map[string]bool, len(ids))
	if outer, ok := ctx.Value(heldBotsKey{}).(map[string]bool); ok {
		for id := range outer {
			held[id] = true
		}
	}

	sorted := slices.Sorted(slices.Values(ids))
	for _, id := range slices.Compact(sorted) {
		if id == "" || held[id] {
			continue
		}
		unlock, err := locks.Acquire(ctx, botLockKey(id), lockTTL)
		if err != nil {
			return fmt.Errorf("acquire %s: %w", botLockKey(id), err)
		}
		defer unlock()
		held[id] = true
	}
	return fn(context.WithValue(ctx, heldBotsKey{}, held))
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrValidation, fmt.Sprintf(format, args...))
}

func conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrConflict, fmt.Sprintf(format, args...))
}

func forbiddenf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrForbidden, fmt.Sprintf(format, args...))
}
