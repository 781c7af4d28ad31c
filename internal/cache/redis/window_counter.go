package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/prediclaw/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// WindowCounter implements domain.WindowCounter with one sorted set per key
// and an atomic Lua script, so every engine instance shares the same windows.
type WindowCounter struct {
	client        *Client
	slidingWindow *redis.Script
}

// NewWindowCounter creates a WindowCounter backed by c.
func NewWindowCounter(c *Client) *WindowCounter {
	return &WindowCounter{
		client:        c,
		slidingWindow: redis.NewScript(slidingWindowLua),
	}
}

// Hit prunes timestamps at or before now-window and records now when fewer
// than limit remain.
func (w *WindowCounter) Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (domain.WindowResult, error) {
	result, err := w.slidingWindow.Run(
		ctx,
		w.client.rdb,
		[]string{w.client.key("window", key)},
		now.UnixMicro(),
		window.Microseconds(),
		limit,
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return domain.WindowResult{}, fmt.Errorf("redis: window hit %s: %w", key, err)
	}
	return decodeWindowResult(key, result)
}

func decodeWindowResult(key string, result []int64) (domain.WindowResult, error) {
	if len(result) < 3 {
		return domain.WindowResult{}, fmt.Errorf("redis: window hit %s: unexpected result length %d", key, len(result))
	}
	return domain.WindowResult{
		Allowed: result[0] == 1,
		Count:   int(result[1]),
		Oldest:  time.UnixMicro(result[2]).UTC(),
	}, nil
}

var _ domain.WindowCounter = (*WindowCounter)(nil)
