package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/prediclaw/internal/domain"
)

// WindowCounter keeps one timestamp log per key in memory. It serves rate and
// quota checks when Redis is not configured.
type WindowCounter struct {
	mu   sync.Mutex
	logs map[string][]time.Time
}

// NewWindowCounter creates an empty WindowCounter.
func NewWindowCounter() *WindowCounter {
	return &WindowCounter{logs: make(map[string][]time.Time)}
}

// Hit prunes timestamps at or before now-window and records now when fewer
// than limit remain.
func (c *WindowCounter) Hit(_ context.Context, key string, limit int, window time.Duration, now time.Time) (domain.WindowResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := now.Add(-window)
	log := c.logs[key]
	i := 0
	for i < len(log) && !log[i].After(cutoff) {
		i++
	}
	log = log[i:]

	res := domain.WindowResult{Count: len(log)}
	if len(log) < limit {
		log = append(log, now)
		res.Allowed = true
		res.Count = len(log)
	}
	if len(log) > 0 {
		res.Oldest = log[0]
	}

	if len(log) == 0 {
		delete(c.logs, key)
	} else {
		c.logs[key] = log
	}
	return res, nil
}

var _ domain.WindowCounter = (*WindowCounter)(nil)
