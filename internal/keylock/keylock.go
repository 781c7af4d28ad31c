// Package keylock provides an in-process domain.LockManager: one mutex per
// key, created on demand and dropped when no goroutine holds or waits for it.
package keylock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/prediclaw/internal/domain"
)

type entry struct {
	// sem is a one-slot semaphore so Acquire can select on ctx.
	sem  chan struct{}
	refs int
}

// Manager implements domain.LockManager for a single process. The ttl
// argument is ignored: a holder in the same process cannot crash without
// taking the locks down with it.
type Manager struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// New creates an empty Manager.
func New() *Manager {
	return &Manager{locks: make(map[string]*entry)}
}

// Acquire blocks until key is free or ctx is done. The returned unlock is safe
// to call more than once.
func (m *Manager) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		m.release(key, e)
		return nil, fmt.Errorf("keylock: acquire %s: %w", key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			m.release(key, e)
		})
	}, nil
}

func (m *Manager) release(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
}

var _ domain.LockManager = (*Manager)(nil)
