package memory

import (
	"context"
	"sync"
)

type txKey struct{}

// journal collects undo steps for the writes of one transaction. Undo steps
// reverse a single write by ID or by delta, so concurrent writers on other
// entities are left untouched when a transaction rolls back.
type journal struct {
	mu   sync.Mutex
	undo []func()
}

// WithinTx runs fn with a journal attached to ctx. When fn fails every write
// it made through the store is reverted in reverse order. Nested calls join
// the outer transaction.
//
// Writes are visible to other readers before fn returns. Callers hold the
// bot lock of every wallet fn touches until WithinTx returns, so no other
// writer can spend a delta that a rollback later reverses.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*journal); ok {
		return fn(ctx)
	}

	j := &journal{}
	if err := fn(context.WithValue(ctx, txKey{}, j)); err != nil {
		s.rollback(j)
		return err
	}
	return nil
}

func (s *Store) rollback(j *journal) {
	j.mu.Lock()
	steps := j.undo
	j.undo = nil
	j.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(steps) - 1; i >= 0; i-- {
		steps[i]()
	}
}

// record registers an undo step when ctx carries a transaction. Undo steps
// run with s.mu held.
func record(ctx context.Context, undo func()) {
	j, ok := ctx.Value(txKey{}).(*journal)
	if !ok {
		return
	}
	j.mu.Lock()
	j.undo = append(j.undo, undo)
	j.mu.Unlock()
}
