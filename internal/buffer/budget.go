// Package buffer tracks the shared memory budget that part buffers are
// allocated from. The S3 engine charges the budget before dispatching a
// part whose completion may have to be buffered, and releases the charge
// once the bytes are emitted to the sink.
package buffer

import (
	"context"
	"sync"
)

// Budget is a byte-denominated ledger with blocking acquisition. A zero
// limit means unlimited.
type Budget struct {
	mu    sync.Mutex
	cond  *sync.Cond
	limit int64
	used  int64
}

// NewBudget creates a budget bounded to limit bytes (0 = unlimited).
func NewBudget(limit int64) *Budget {
	b := &Budget{limit: limit}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Acquire blocks until n bytes can be charged or the context is canceled.
// A request larger than the whole limit is admitted alone once the budget
// is otherwise empty, so oversized parts cannot deadlock the scheduler.
func (b *Budget) Acquire(ctx context.Context, n int64) error {
	if b.limit <= 0 || n <= 0 {
		return ctx.Err()
	}

	// Wake the waiter when the context is canceled.
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if b.used+n <= b.limit || (n > b.limit && b.used == 0) {
			b.used += n
			return nil
		}
		b.cond.Wait()
	}
}

// TryAcquire charges n bytes if the budget allows it without blocking.
func (b *Budget) TryAcquire(n int64) bool {
	if b.limit <= 0 || n <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used+n <= b.limit || (n > b.limit && b.used == 0) {
		b.used += n
		return true
	}
	return false
}

// Release returns n bytes to the budget and wakes blocked acquirers.
func (b *Budget) Release(n int64) {
	if b.limit <= 0 || n <= 0 {
		return
	}
	b.mu.Lock()
	b.used -= n
	if b.used < 0 {
		b.used = 0
	}
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Used returns the currently charged byte count.
func (b *Budget) Used() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// Limit returns the configured limit (0 = unlimited).
func (b *Budget) Limit() int64 {
	return b.limit
}
