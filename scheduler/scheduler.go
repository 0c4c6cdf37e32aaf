// Package scheduler provides the bounded task pools that cap how many
// processes run concurrently, both system-wide and per runnable.
package scheduler

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Pool limits concurrent units of work to a fixed size. Waiters are served
// in FIFO order; cancelling a queued waiter removes it from the queue
// without side effects. Failure of one unit never affects its siblings.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

// NewPool creates a pool with the given capacity. Sizes below one are
// clamped to one.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		sem:  semaphore.NewWeighted(int64(size)),
		size: size,
	}
}

// Size returns the pool capacity.
func (p *Pool) Size() int { return p.size }

// Acquire blocks until a slot is free or ctx is cancelled. On success it
// returns a release function that must be called exactly once.
func (p *Pool) Acquire(ctx context.Context) (func(), error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquiring pool slot: %w", err)
	}
	return func() { p.sem.Release(1) }, nil
}

// TryAcquire takes a slot without blocking. The boolean reports success.
func (p *Pool) TryAcquire() (func(), bool) {
	if !p.sem.TryAcquire(1) {
		return nil, false
	}
	return func() { p.sem.Release(1) }, true
}

// Submit queues fn for execution under the pool bound and returns a channel
// that yields its result. If ctx is cancelled while fn is still queued, fn
// never runs and the channel yields the context error. Cancellation of a
// running fn is cooperative: fn observes ctx itself.
func (p *Pool) Submit(ctx context.Context, fn func(ctx context.Context) error) <-chan error {
	done := make(chan error, 1)
	go func() {
		release, err := p.Acquire(ctx)
		if err != nil {
			done <- err
			return
		}
		defer release()
		done <- fn(ctx)
	}()
	return done
}
