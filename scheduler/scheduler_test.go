package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := NewPool(2)

	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := pool.Acquire(context.Background())
			require.NoError(t, err)
			defer release()

			cur := atomic.AddInt32(&active, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestPoolClampsSize(t *testing.T) {
	assert.Equal(t, 1, NewPool(0).Size())
	assert.Equal(t, 1, NewPool(-3).Size())
	assert.Equal(t, 4, NewPool(4).Size())
}

func TestPoolQueuedCancellation(t *testing.T) {
	pool := NewPool(1)

	release, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	done := pool.Submit(ctx, func(context.Context) error {
		ran.Store(true)
		return nil
	})

	// The unit is queued behind the held slot; cancelling must remove it
	// without running it.
	cancel()
	err = <-done
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran.Load())

	// The slot is still usable afterwards.
	release()
	release2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	release2()
}

func TestPoolFailureDoesNotCancelSiblings(t *testing.T) {
	pool := NewPool(2)
	boom := errors.New("boom")

	failed := pool.Submit(context.Background(), func(context.Context) error { return boom })
	ok := pool.Submit(context.Background(), func(context.Context) error { return nil })

	require.ErrorIs(t, <-failed, boom)
	require.NoError(t, <-ok)
}

func TestPoolTryAcquire(t *testing.T) {
	pool := NewPool(1)

	release, ok := pool.TryAcquire()
	require.True(t, ok)

	_, ok = pool.TryAcquire()
	assert.False(t, ok)

	release()
	release2, ok := pool.TryAcquire()
	require.True(t, ok)
	release2()
}
