package testadapt

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLoopTicks(t *testing.T) {
	calls := make(chan struct{}, 16)
	loop := newRunLoop(10*time.Millisecond, log.New(), func() error {
		calls <- struct{}{}
		return nil
	})
	loop.Start(context.Background())

	for i := 0; i < 3; i++ {
		select {
		case <-calls:
		case <-time.After(5 * time.Second):
			t.Fatal("loop stopped ticking")
		}
	}

	loop.Stop()
	require.NoError(t, loop.Wait(context.Background()))
}

func TestRunLoopStopPreventsFurtherRuns(t *testing.T) {
	var count atomic.Int32
	loop := newRunLoop(10*time.Millisecond, log.New(), func() error {
		count.Add(1)
		return nil
	})
	loop.Start(context.Background())

	time.Sleep(50 * time.Millisecond)
	loop.Stop()
	require.NoError(t, loop.Wait(context.Background()))

	settled := count.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, count.Load(), "no runs after Stop returns")
}

func TestRunLoopStopIsIdempotent(t *testing.T) {
	loop := newRunLoop(time.Hour, log.New(), func() error { return nil })
	loop.Start(context.Background())

	loop.Stop()
	loop.Stop()
	require.NoError(t, loop.Wait(context.Background()))
}

func TestRunLoopSurvivesRunErrors(t *testing.T) {
	calls := make(chan struct{}, 16)
	loop := newRunLoop(10*time.Millisecond, log.New(), func() error {
		calls <- struct{}{}
		return errors.New("flaky interval")
	})
	loop.Start(context.Background())

	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(5 * time.Second):
			t.Fatal("an erroring run must not end the loop")
		}
	}

	loop.Stop()
	require.NoError(t, loop.Wait(context.Background()))
}

func TestRunLoopContextCancelStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	loop := newRunLoop(time.Hour, log.New(), func() error { return nil })
	loop.Start(ctx)

	cancel()
	require.NoError(t, loop.Wait(context.Background()))
}

func TestRunLoopWaitHonorsContext(t *testing.T) {
	loop := newRunLoop(time.Hour, log.New(), func() error { return nil })
	loop.Start(context.Background())
	defer loop.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, loop.Wait(ctx), context.DeadlineExceeded)
}
