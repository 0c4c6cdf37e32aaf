package testadapt

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// runLoop re-invokes a run function on a fixed interval. The owner performs
// the initial run itself; the loop only handles the ticks, so run-once mode
// never needs one.
type runLoop struct {
	interval time.Duration
	logger   log.Logger
	run      func() error

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func newRunLoop(interval time.Duration, logger log.Logger, run func() error) *runLoop {
	return &runLoop{
		interval: interval,
		logger:   logger,
		run:      run,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the ticking goroutine. Run errors are logged, never fatal;
// one bad interval must not end the service.
func (l *runLoop) Start(ctx context.Context) {
	go func() {
		defer close(l.done)
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()
		l.logger.Info("Scheduling periodic runs", "interval", l.interval)

		for {
			select {
			case <-ticker.C:
				if err := l.run(); err != nil {
					l.logger.Error("Periodic run failed", "err", err)
				}
			case <-l.stop:
				l.logger.Debug("Run loop stopped")
				return
			case <-ctx.Done():
				l.logger.Debug("Run loop context canceled")
				return
			}
		}
	}()
}

// Stop ends the loop after any in-flight run completes. Idempotent.
func (l *runLoop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Wait blocks until the loop goroutine has exited or ctx expires.
func (l *runLoop) Wait(ctx context.Context) error {
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
