package testadapt

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/testadapt/testadapt/flags"
)

// Config holds the application configuration
type Config struct {
	RunnableConfig string        // Path to the runnables config file
	TargetRunnable string        // Limit runs to one configured runnable id, empty for all
	Selection      []string      // Test identities to run, empty for everything
	RunInterval    time.Duration // Interval between test runs
	RunOnce        bool          // Indicates if the service should exit after one test run
	Concurrency    int           // System-wide bound on concurrently spawned test processes
	RunTimeout     time.Duration // Default per-process run budget
	Watch          bool          // Watch executables on disk and mark them stale on change
	Seed           int64         // Ordering seed override for fixed-seed runnables
	Log            log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	runnableConfig := ctx.String(flags.RunnableConfig.Name)
	absRunnableConfig, err := filepath.Abs(runnableConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for runnable config '%s': %w", runnableConfig, err)
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)
	runOnce := runInterval == 0

	concurrency := ctx.Int(flags.Concurrency.Name)
	if concurrency < 1 {
		return nil, fmt.Errorf("concurrency must be at least 1, got %d", concurrency)
	}

	return &Config{
		RunnableConfig: absRunnableConfig,
		TargetRunnable: ctx.String(flags.Runnable.Name),
		Selection:      ctx.StringSlice(flags.Filter.Name),
		RunInterval:    runInterval,
		RunOnce:        runOnce,
		Concurrency:    concurrency,
		RunTimeout:     ctx.Duration(flags.RunTimeout.Name),
		Watch:          ctx.Bool(flags.WatchExecutables.Name),
		Seed:           ctx.Int64(flags.Seed.Name),
		Log:            log,
	}, nil
}
