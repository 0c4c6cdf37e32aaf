// Package testadapt wires the discovery engines and run orchestrators of all
// configured runnables into one service that can run once or on an interval.
package testadapt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/testadapt/testadapt/discovery"
	"github.com/testadapt/testadapt/framework"
	"github.com/testadapt/testadapt/registry"
	"github.com/testadapt/testadapt/reporting"
	"github.com/testadapt/testadapt/runner"
	"github.com/testadapt/testadapt/scheduler"
	"github.com/testadapt/testadapt/types"
)

// adapted pairs one runnable's discovery engine with its orchestrator.
type adapted struct {
	cfg    types.RunnableConfig
	engine *discovery.Engine
	orch   *runner.Orchestrator
}

// App is the test adaptation service.
type App struct {
	ctx      context.Context
	config   *Config
	version  string
	registry *registry.Registry
	versions *discovery.Versions
	pool     *scheduler.Pool
	loop     *runLoop
	watcher  *discovery.Watcher

	runnables []adapted

	running atomic.Bool
	failed  atomic.Bool

	mu        sync.Mutex
	summaries map[string]*runner.RunSummary
}

// New builds the service: one discovery engine and one orchestrator per
// configured runnable, all sharing the system-wide process pool.
func New(ctx context.Context, config *Config, version string) (*App, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	config.Log.Debug("Creating service with config",
		"runnableConfig", config.RunnableConfig,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce,
		"concurrency", config.Concurrency)

	reg, err := registry.NewRegistry(registry.Config{
		Log:                config.Log,
		RunnableConfigFile: config.RunnableConfig,
		DefaultRunTimeout:  types.Duration(config.RunTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}

	app := &App{
		ctx:       ctx,
		config:    config,
		version:   version,
		registry:  reg,
		versions:  discovery.NewVersions(),
		pool:      scheduler.NewPool(config.Concurrency),
		summaries: make(map[string]*runner.RunSummary),
	}

	for _, rc := range reg.GetRunnables() {
		if config.TargetRunnable != "" && rc.ID != config.TargetRunnable {
			continue
		}
		if config.Seed != 0 && rc.SeedPolicy == types.SeedPolicyFixed {
			rc.Seed = config.Seed
		}

		adapter, err := framework.New(framework.Kind(rc.Framework))
		if err != nil {
			return nil, fmt.Errorf("runnable %q: %w", rc.ID, err)
		}

		// The engine asks the orchestrator which nodes belong to active
		// runs; the orchestrator is created right after, so the busy check
		// resolves through the pointer.
		var orch *runner.Orchestrator
		engine, err := discovery.New(discovery.Config{
			Log:      config.Log,
			Runnable: rc,
			Adapter:  adapter,
			Versions: app.versions,
			Pool:     app.pool,
			Busy: func(id string) bool {
				return orch != nil && orch.Busy(id)
			},
		})
		if err != nil {
			return nil, fmt.Errorf("runnable %q: %w", rc.ID, err)
		}

		orch, err = runner.New(runner.Config{
			Log:        config.Log,
			Runnable:   rc,
			Adapter:    adapter,
			Source:     engine,
			GlobalPool: app.pool,
			Sink:       app.eventSink(rc.ID),
		})
		if err != nil {
			return nil, fmt.Errorf("runnable %q: %w", rc.ID, err)
		}

		app.runnables = append(app.runnables, adapted{cfg: rc, engine: engine, orch: orch})
	}
	if len(app.runnables) == 0 {
		return nil, fmt.Errorf("no runnable matches %q", config.TargetRunnable)
	}

	config.Log.Info("Service created", "runnables", len(app.runnables))
	return app, nil
}

// eventSink logs streamed events as they arrive.
func (a *App) eventSink(runnableID string) types.EventSink {
	logger := a.config.Log.New("runnable", runnableID)
	return types.EventSinkFunc(func(ev types.RunEvent) {
		switch ev.Kind {
		case types.EventFailed, types.EventErrored, types.EventTimedOut:
			logger.Warn("Test finished", "test", ev.NodeID, "result", ev.Kind, "err", ev.Message)
		case types.EventGroupRunning, types.EventGroupCompleted:
			logger.Debug("Group transition", "group", ev.GroupPath, "kind", ev.Kind)
		default:
			logger.Debug("Test event", "test", ev.NodeID, "kind", ev.Kind, "duration", ev.Duration)
		}
	})
}

// Start discovers all runnables, then runs the selection once or on the
// configured interval.
func (a *App) Start(ctx context.Context) error {
	a.ctx = ctx
	a.running.Store(true)

	if a.config.RunOnce {
		a.config.Log.Info("Starting testadapt in run-once mode", "version", a.version)
	} else {
		a.config.Log.Info("Starting testadapt in continuous mode",
			"version", a.version, "interval", a.config.RunInterval)
	}

	if a.config.Watch {
		watcher, err := discovery.NewWatcher(a.config.Log, a.engines())
		if err != nil {
			return fmt.Errorf("failed to start executable watcher: %w", err)
		}
		a.watcher = watcher
		go watcher.Run(ctx)
	}

	// Initial discovery so the tree exists before the first run.
	for _, r := range a.runnables {
		if err := r.engine.Reload(ctx, false); err != nil {
			a.config.Log.Error("Initial discovery failed", "runnable", r.cfg.ID, "err", err)
		}
	}

	// The first run happens here either way; the loop only adds the ticks.
	if err := a.runAll(); err != nil {
		return err
	}
	if a.config.RunOnce {
		a.running.Store(false)
		if a.failed.Load() {
			return testsFailedError(a.resultLine())
		}
		return nil
	}

	a.loop = newRunLoop(a.config.RunInterval, a.config.Log, a.runAll)
	a.loop.Start(ctx)
	return nil
}

// runAll executes every adapted runnable sequentially; their processes still
// interleave through the shared pool via per-runnable parallelism.
func (a *App) runAll() error {
	for _, r := range a.runnables {
		summary, err := r.orch.Run(a.ctx, a.config.Selection)
		if err != nil {
			a.config.Log.Error("Run finished with task errors", "runnable", r.cfg.ID, "err", err)
		}

		a.mu.Lock()
		a.summaries[r.cfg.ID] = summary
		a.mu.Unlock()
		if err != nil || !summary.Success() {
			a.failed.Store(true)
		}

		reporting.PrintResults(os.Stdout, r.cfg.ID, r.engine.Tree(), summary)
	}
	fmt.Println(a.resultLine())
	return nil
}

func (a *App) resultLine() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	ids := make([]string, 0, len(a.summaries))
	for id := range a.summaries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var total, passed, failed, skipped int
	for _, id := range ids {
		s := a.summaries[id]
		total += s.Total
		passed += s.Passed
		failed += s.Failed + s.Errored + s.TimedOut
		skipped += s.Skipped
	}
	return fmt.Sprintf("%d tests: %d passed, %d failed, %d skipped", total, passed, failed, skipped)
}

// Summaries returns the last run summary per runnable id.
func (a *App) Summaries() map[string]*runner.RunSummary {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]*runner.RunSummary, len(a.summaries))
	for id, s := range a.summaries {
		out[id] = s
	}
	return out
}

func (a *App) engines() []*discovery.Engine {
	engines := make([]*discovery.Engine, len(a.runnables))
	for i, r := range a.runnables {
		engines[i] = r.engine
	}
	return engines
}

// Stop stops the service.
func (a *App) Stop(ctx context.Context) error {
	a.config.Log.Info("Stopping testadapt")

	if !a.running.Load() {
		a.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}
	a.running.Store(false)

	if a.loop != nil {
		a.loop.Stop()
	}

	a.config.Log.Info("testadapt stopped successfully")
	return nil
}

// Stopped returns true if the service is stopped.
func (a *App) Stopped() bool {
	return !a.running.Load()
}

// WaitForShutdown blocks until background goroutines have terminated.
func (a *App) WaitForShutdown(ctx context.Context) error {
	if a.loop == nil {
		return nil
	}
	return a.loop.Wait(ctx)
}
