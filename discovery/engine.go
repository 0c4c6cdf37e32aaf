// Package discovery enumerates the tests of one executable and reconciles
// them into its test tree. Reloads are coalesced, skipped when the binary is
// unchanged, and never lose nodes that are part of an active run.
package discovery

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/djherbis/times"
	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/testadapt/testadapt/framework"
	"github.com/testadapt/testadapt/metrics"
	"github.com/testadapt/testadapt/scheduler"
	"github.com/testadapt/testadapt/types"
)

const (
	// ErrorNodeID is the reserved identity of the synthetic node that
	// represents an enumeration failure. Real test identities never collide
	// with it because frameworks do not produce names starting with "!".
	ErrorNodeID = "!enumeration-error"

	// DefaultEnumTimeout bounds one list-tests invocation.
	DefaultEnumTimeout = 30 * time.Second
)

// ExecFunc spawns the executable in list-tests mode and returns its captured
// streams. Injectable for tests.
type ExecFunc func(ctx context.Context, cfg types.RunnableConfig, args []string) (stdout, stderr []byte, err error)

// Config configures one discovery engine.
type Config struct {
	Log      log.Logger
	Runnable types.RunnableConfig
	Adapter  framework.Adapter

	// Resolver expands grouping label templates. Defaults to DefaultResolver.
	Resolver Resolver

	// Versions receives the framework version reported by enumeration.
	Versions *Versions

	// Busy reports whether a node is referenced by an active run context and
	// must not be removed yet. Nil means nothing is busy.
	Busy func(id string) bool

	// Pool bounds spawned processes system-wide. Enumeration competes with
	// test execution for the same slots. Nil means unbounded.
	Pool *scheduler.Pool

	EnumTimeout time.Duration

	// Exec overrides how the list-tests process is spawned.
	Exec ExecFunc
}

// Engine owns the test tree of one runnable.
type Engine struct {
	log      log.Logger
	cfg      types.RunnableConfig
	adapter  framework.Adapter
	resolver Resolver
	versions *Versions
	busy     func(id string) bool
	pool     *scheduler.Pool
	timeout  time.Duration
	exec     ExecFunc

	group singleflight.Group

	mu        sync.Mutex
	tree      *types.Tree
	lastMtime time.Time
	stale     bool
	loaded    bool
}

// New creates a discovery engine with an empty tree.
func New(cfg Config) (*Engine, error) {
	if cfg.Adapter == nil {
		return nil, fmt.Errorf("runnable %q: adapter is required", cfg.Runnable.ID)
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.Resolver == nil {
		cfg.Resolver = DefaultResolver()
	}
	if cfg.EnumTimeout <= 0 {
		cfg.EnumTimeout = DefaultEnumTimeout
	}
	if cfg.Exec == nil {
		cfg.Exec = execList
	}
	return &Engine{
		log:      cfg.Log.New("runnable", cfg.Runnable.ID),
		cfg:      cfg.Runnable,
		adapter:  cfg.Adapter,
		resolver: cfg.Resolver,
		versions: cfg.Versions,
		busy:     cfg.Busy,
		pool:     cfg.Pool,
		timeout:  cfg.EnumTimeout,
		exec:     cfg.Exec,
		tree:     types.NewTree(cfg.Runnable.ID),
	}, nil
}

// Tree returns the engine's test tree. The engine is its sole structural
// mutator; callers must not add or remove nodes themselves.
func (e *Engine) Tree() *types.Tree {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tree
}

// Runnable returns the engine's configuration.
func (e *Engine) Runnable() types.RunnableConfig { return e.cfg }

// MarkStale forces the next reload to bypass the modification-time check.
func (e *Engine) MarkStale() {
	e.mu.Lock()
	e.stale = true
	e.mu.Unlock()
}

// Reload re-enumerates the executable and reconciles the tree. At most one
// reload is in flight; concurrent callers share its result. Unchanged
// binaries are skipped unless force is set or the engine was marked stale.
func (e *Engine) Reload(ctx context.Context, force bool) error {
	_, err, _ := e.group.Do("reload", func() (interface{}, error) {
		return nil, e.reload(ctx, force)
	})
	return err
}

func (e *Engine) reload(ctx context.Context, force bool) error {
	ctx, span := otel.Tracer("discovery").Start(ctx, "reload")
	span.SetAttributes(attribute.String("runnable", e.cfg.ID))
	defer span.End()

	started := time.Now()

	mtime, err := exeMtime(e.cfg.Path)
	if err != nil {
		e.synthesizeError(fmt.Sprintf("stat %s: %v", e.cfg.Path, err))
		metrics.RecordReload(e.cfg.ID, "error", time.Since(started))
		return fmt.Errorf("stat %s: %w", e.cfg.Path, err)
	}

	e.mu.Lock()
	skip := e.loaded && !force && !e.stale && mtime.Equal(e.lastMtime)
	e.mu.Unlock()
	if skip {
		e.log.Debug("Skipping reload, executable unchanged", "mtime", mtime)
		metrics.RecordReload(e.cfg.ID, "skipped", time.Since(started))
		return nil
	}

	enum, outcome, err := e.enumerate(ctx)
	if err != nil {
		e.synthesizeError(err.Error())
		metrics.RecordReload(e.cfg.ID, "error", time.Since(started))
		return err
	}
	if e.versions != nil {
		e.versions.Set(e.cfg.ID, enum.Version)
	}

	if err := e.reconcile(enum); err != nil {
		e.synthesizeError(err.Error())
		metrics.RecordReload(e.cfg.ID, "error", time.Since(started))
		return err
	}

	e.mu.Lock()
	e.lastMtime = mtime
	e.stale = false
	e.loaded = true
	count := e.tree.Len()
	e.mu.Unlock()

	e.log.Info("Reload complete", "tests", count, "outcome", outcome, "duration", time.Since(started))
	metrics.RecordReload(e.cfg.ID, outcome, time.Since(started))
	return nil
}

// enumerate produces the case list, preferring the on-disk cache when it is
// newer than the executable.
func (e *Engine) enumerate(ctx context.Context) (framework.Enumeration, string, error) {
	if e.cfg.EnumCache {
		if enum, ok := readCache(e.cfg.Path); ok {
			e.log.Debug("Using enumeration cache", "tests", len(enum.Cases))
			return enum, "cached", nil
		}
	}

	if e.pool != nil {
		release, err := e.pool.Acquire(ctx)
		if err != nil {
			return framework.Enumeration{}, "", fmt.Errorf("waiting for a process slot: %w", err)
		}
		defer release()
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	stdout, stderr, err := e.exec(ctx, e.cfg, e.adapter.ListArgs())
	if err != nil {
		return framework.Enumeration{}, "", fmt.Errorf("enumerating tests: %w", err)
	}
	if len(bytes.TrimSpace(stderr)) > 0 && !e.cfg.IgnoreEnumStderr {
		return framework.Enumeration{}, "", fmt.Errorf("enumeration wrote to stderr: %s",
			strings.TrimSpace(string(stderr)))
	}

	enum, err := e.adapter.ParseEnumeration(stdout)
	if err != nil {
		return framework.Enumeration{}, "", err
	}

	if e.cfg.EnumCache {
		if err := writeCache(e.cfg.Path, enum); err != nil {
			e.log.Warn("Failed to write enumeration cache", "err", err)
		}
	}
	return enum, "loaded", nil
}

// reconcile applies the enumeration to the tree: update matched nodes in
// place, move regrouped ones, create new ones, and remove nodes the
// enumeration no longer reports, unless they are busy.
func (e *Engine) reconcile(enum framework.Enumeration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	grouper, err := newGrouper(e.cfg, e.resolver)
	if err != nil {
		return err
	}

	if stale := e.tree.Lookup(ErrorNodeID); stale != nil {
		e.tree.RemoveLeaf(stale)
	}

	seen := make(map[string]bool, len(enum.Cases))
	for _, info := range enum.Cases {
		if seen[info.ID] {
			e.log.Warn("Duplicate test identity in enumeration", "id", info.ID)
			continue
		}
		seen[info.ID] = true

		dest, err := grouper.destination(e.tree.Root, info)
		if err != nil {
			return err
		}

		node := e.tree.Lookup(info.ID)
		if node == nil {
			node = types.NewTestNode(info.ID, info.Label)
			e.applyMetadata(node, info)
			if err := e.tree.AddLeaf(dest, node); err != nil {
				return err
			}
			continue
		}
		e.applyMetadata(node, info)
		if node.Parent() != dest {
			e.tree.MoveLeaf(node, dest)
		}
	}

	for _, node := range e.tree.Collect(func(n *types.TestNode) bool { return !seen[n.ID] }) {
		if e.busy != nil && e.busy(node.ID) {
			e.log.Debug("Keeping vanished node, still in use", "id", node.ID)
			continue
		}
		e.tree.RemoveLeaf(node)
	}
	return nil
}

func (e *Engine) applyMetadata(node *types.TestNode, info framework.CaseInfo) {
	node.Label = info.Label
	node.File = e.cfg.RemapSource(info.File)
	node.Line = info.Line
	node.Skipped = info.Skipped
	node.Tags = info.Tags
}

// synthesizeError replaces nothing: the existing tree stays intact and a
// single reserved error node carries the failure description.
func (e *Engine) synthesizeError(message string) {
	e.log.Error("Enumeration failed", "err", message)

	e.mu.Lock()
	defer e.mu.Unlock()

	node := e.tree.Lookup(ErrorNodeID)
	if node == nil {
		node = types.NewTestNode(ErrorNodeID, "enumeration failed")
		if err := e.tree.AddLeaf(e.tree.Root, node); err != nil {
			return
		}
	}
	node.State = types.StateErrored
	node.Tags = []string{message}
}

func exeMtime(path string) (time.Time, error) {
	info, err := times.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// execList is the default list-tests spawner.
func execList(ctx context.Context, cfg types.RunnableConfig, args []string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, cfg.Path, args...)
	cmd.Dir = cfg.WorkDir
	if len(cfg.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, nil, fmt.Errorf("list-tests timed out after deadline: %w", ctx.Err())
	}
	if err != nil {
		return stdout.Bytes(), stderr.Bytes(), fmt.Errorf("list-tests process: %w", err)
	}
	return stdout.Bytes(), stderr.Bytes(), nil
}
