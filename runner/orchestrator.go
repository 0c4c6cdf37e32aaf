// Package runner executes selections of tests against their native
// executables and streams per-test results back while processes run.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/testadapt/testadapt/discovery"
	"github.com/testadapt/testadapt/framework"
	"github.com/testadapt/testadapt/metrics"
	"github.com/testadapt/testadapt/proc"
	"github.com/testadapt/testadapt/scheduler"
	"github.com/testadapt/testadapt/types"
)

// DiscoverySource is the slice of the discovery engine the orchestrator
// needs: a forced reload before each run and access to the current tree.
type DiscoverySource interface {
	Reload(ctx context.Context, force bool) error
	Tree() *types.Tree
}

// SpawnFunc spawns one test process. Injectable for tests.
type SpawnFunc func(logger log.Logger, spec proc.Spec) (*proc.Handle, error)

// Config configures one orchestrator.
type Config struct {
	Log      log.Logger
	Runnable types.RunnableConfig
	Adapter  framework.Adapter
	Source   DiscoverySource

	// GlobalPool bounds concurrently spawned processes system-wide. The
	// per-runnable pool is derived from the runnable's own parallelism.
	GlobalPool *scheduler.Pool

	Sink  types.EventSink
	Tasks TaskRunner
	Spawn SpawnFunc

	// BatchIdentityBudget overrides the default cumulative identity bound.
	BatchIdentityBudget int
}

// Orchestrator owns run execution for one runnable.
type Orchestrator struct {
	log        log.Logger
	cfg        types.RunnableConfig
	adapter    framework.Adapter
	source     DiscoverySource
	global     *scheduler.Pool
	local      *scheduler.Pool
	sink       types.EventSink
	tasks      TaskRunner
	spawn      SpawnFunc
	budget     int
	escalation time.Duration

	busyMu sync.Mutex
	busy   map[string]int
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Adapter == nil {
		return nil, fmt.Errorf("runnable %q: adapter is required", cfg.Runnable.ID)
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("runnable %q: discovery source is required", cfg.Runnable.ID)
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.GlobalPool == nil {
		cfg.GlobalPool = scheduler.NewPool(cfg.Runnable.Parallel)
	}
	if cfg.Sink == nil {
		cfg.Sink = types.EventSinkFunc(func(types.RunEvent) {})
	}
	if cfg.Tasks == nil {
		cfg.Tasks = &ExecTaskRunner{
			Log: cfg.Log,
			Dir: cfg.Runnable.WorkDir,
			Env: cfg.Runnable.Env,
		}
	}
	if cfg.Spawn == nil {
		cfg.Spawn = proc.Spawn
	}
	if cfg.BatchIdentityBudget <= 0 {
		cfg.BatchIdentityBudget = maxBatchIdentityChars
	}
	return &Orchestrator{
		log:        cfg.Log.New("runnable", cfg.Runnable.ID),
		cfg:        cfg.Runnable,
		adapter:    cfg.Adapter,
		source:     cfg.Source,
		global:     cfg.GlobalPool,
		local:      scheduler.NewPool(cfg.Runnable.Parallel),
		sink:       cfg.Sink,
		tasks:      cfg.Tasks,
		spawn:      cfg.Spawn,
		budget:     cfg.BatchIdentityBudget,
		escalation: proc.DefaultKillEscalation,
		busy:       make(map[string]int),
	}, nil
}

// Busy reports whether a node is part of an active run context. Discovery
// must not remove busy nodes.
func (o *Orchestrator) Busy(id string) bool {
	o.busyMu.Lock()
	defer o.busyMu.Unlock()
	return o.busy[id] > 0
}

func (o *Orchestrator) markBusy(nodes []*types.TestNode) {
	o.busyMu.Lock()
	defer o.busyMu.Unlock()
	for _, n := range nodes {
		o.busy[n.ID]++
	}
}

func (o *Orchestrator) unmarkBusy(nodes []*types.TestNode) {
	o.busyMu.Lock()
	defer o.busyMu.Unlock()
	for _, n := range nodes {
		if o.busy[n.ID] <= 1 {
			delete(o.busy, n.ID)
		} else {
			o.busy[n.ID]--
		}
	}
}

// RunSummary aggregates the terminal events of one run.
type RunSummary struct {
	RunID     string
	Total     int
	Passed    int
	Failed    int
	Errored   int
	Skipped   int
	TimedOut  int
	Cancelled int
	Duration  time.Duration
}

// Success reports whether no test counted against the run.
func (s *RunSummary) Success() bool {
	return s.Failed == 0 && s.Errored == 0 && s.TimedOut == 0
}

// Run executes the selection. An empty selection means every test of the
// runnable. The returned summary is complete even when err is non-nil.
func (o *Orchestrator) Run(ctx context.Context, selection []string) (*RunSummary, error) {
	runID := uuid.New().String()
	started := time.Now()

	ctx, span := otel.Tracer("runner").Start(ctx, "run")
	span.SetAttributes(
		attribute.String("runnable", o.cfg.ID),
		attribute.String("run_id", runID),
	)
	defer span.End()

	o.log.Info("Starting run", "run_id", runID, "selection", len(selection))
	counter := newCountingSink(o.cfg.ID, runID, o.sink)

	if err := o.runTasks(ctx, o.cfg.Tasks.BeforeRun); err != nil {
		o.log.Error("Before-run task failed, aborting run", "err", err)
		metrics.RecordErrorDetails("before_run_task", err)
		o.failAll(counter, o.resolve(selection), fmt.Sprintf("before-run task failed: %v", err))
		return o.finish(counter, runID, started), err
	}

	// The binary may have changed since the last reload; run against the
	// freshest tree available. A failed reload leaves the previous tree in
	// place, so the run proceeds on it.
	if err := o.source.Reload(ctx, true); err != nil {
		o.log.Warn("Pre-run reload failed, running against previous tree", "err", err)
	}

	requested := o.resolve(selection)
	if len(requested) == 0 {
		o.log.Warn("Selection matched no tests", "selection", selection)
		return o.finish(counter, runID, started), nil
	}

	o.markBusy(requested)
	defer o.unmarkBusy(requested)

	var runnable []*types.TestNode
	for _, node := range requested {
		if node.Skipped {
			node.State = types.StateSkipped
			counter.Emit(types.RunEvent{Kind: types.EventSkipped, NodeID: node.ID})
			continue
		}
		runnable = append(runnable, node)
	}

	var batches [][]*types.TestNode
	for _, bucket := range roundRobinPartition(runnable, o.cfg.Parallel) {
		batches = append(batches, splitByIdentityBudget(bucket, o.budget)...)
	}

	var wg sync.WaitGroup
	var orphanMu sync.Mutex
	var orphans []Orphan
	var staleSuspected bool
	for _, batch := range batches {
		wg.Add(1)
		go func(batch []*types.TestNode) {
			defer wg.Done()

			releaseLocal, err := o.local.Acquire(ctx)
			if err != nil {
				o.cancelBatch(counter, batch)
				return
			}
			defer releaseLocal()

			releaseGlobal, err := o.global.Acquire(ctx)
			if err != nil {
				o.cancelBatch(counter, batch)
				return
			}
			defer releaseGlobal()

			got, stale := o.runBatch(ctx, batch, counter)
			orphanMu.Lock()
			orphans = append(orphans, got...)
			staleSuspected = staleSuspected || stale
			orphanMu.Unlock()
		}(batch)
	}
	wg.Wait()

	// A clean exit that completed fewer tests than requested means the tree
	// no longer matches the binary; re-discover even with no orphans to replay.
	if len(orphans) > 0 || staleSuspected {
		o.reconcileOrphans(ctx, orphans, counter)
	}

	var taskErr error
	if err := o.runTasks(ctx, o.cfg.Tasks.AfterRun); err != nil {
		o.log.Error("After-run task failed", "err", err)
		metrics.RecordErrorDetails("after_run_task", err)
		// Tests that already produced a result this run keep it; only the
		// unresolved remainder gets the synthetic error.
		var unresolved []*types.TestNode
		for _, node := range requested {
			if !counter.hasResult(node.ID) {
				unresolved = append(unresolved, node)
			}
		}
		o.failAll(counter, unresolved, fmt.Sprintf("after-run task failed: %v", err))
		taskErr = err
	}

	return o.finish(counter, runID, started), taskErr
}

func (o *Orchestrator) finish(counter *countingSink, runID string, started time.Time) *RunSummary {
	summary := counter.summary(runID, time.Since(started))
	result := "pass"
	if !summary.Success() {
		result = "fail"
	}
	metrics.RecordRun(o.cfg.ID, runID, result,
		summary.Total, summary.Passed, summary.Failed, summary.Duration)
	o.log.Info("Run complete",
		"run_id", runID,
		"total", summary.Total,
		"passed", summary.Passed,
		"failed", summary.Failed,
		"errored", summary.Errored,
		"skipped", summary.Skipped,
		"duration", summary.Duration)
	return summary
}

// resolve maps the selection onto current tree nodes. The reserved
// enumeration error node is never runnable.
func (o *Orchestrator) resolve(selection []string) []*types.TestNode {
	tree := o.source.Tree()
	if len(selection) == 0 {
		return tree.Collect(func(n *types.TestNode) bool {
			return n.ID != discovery.ErrorNodeID
		})
	}
	var nodes []*types.TestNode
	for _, id := range selection {
		if node := tree.Lookup(id); node != nil && node.ID != discovery.ErrorNodeID {
			nodes = append(nodes, node)
		} else {
			o.log.Warn("Selected test not in tree", "id", id)
		}
	}
	return nodes
}

func (o *Orchestrator) runTasks(ctx context.Context, commands []string) error {
	for _, command := range commands {
		if err := o.tasks.Run(ctx, command); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) failAll(sink types.EventSink, nodes []*types.TestNode, message string) {
	for _, node := range nodes {
		node.State = types.StateErrored
		sink.Emit(types.RunEvent{Kind: types.EventErrored, NodeID: node.ID, Message: message})
	}
}

func (o *Orchestrator) cancelBatch(sink types.EventSink, nodes []*types.TestNode) {
	for _, node := range nodes {
		node.State = types.StateCancelled
		sink.Emit(types.RunEvent{Kind: types.EventCancelled, NodeID: node.ID})
	}
}

// streamDrainGrace bounds how long the output streams may keep delivering
// data after the process exits. EOF normally arrives immediately; a
// grandchild that inherited the write end can hold the pipe open.
const streamDrainGrace = 5 * time.Second

// runBatch spawns one process for the batch and parses its output until it
// exits, the run budget expires, or the surrounding context is cancelled.
// Returned orphans are results for identities outside the batch's node set;
// stale reports a clean exit that left requested tests unresolved.
func (o *Orchestrator) runBatch(ctx context.Context, batch []*types.TestNode, sink types.EventSink) (orphans []Orphan, stale bool) {
	if err := o.runTasks(ctx, o.cfg.Tasks.BeforeBatch); err != nil {
		o.log.Error("Before-batch task failed", "err", err)
		o.failAll(sink, batch, fmt.Sprintf("before-batch task failed: %v", err))
		return nil, false
	}
	defer func() {
		if err := o.runTasks(context.WithoutCancel(ctx), o.cfg.Tasks.AfterBatch); err != nil {
			o.log.Error("After-batch task failed", "err", err)
			metrics.RecordErrorDetails("after_batch_task", err)
		}
	}()

	runCtx := ctx
	cancel := context.CancelFunc(func() {})
	if o.cfg.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, o.cfg.RunTimeout.Std())
	}
	defer cancel()

	opts := framework.RunOptions{NoColor: true}
	switch o.cfg.SeedPolicy {
	case types.SeedPolicyFixed:
		opts.Shuffle = true
		opts.Seed = o.cfg.Seed
	case types.SeedPolicyRandom:
		opts.Shuffle = true
		opts.Seed = rand.Int63()
	}

	handle, err := o.spawn(o.log, proc.Spec{
		Path: o.cfg.Path,
		Args: o.adapter.RunArgs(identities(batch), opts),
		Dir:  o.cfg.WorkDir,
		Env:  envList(o.cfg.Env),
		Nice: o.cfg.Nice,
	})
	if err != nil {
		o.log.Error("Failed to spawn test process", "err", err)
		metrics.RecordErrorDetails("spawn", err)
		o.failAll(sink, batch, fmt.Sprintf("failed to spawn process: %v", err))
		return nil, false
	}
	defer handle.Close()

	nodesByID := make(map[string]*types.TestNode, len(batch))
	for _, node := range batch {
		nodesByID[node.ID] = node
	}
	parser := NewParser(ParserConfig{
		Log:     o.log,
		Adapter: o.adapter,
		Nodes:   nodesByID,
		Sink:    sink,
		OnStall: func() { handle.Kill(o.escalation) },
	})

	// Kill on budget expiry or cancellation; unblock the read loops. After a
	// normal exit the pipes deliver their buffered data and then EOF, so the
	// reads are only cut loose once drained, or after the grace period when a
	// grandchild inherited the write end and holds it open.
	readsDone := make(chan struct{})
	go func() {
		select {
		case <-runCtx.Done():
			handle.Kill(o.escalation)
			handle.CancelReads()
		case <-handle.Done():
			select {
			case <-readsDone:
			case <-time.After(streamDrainGrace):
				handle.CancelReads()
			}
		}
	}()

	tail := newTailBuffer(0)
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		drain(handle.Stderr(), tail)
	}()

	buf := make([]byte, 32*1024)
	for {
		n, readErr := handle.Stdout().Read(buf)
		if n > 0 {
			_, _ = tail.Write(buf[:n])
			parser.Feed(buf[:n])
		}
		if readErr != nil {
			break
		}
	}
	<-stderrDone
	close(readsDone)
	<-handle.Done()
	cancel()

	exit := handle.Exit()
	cause := FinishClean
	detail := ""
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		cause = FinishTimeout
		detail = fmt.Sprintf("run exceeded its %s budget", o.cfg.RunTimeout.Std())
	case ctx.Err() != nil:
		cause = FinishCancelled
	case exit.Signalled() || exit.Err != nil:
		cause = FinishCrashed
		detail = crashDetail(exit, tail, o.cfg.SuppressOutput)
	}
	parser.Finish(cause, detail)

	// A process can exit without ever reaching some of its batch.
	for _, node := range batch {
		if node.State.Terminal() {
			continue
		}
		if cause == FinishClean {
			stale = true
		}
		switch cause {
		case FinishTimeout, FinishCancelled:
			node.State = types.StateCancelled
			sink.Emit(types.RunEvent{Kind: types.EventCancelled, NodeID: node.ID})
		default:
			node.State = types.StateErrored
			sink.Emit(types.RunEvent{
				Kind:    types.EventErrored,
				NodeID:  node.ID,
				Message: "process exited before running this test",
			})
		}
	}
	return parser.Orphans(), stale
}

// reconcileOrphans forces one re-discovery and replays buffered orphan
// results against the refreshed tree. Results that still match nothing are
// dropped with a log line; there is no second replay.
func (o *Orchestrator) reconcileOrphans(ctx context.Context, orphans []Orphan, sink types.EventSink) {
	o.log.Info("Reconciling orphan results after forced re-discovery", "orphans", len(orphans))
	if err := o.source.Reload(ctx, true); err != nil {
		o.log.Warn("Forced re-discovery for orphans failed", "err", err)
	}
	tree := o.source.Tree()
	for _, orphan := range orphans {
		node := tree.Lookup(orphan.Result.ID)
		if node == nil {
			o.log.Warn("Dropping orphan result, identity unknown after re-discovery",
				"id", orphan.Result.ID)
			continue
		}
		node.State = orphan.Result.Status
		node.Duration = orphan.Result.Duration
		sink.Emit(types.RunEvent{
			Kind:     eventKindFor(orphan.Result.Status),
			NodeID:   node.ID,
			Message:  orphan.Result.Message,
			Duration: orphan.Result.Duration,
		})
	}
}

func crashDetail(exit proc.ExitStatus, tail *tailBuffer, suppressOutput bool) string {
	var reason string
	if exit.Signalled() {
		reason = fmt.Sprintf("process killed by %s", exit.Signal)
	} else {
		reason = fmt.Sprintf("process failed: %v", exit.Err)
	}
	if suppressOutput {
		return reason
	}
	snippet := tail.Bytes()
	const snippetMax = 2048
	if len(snippet) > snippetMax {
		snippet = snippet[len(snippet)-snippetMax:]
	}
	if len(snippet) > 0 {
		return fmt.Sprintf("%s\nlast output:\n%s", reason, snippet)
	}
	return reason
}

func drain(r io.Reader, tail *tailBuffer) {
	buf := make([]byte, 8*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			_, _ = tail.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// countingSink serializes emission to the wrapped sink and tallies terminal
// events for the run summary. Only a node's first terminal event counts, so
// a late duplicate can never inflate the totals.
type countingSink struct {
	runnableID string
	runID      string
	inner      types.EventSink

	mu       sync.Mutex
	counts   map[types.EventKind]int
	resolved map[string]bool
}

func newCountingSink(runnableID, runID string, inner types.EventSink) *countingSink {
	return &countingSink{
		runnableID: runnableID,
		runID:      runID,
		inner:      inner,
		counts:     make(map[types.EventKind]int),
		resolved:   make(map[string]bool),
	}
}

func (c *countingSink) Emit(ev types.RunEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state := ev.Kind.State(); state.Terminal() && !c.resolved[ev.NodeID] {
		c.resolved[ev.NodeID] = true
		c.counts[ev.Kind]++
		metrics.RecordTestResult(c.runnableID, c.runID, state)
	}
	c.inner.Emit(ev)
}

// hasResult reports whether the node already reached a terminal event in
// this run.
func (c *countingSink) hasResult(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolved[id]
}

func (c *countingSink) summary(runID string, duration time.Duration) *RunSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &RunSummary{
		RunID:     runID,
		Passed:    c.counts[types.EventPassed],
		Failed:    c.counts[types.EventFailed],
		Errored:   c.counts[types.EventErrored],
		Skipped:   c.counts[types.EventSkipped],
		TimedOut:  c.counts[types.EventTimedOut],
		Cancelled: c.counts[types.EventCancelled],
		Duration:  duration,
	}
	s.Total = s.Passed + s.Failed + s.Errored + s.Skipped + s.TimedOut + s.Cancelled
	return s
}
