package runner

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testadapt/testadapt/framework"
	"github.com/testadapt/testadapt/types"
)

type eventRecorder struct {
	events []types.RunEvent
}

func (r *eventRecorder) Emit(ev types.RunEvent) {
	r.events = append(r.events, ev)
}

func (r *eventRecorder) kinds() []types.EventKind {
	kinds := make([]types.EventKind, len(r.events))
	for i, ev := range r.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func flatTree(t *testing.T, ids ...string) map[string]*types.TestNode {
	t.Helper()
	tree := types.NewTree("unit")
	nodes := make(map[string]*types.TestNode, len(ids))
	for _, id := range ids {
		n := types.NewTestNode(id, id)
		require.NoError(t, tree.AddLeaf(tree.Root, n))
		nodes[id] = n
	}
	return nodes
}

func newGTestParser(t *testing.T, sink types.EventSink, ids ...string) (*Parser, map[string]*types.TestNode) {
	t.Helper()
	nodes := flatTree(t, ids...)
	return NewParser(ParserConfig{
		Log:     log.New(),
		Adapter: framework.NewGTest(),
		Nodes:   nodes,
		Sink:    sink,
	}), nodes
}

func TestParserSingleTest(t *testing.T) {
	rec := &eventRecorder{}
	parser, nodes := newGTestParser(t, rec, "MathTest.Add")

	parser.Feed([]byte("[ RUN      ] MathTest.Add\n[       OK ] MathTest.Add (3 ms)\n"))
	parser.Finish(FinishClean, "")

	assert.Equal(t, []types.EventKind{types.EventStarted, types.EventPassed}, rec.kinds())
	assert.Equal(t, types.StatePassed, nodes["MathTest.Add"].State)
	assert.Equal(t, 3*time.Millisecond, nodes["MathTest.Add"].Duration)
}

func TestParserEndMarkerSplitAcrossChunks(t *testing.T) {
	rec := &eventRecorder{}
	parser, nodes := newGTestParser(t, rec, "MathTest.Add")

	parser.Feed([]byte("[ RUN      ] MathTest.Add\nsome output\n[       OK ] MathTest.Add (3 m"))
	assert.Equal(t, []types.EventKind{types.EventStarted}, rec.kinds(),
		"parser must suspend on the split end marker")
	assert.Equal(t, types.StateRunning, nodes["MathTest.Add"].State)

	parser.Feed([]byte("s)\nnoise"))
	assert.Equal(t, []types.EventKind{types.EventStarted, types.EventPassed}, rec.kinds(),
		"exactly one finished event once the marker completes")
}

func TestParserBeginMarkerSplitAcrossChunks(t *testing.T) {
	rec := &eventRecorder{}
	parser, _ := newGTestParser(t, rec, "MathTest.Add")

	parser.Feed([]byte("[ RUN      ] MathT"))
	assert.Empty(t, rec.events)

	parser.Feed([]byte("est.Add\n[  FAILED  ] MathTest.Add (1 ms)\n"))
	assert.Equal(t, []types.EventKind{types.EventStarted, types.EventFailed}, rec.kinds())
}

func TestParserSelfTerminatingSkip(t *testing.T) {
	rec := &eventRecorder{}
	nodes := flatTree(t, "hidden one")
	parser := NewParser(ParserConfig{
		Log:     log.New(),
		Adapter: framework.NewCatch2(),
		Nodes:   nodes,
		Sink:    rec,
	})

	parser.Feed([]byte(`<TestCase name="hidden one"/>`))

	assert.Equal(t, []types.EventKind{types.EventSkipped}, rec.kinds(),
		"skipped marker emits no started event")
	assert.Equal(t, types.StateSkipped, nodes["hidden one"].State)
}

func TestParserUnmatchedIdentityBecomesOrphan(t *testing.T) {
	rec := &eventRecorder{}
	parser, nodes := newGTestParser(t, rec, "MathTest.Add")

	parser.Feed([]byte("[ RUN      ] Unknown.Test\n[       OK ] Unknown.Test (1 ms)\n" +
		"[ RUN      ] MathTest.Add\n[       OK ] MathTest.Add (2 ms)\n"))

	assert.Equal(t, []types.EventKind{types.EventStarted, types.EventPassed}, rec.kinds(),
		"unmatched case emits nothing but parsing continues")
	assert.Equal(t, types.StatePassed, nodes["MathTest.Add"].State)

	orphans := parser.Orphans()
	require.Len(t, orphans, 1)
	assert.Equal(t, "Unknown.Test", orphans[0].Result.ID)
	assert.Equal(t, types.StatePassed, orphans[0].Result.Status)
}

func TestParserGroupTransitions(t *testing.T) {
	tree := types.NewTree("unit")
	math := tree.Root.GetOrCreateGroup("MathTest", "", "")
	vec := tree.Root.GetOrCreateGroup("VecTest", "", "")

	add := types.NewTestNode("MathTest.Add", "Add")
	sub := types.NewTestNode("MathTest.Sub", "Sub")
	resize := types.NewTestNode("VecTest.Resize", "Resize")
	require.NoError(t, tree.AddLeaf(math, add))
	require.NoError(t, tree.AddLeaf(math, sub))
	require.NoError(t, tree.AddLeaf(vec, resize))

	rec := &eventRecorder{}
	parser := NewParser(ParserConfig{
		Log:     log.New(),
		Adapter: framework.NewGTest(),
		Nodes: map[string]*types.TestNode{
			add.ID: add, sub.ID: sub, resize.ID: resize,
		},
		Sink: rec,
	})

	parser.Feed([]byte("[ RUN      ] MathTest.Add\n[       OK ] MathTest.Add (1 ms)\n" +
		"[ RUN      ] MathTest.Sub\n[       OK ] MathTest.Sub (1 ms)\n" +
		"[ RUN      ] VecTest.Resize\n[       OK ] VecTest.Resize (1 ms)\n"))
	parser.Finish(FinishClean, "")

	assert.Equal(t, []types.EventKind{
		types.EventGroupRunning, // MathTest opens
		types.EventStarted, types.EventPassed,
		types.EventStarted, types.EventPassed, // same group, no transition
		types.EventGroupCompleted, // MathTest closes
		types.EventGroupRunning,   // VecTest opens
		types.EventStarted, types.EventPassed,
		types.EventGroupCompleted, // VecTest closes on Finish
	}, rec.kinds())

	assert.Equal(t, []string{"MathTest"}, rec.events[0].GroupPath)
	assert.Equal(t, []string{"VecTest"}, rec.events[6].GroupPath)
}

func TestParserFinishTimeoutMidTest(t *testing.T) {
	rec := &eventRecorder{}
	parser, nodes := newGTestParser(t, rec, "Suite.A")

	parser.Feed([]byte("[ RUN      ] Suite.A\npartial output"))
	parser.Finish(FinishTimeout, "run exceeded its 5s budget")

	assert.Equal(t, []types.EventKind{types.EventStarted, types.EventTimedOut}, rec.kinds(),
		"exactly one timeout event, no pass/fail")
	assert.Equal(t, types.StateTimedOut, nodes["Suite.A"].State)
}

func TestParserFinishCausesForOpenTest(t *testing.T) {
	tests := []struct {
		cause FinishCause
		want  types.EventKind
	}{
		{FinishClean, types.EventErrored},
		{FinishCrashed, types.EventErrored},
		{FinishCancelled, types.EventCancelled},
	}
	for _, tt := range tests {
		rec := &eventRecorder{}
		parser, _ := newGTestParser(t, rec, "Suite.A")
		parser.Feed([]byte("[ RUN      ] Suite.A\n"))
		parser.Finish(tt.cause, "")
		require.Len(t, rec.events, 2)
		assert.Equal(t, tt.want, rec.events[1].Kind)
	}
}

func TestParserFinishIdleIsQuiet(t *testing.T) {
	rec := &eventRecorder{}
	parser, _ := newGTestParser(t, rec, "Suite.A")

	parser.Feed([]byte("no markers at all\n"))
	parser.Finish(FinishClean, "")
	assert.Empty(t, rec.events)
}

// stuckAdapter reports a zero-width self-terminating match forever, which is
// the pathological no-progress shape the iteration guard exists for.
type stuckAdapter struct {
	framework.Adapter
}

func (s *stuckAdapter) ScanBegin([]byte) (framework.BeginMatch, bool) {
	return framework.BeginMatch{ID: "loop", SelfTerminating: true}, true
}

func TestParserStallGuard(t *testing.T) {
	stalls := 0
	parser := NewParser(ParserConfig{
		Log:     log.New(),
		Adapter: &stuckAdapter{Adapter: framework.NewGTest()},
		Nodes:   map[string]*types.TestNode{},
		Sink:    &eventRecorder{},
		OnStall: func() { stalls++ },
	})

	parser.Feed([]byte("anything"))
	assert.Equal(t, 1, stalls)

	// A stalled parser ignores further input instead of looping again.
	parser.Feed([]byte("more"))
	assert.Equal(t, 1, stalls)
}
