package reporting

import (
	"bytes"
	"testing"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testadapt/testadapt/runner"
	"github.com/testadapt/testadapt/types"
)

func TestPrintResults(t *testing.T) {
	tree := types.NewTree("unit")
	math := tree.Root.GetOrCreateGroup("MathTest", "", "")

	add := types.NewTestNode("MathTest.Add", "Add")
	add.State = types.StatePassed
	add.Duration = 1500 * time.Millisecond
	require.NoError(t, tree.AddLeaf(math, add))

	sub := types.NewTestNode("MathTest.Sub", "Sub")
	sub.State = types.StateFailed
	require.NoError(t, tree.AddLeaf(math, sub))

	summary := &runner.RunSummary{
		RunID:    "run-1",
		Total:    2,
		Passed:   1,
		Failed:   1,
		Duration: 2 * time.Second,
	}

	var buf bytes.Buffer
	PrintResults(&buf, "unit", tree, summary)
	out := stripansi.Strip(buf.String())

	assert.Contains(t, out, "Test Results: unit (2.0s)")
	assert.Contains(t, out, "MathTest")
	assert.Contains(t, out, "Add")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "pass")
	assert.Contains(t, out, "fail")
}

func TestCollectStats(t *testing.T) {
	tree := types.NewTree("unit")
	g := tree.Root.GetOrCreateGroup("suite", "", "")
	inner := g.GetOrCreateGroup("inner", "", "")

	for id, state := range map[string]types.RunState{
		"a": types.StatePassed,
		"b": types.StateFailed,
		"c": types.StateTimedOut,
		"d": types.StateSkipped,
	} {
		n := types.NewTestNode(id, id)
		n.State = state
		require.NoError(t, tree.AddLeaf(inner, n))
	}

	stats := collectStats(tree.Root)
	assert.Equal(t, 1, stats.Passed)
	assert.Equal(t, 2, stats.Failed, "errored and timed out count as failures")
	assert.Equal(t, 1, stats.Skipped)
}
