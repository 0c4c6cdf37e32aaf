package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testadapt/testadapt/framework"
	"github.com/testadapt/testadapt/types"
)

func destinationOf(t *testing.T, cfg types.RunnableConfig, info framework.CaseInfo) []string {
	t.Helper()
	g, err := newGrouper(cfg, DefaultResolver())
	require.NoError(t, err)

	tree := types.NewTree(cfg.ID)
	dest, err := g.destination(tree.Root, info)
	require.NoError(t, err)
	return dest.Path()
}

func TestGroupByExecutable(t *testing.T) {
	cfg := types.RunnableConfig{
		ID:      "unit",
		Path:    "/opt/tests/unit_tests",
		GroupBy: []types.GroupingRule{{Kind: types.GroupByExecutable}},
	}
	path := destinationOf(t, cfg, framework.CaseInfo{ID: "t"})
	assert.Equal(t, []string{"unit_tests"}, path)
}

func TestGroupBySourceWithRemap(t *testing.T) {
	cfg := types.RunnableConfig{
		ID:        "unit",
		Path:      "/opt/tests/unit_tests",
		PathRemap: []types.PathRemapRule{{From: "/build/src", To: "/home/dev/proj"}},
		GroupBy:   []types.GroupingRule{{Kind: types.GroupBySource, Label: "${stem}"}},
	}
	path := destinationOf(t, cfg, framework.CaseInfo{ID: "t", File: "/build/src/math_test.cpp"})
	assert.Equal(t, []string{"math_test"}, path)
}

func TestGroupBySourceUngroupedFallback(t *testing.T) {
	cfg := types.RunnableConfig{
		ID:   "unit",
		Path: "/opt/tests/unit_tests",
		GroupBy: []types.GroupingRule{
			{Kind: types.GroupBySource, UngroupedTo: "no-source"},
		},
	}
	path := destinationOf(t, cfg, framework.CaseInfo{ID: "t"})
	assert.Equal(t, []string{"no-source"}, path)
}

func TestGroupByTags(t *testing.T) {
	cfg := types.RunnableConfig{
		ID:   "unit",
		Path: "/opt/tests/unit_tests",
		GroupBy: []types.GroupingRule{
			{Kind: types.GroupByTags, UngroupedTo: "misc"},
		},
	}

	tagged := destinationOf(t, cfg, framework.CaseInfo{ID: "t", Tags: []string{"math", "fast"}})
	assert.Equal(t, []string{"math"}, tagged)

	untagged := destinationOf(t, cfg, framework.CaseInfo{ID: "u"})
	assert.Equal(t, []string{"misc"}, untagged)
}

func TestGroupByTagsNoFallbackIsNoOp(t *testing.T) {
	cfg := types.RunnableConfig{
		ID:      "unit",
		Path:    "/opt/tests/unit_tests",
		GroupBy: []types.GroupingRule{{Kind: types.GroupByTags}},
	}
	path := destinationOf(t, cfg, framework.CaseInfo{ID: "u"})
	assert.Empty(t, path, "untagged case stays at the root")
}

func TestGroupByRegexCapture(t *testing.T) {
	cfg := types.RunnableConfig{
		ID:   "integration",
		Path: "/opt/tests/integration_tests",
		GroupBy: []types.GroupingRule{
			{Kind: types.GroupByRegex, Pattern: `^(\w+)\.`, UngroupedTo: "other"},
		},
	}

	suite := destinationOf(t, cfg, framework.CaseInfo{ID: "MathTest.Add"})
	assert.Equal(t, []string{"MathTest"}, suite)

	other := destinationOf(t, cfg, framework.CaseInfo{ID: "free standing"})
	assert.Equal(t, []string{"other"}, other)
}

func TestGroupingChainNests(t *testing.T) {
	cfg := types.RunnableConfig{
		ID:   "unit",
		Path: "/opt/tests/unit_tests",
		GroupBy: []types.GroupingRule{
			{Kind: types.GroupByExecutable},
			{Kind: types.GroupByTags, UngroupedTo: "misc"},
		},
	}
	path := destinationOf(t, cfg, framework.CaseInfo{ID: "t", Tags: []string{"math"}})
	assert.Equal(t, []string{"unit_tests", "math"}, path)
}
