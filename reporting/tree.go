// Package reporting renders test trees and run summaries to the console.
package reporting

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/testadapt/testadapt/runner"
	"github.com/testadapt/testadapt/types"
)

// groupStats aggregates leaf outcomes below one group.
type groupStats struct {
	Passed  int
	Failed  int
	Skipped int
}

func collectStats(g *types.Group) groupStats {
	var stats groupStats
	for _, sub := range g.Subgroups {
		s := collectStats(sub)
		stats.Passed += s.Passed
		stats.Failed += s.Failed
		stats.Skipped += s.Skipped
	}
	for _, leaf := range g.Leaves {
		switch leaf.State {
		case types.StatePassed:
			stats.Passed++
		case types.StateFailed, types.StateErrored, types.StateTimedOut:
			stats.Failed++
		case types.StateSkipped:
			stats.Skipped++
		}
	}
	return stats
}

// PrintResults renders one runnable's tree and summary as a table.
func PrintResults(w io.Writer, runnableID string, tree *types.Tree, summary *runner.RunSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("Test Results: %s (%s)", runnableID, formatDuration(summary.Duration)))

	t.AppendHeader(table.Row{
		"Type", "ID", "Duration", "Passed", "Failed", "Skipped", "Status",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Type", AutoMerge: true},
		{Name: "ID", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Skipped", Align: text.AlignRight},
	})

	appendGroup(t, tree.Root, "")
	t.AppendFooter(table.Row{
		"", "Total", formatDuration(summary.Duration),
		summary.Passed,
		summary.Failed + summary.Errored + summary.TimedOut,
		summary.Skipped,
		overallStatus(summary),
	})
	t.Render()
}

func appendGroup(t table.Writer, g *types.Group, indent string) {
	for i, sub := range g.Subgroups {
		prefix := "├── "
		childIndent := indent + "│   "
		if i == len(g.Subgroups)-1 && len(g.Leaves) == 0 {
			prefix = "└── "
			childIndent = indent + "    "
		}
		stats := collectStats(sub)
		t.AppendRow(table.Row{
			"Group",
			indent + prefix + sub.Label,
			"",
			stats.Passed,
			stats.Failed,
			stats.Skipped,
			groupStatus(stats),
		})
		appendGroup(t, sub, childIndent)
	}
	for i, leaf := range g.Leaves {
		prefix := "├── "
		if i == len(g.Leaves)-1 {
			prefix = "└── "
		}
		t.AppendRow(table.Row{
			"Test",
			indent + prefix + leaf.Label,
			formatDuration(leaf.Duration),
			boolToInt(leaf.State == types.StatePassed),
			boolToInt(leaf.State.Failure()),
			boolToInt(leaf.State == types.StateSkipped),
			statusString(leaf.State),
		})
	}
}

func statusString(state types.RunState) string {
	switch state {
	case types.StatePassed:
		return text.FgGreen.Sprint("pass")
	case types.StateFailed:
		return text.FgRed.Sprint("fail")
	case types.StateErrored:
		return text.FgHiRed.Sprint("error")
	case types.StateTimedOut:
		return text.FgRed.Sprint("timeout")
	case types.StateSkipped:
		return text.FgYellow.Sprint("skip")
	case types.StateCancelled:
		return text.FgYellow.Sprint("cancelled")
	case types.StateRunning:
		return "running"
	default:
		return "-"
	}
}

func groupStatus(stats groupStats) string {
	switch {
	case stats.Failed > 0:
		return text.FgRed.Sprint("fail")
	case stats.Passed > 0:
		return text.FgGreen.Sprint("pass")
	case stats.Skipped > 0:
		return text.FgYellow.Sprint("skip")
	default:
		return "-"
	}
}

func overallStatus(summary *runner.RunSummary) string {
	if summary.Success() {
		return text.FgGreen.Sprint("pass")
	}
	return text.FgRed.Sprint("fail")
}

// formatDuration formats a duration to seconds with 1 decimal place.
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// boolToInt converts a bool to an int.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
