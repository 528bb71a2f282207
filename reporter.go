package gridrunner

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/webgrid-labs/gridrunner/runner"
	"github.com/webgrid-labs/gridrunner/types"
)

// printResultsTable prints the results of a run to the console.
func printResultsTable(result *runner.RunResult) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	title := fmt.Sprintf("Browser Test Results (%s)", formatDuration(result.Duration))
	if result.Cancelled {
		title += " (cancelled)"
	}
	t.SetTitle(title)

	t.AppendHeader(table.Row{
		"Type", "ID", "Duration", "Tests", "Passed", "Failed", "Status", "Error",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "ID", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Tests", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Error", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	browserIDs := make([]string, 0, len(result.Browsers))
	for id := range result.Browsers {
		browserIDs = append(browserIDs, id)
	}
	sort.Strings(browserIDs)

	for _, browserID := range browserIDs {
		br := result.Browsers[browserID]
		t.AppendRow(table.Row{
			"Browser",
			browserID,
			"",
			br.Stats.Total,
			br.Stats.Passed,
			br.Stats.Failed,
			getResultString(br.Status),
			"",
		})

		for i, tr := range br.Tests {
			prefix := "├──"
			if i == len(br.Tests)-1 {
				prefix = "└──"
			}
			errorMsg := ""
			if tr.Error != nil {
				errorMsg = firstLine(tr.Error.Error())
			}
			t.AppendRow(table.Row{
				"Test",
				fmt.Sprintf("%s %s", prefix, tr.Test.FullTitle),
				formatDuration(tr.Duration),
				"1",
				boolToInt(tr.Status == types.TestStatusPass),
				boolToInt(tr.Status == types.TestStatusFail),
				getResultString(tr.Status),
				errorMsg,
			})
		}
		t.AppendSeparator()
	}

	if result.Status == types.TestStatusPass {
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	} else {
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		"",
		formatDuration(result.Duration),
		result.Stats.Total,
		result.Stats.Passed,
		result.Stats.Failed,
		getResultString(result.Status),
		"",
	})

	t.Render()
}

// firstLine limits an error message to its first line or 80 chars.
func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	if len(s) > 80 {
		return s[:70] + "..."
	}
	return s
}

// Helper function to convert bool to int
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// getResultString returns a colored string representing the test result
func getResultString(status types.TestStatus) string {
	switch status {
	case types.TestStatusPass:
		return "✓ pass"
	case types.TestStatusSkip:
		return "- skip"
	default:
		return "✗ fail"
	}
}

// Helper function to format duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
