package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/webgrid-labs/gridrunner/runner"
	"github.com/webgrid-labs/gridrunner/types"
)

// TextSummarySink writes a human-readable summary.log for each finished run.
type TextSummarySink struct {
	baseDir string
}

// NewTextSummarySink creates a new text summary sink writing under baseDir.
func NewTextSummarySink(baseDir string) *TextSummarySink {
	return &TextSummarySink{baseDir: baseDir}
}

// Consume is a no-op; the summary is generated from the final run result.
func (s *TextSummarySink) Consume(result *types.TestResult, runID string) error {
	return nil
}

// Complete generates the text summary file for the run.
func (s *TextSummarySink) Complete(result *runner.RunResult) error {
	outputDir, err := RunDirectory(s.baseDir, result.RunID)
	if err != nil {
		return err
	}

	content := s.format(result)
	summaryFile := filepath.Join(outputDir, "summary.log")
	if err := os.WriteFile(summaryFile, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write summary file: %w", err)
	}
	return nil
}

func (s *TextSummarySink) format(result *runner.RunResult) string {
	var b strings.Builder

	status := "PASS"
	if result.Status == types.TestStatusFail {
		status = "FAIL"
	}
	fmt.Fprintf(&b, "Run %s: %s\n", result.RunID, status)
	fmt.Fprintf(&b, "Started:  %s\n", result.Start.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "Duration: %s\n", result.Duration.Truncate(1e6))
	fmt.Fprintf(&b, "Tests:    %d total, %d passed, %d failed\n", result.Stats.Total, result.Stats.Passed, result.Stats.Failed)
	if result.Cancelled {
		b.WriteString("Run was cancelled before completion\n")
	}
	b.WriteString("\n")

	browserIDs := make([]string, 0, len(result.Browsers))
	for id := range result.Browsers {
		browserIDs = append(browserIDs, id)
	}
	sort.Strings(browserIDs)

	for _, browserID := range browserIDs {
		br := result.Browsers[browserID]
		fmt.Fprintf(&b, "%s (%d passed, %d failed)\n", browserID, br.Stats.Passed, br.Stats.Failed)
		for i, tr := range br.Tests {
			prefix := "├──"
			if i == len(br.Tests)-1 {
				prefix = "└──"
			}
			mark := "✓"
			if tr.Status != types.TestStatusPass {
				mark = "✗"
			}
			fmt.Fprintf(&b, "%s %s %s (%s)", prefix, mark, tr.Test.FullTitle, tr.Duration.Truncate(1e6))
			if msg := errorMessage(tr); msg != "" {
				fmt.Fprintf(&b, ": %s", msg)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	return b.String()
}
