// Package reporting persists run artifacts to disk. Each Sink turns the
// stream of test completions and the final run result into one file under
// the per-run output directory.
package reporting

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/log"

	"github.com/webgrid-labs/gridrunner/runner"
	"github.com/webgrid-labs/gridrunner/types"
)

// Sink consumes test completions during a run and produces an artifact when
// the run finishes.
type Sink interface {
	// Consume records one completed test. Streaming sinks write immediately;
	// summary sinks may ignore it and work from the final result instead.
	Consume(result *types.TestResult, runID string) error
	// Complete writes the sink's artifact for the finished run.
	Complete(result *runner.RunResult) error
}

// FileReporter fans test completions out to a set of sinks sharing one
// output directory. A sink failure is logged and does not stop the run or
// the other sinks.
type FileReporter struct {
	baseDir string
	log     log.Logger
	sinks   []Sink
}

// NewFileReporter creates a reporter writing under baseDir.
func NewFileReporter(baseDir string, logger log.Logger, sinks ...Sink) *FileReporter {
	if logger == nil {
		logger = log.New()
	}
	return &FileReporter{
		baseDir: baseDir,
		log:     logger.New("component", "file-reporter"),
		sinks:   sinks,
	}
}

// Consume forwards one completed test to every sink.
func (r *FileReporter) Consume(result *types.TestResult, runID string) {
	for _, s := range r.sinks {
		if err := s.Consume(result, runID); err != nil {
			r.log.Error("Report sink failed to consume result", "sink", fmt.Sprintf("%T", s), "error", err)
		}
	}
}

// Complete lets every sink write its artifact for the finished run.
func (r *FileReporter) Complete(result *runner.RunResult) {
	for _, s := range r.sinks {
		if err := s.Complete(result); err != nil {
			r.log.Error("Report sink failed to complete", "sink", fmt.Sprintf("%T", s), "error", err)
		}
	}
}

// RunDirectory returns the output directory for a run, creating it if
// needed.
func RunDirectory(baseDir, runID string) (string, error) {
	dir := filepath.Join(baseDir, "testrun-"+runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	return dir, nil
}

// errorMessage flattens a result error for file output.
func errorMessage(result *types.TestResult) string {
	if result.Error == nil {
		return ""
	}
	return result.Error.Error()
}
