package reporting

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/webgrid-labs/gridrunner/runner"
	"github.com/webgrid-labs/gridrunner/types"
)

const eventsLog = "events.jsonl"

// JSONSink streams one JSON line per completed test to events.jsonl and
// writes an aggregate results.json when the run finishes. The line format is
// stable so external tooling can tail it.
type JSONSink struct {
	baseDir string

	mu    sync.Mutex
	files map[string]*os.File // runID -> open event stream
}

// TestEvent is one line in the events.jsonl stream.
type TestEvent struct {
	Time    time.Time `json:"time"`
	Action  string    `json:"action"`
	Browser string    `json:"browser"`
	Test    string    `json:"test"`
	File    string    `json:"file,omitempty"`
	Elapsed float64   `json:"elapsed,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// runSummary is the shape of results.json.
type runSummary struct {
	RunID     string                    `json:"run_id"`
	Start     time.Time                 `json:"start"`
	Duration  float64                   `json:"duration_seconds"`
	Status    types.TestStatus          `json:"status"`
	Cancelled bool                      `json:"cancelled"`
	Total     int                       `json:"total"`
	Passed    int                       `json:"passed"`
	Failed    int                       `json:"failed"`
	Browsers  map[string]browserSummary `json:"browsers"`
}

type browserSummary struct {
	Status types.TestStatus `json:"status"`
	Passed int              `json:"passed"`
	Failed int              `json:"failed"`
	Tests  []TestEvent      `json:"tests"`
}

// NewJSONSink creates a new JSON sink writing under baseDir.
func NewJSONSink(baseDir string) *JSONSink {
	return &JSONSink{
		baseDir: baseDir,
		files:   make(map[string]*os.File),
	}
}

// Consume appends one event line for the completed test.
func (s *JSONSink) Consume(result *types.TestResult, runID string) error {
	file, err := s.eventFile(runID)
	if err != nil {
		return err
	}

	line, err := json.Marshal(testEvent(result))
	if err != nil {
		return fmt.Errorf("failed to marshal test event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write test event: %w", err)
	}
	return nil
}

// Complete writes results.json and closes the run's event stream.
func (s *JSONSink) Complete(result *runner.RunResult) error {
	s.mu.Lock()
	if file, ok := s.files[result.RunID]; ok {
		_ = file.Close()
		delete(s.files, result.RunID)
	}
	s.mu.Unlock()

	outputDir, err := RunDirectory(s.baseDir, result.RunID)
	if err != nil {
		return err
	}

	summary := runSummary{
		RunID:     result.RunID,
		Start:     result.Start,
		Duration:  result.Duration.Seconds(),
		Status:    result.Status,
		Cancelled: result.Cancelled,
		Total:     result.Stats.Total,
		Passed:    result.Stats.Passed,
		Failed:    result.Stats.Failed,
		Browsers:  make(map[string]browserSummary, len(result.Browsers)),
	}
	for browserID, br := range result.Browsers {
		bs := browserSummary{
			Status: br.Status,
			Passed: br.Stats.Passed,
			Failed: br.Stats.Failed,
			Tests:  make([]TestEvent, 0, len(br.Tests)),
		}
		for _, tr := range br.Tests {
			bs.Tests = append(bs.Tests, testEvent(tr))
		}
		summary.Browsers[browserID] = bs
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}

	resultsFile := filepath.Join(outputDir, "results.json")
	if err := os.WriteFile(resultsFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write results file: %w", err)
	}
	return nil
}

// eventFile returns the open event stream for a run, creating it on first
// use.
func (s *JSONSink) eventFile(runID string) (*os.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if file, ok := s.files[runID]; ok {
		return file, nil
	}

	outputDir, err := RunDirectory(s.baseDir, runID)
	if err != nil {
		return nil, err
	}
	file, err := os.OpenFile(filepath.Join(outputDir, eventsLog), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event stream: %w", err)
	}
	s.files[runID] = file
	return file, nil
}

func testEvent(result *types.TestResult) TestEvent {
	action := "pass"
	if result.Status != types.TestStatusPass {
		action = "fail"
	}
	return TestEvent{
		Time:    time.Now(),
		Action:  action,
		Browser: result.Test.BrowserID,
		Test:    result.Test.FullTitle,
		File:    result.Test.File,
		Elapsed: result.Duration.Seconds(),
		Error:   errorMessage(result),
	}
}
