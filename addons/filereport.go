package addons

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/webgrid-labs/gridrunner/events"
	"github.com/webgrid-labs/gridrunner/reporting"
	"github.com/webgrid-labs/gridrunner/runner"
	"github.com/webgrid-labs/gridrunner/types"
)

// FileReport subscribes to run events and persists per-run artifacts
// (summary.log, results.json, results.html, events.jsonl) through the
// reporting sinks.
type FileReport struct {
	bus     *events.Bus
	baseDir string
	log     log.Logger

	mu       sync.Mutex
	reporter *reporting.FileReporter
	runID    string
}

func NewFileReport(bus *events.Bus, baseDir string, logger log.Logger) *FileReport {
	if logger == nil {
		logger = log.New()
	}
	return &FileReport{
		bus:     bus,
		baseDir: baseDir,
		log:     logger.New("component", "file-report"),
	}
}

func (f *FileReport) Name() string {
	return "file-report"
}

// Start builds the sinks and attaches the event listeners. Must run before
// the first test run so no completion is missed.
func (f *FileReport) Start(ctx context.Context) error {
	htmlSink, err := reporting.NewHTMLSink(f.baseDir)
	if err != nil {
		return fmt.Errorf("failed to create HTML sink: %w", err)
	}
	f.reporter = reporting.NewFileReporter(f.baseDir, f.log,
		reporting.NewTextSummarySink(f.baseDir),
		reporting.NewJSONSink(f.baseDir),
		htmlSink,
	)

	f.bus.OnAwaited(events.RunnerStart, func(_ context.Context, payload any) error {
		if runID, ok := payload.(string); ok {
			f.mu.Lock()
			f.runID = runID
			f.mu.Unlock()
		}
		return nil
	})

	consume := func(payload any) {
		result, ok := payload.(*types.TestResult)
		if !ok {
			return
		}
		f.mu.Lock()
		runID := f.runID
		f.mu.Unlock()
		f.reporter.Consume(result, runID)
	}
	f.bus.On(events.TestPass, consume)
	f.bus.On(events.TestFail, consume)

	f.bus.OnAwaited(events.RunnerEnd, func(_ context.Context, payload any) error {
		result, ok := payload.(*runner.RunResult)
		if !ok {
			return nil
		}
		f.reporter.Complete(result)
		f.log.Info("Run artifacts written", "run_id", result.RunID, "dir", f.baseDir)
		return nil
	})

	f.log.Debug("File report addon started", "dir", f.baseDir)
	return nil
}

func (f *FileReport) Stop(ctx context.Context) error {
	return nil
}
