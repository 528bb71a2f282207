package runner

import (
	"sync"
	"time"

	"github.com/webgrid-labs/gridrunner/types"
)

// Stats aggregates pass/fail counts.
type Stats struct {
	Total  int
	Passed int
	Failed int
}

// BrowserResult groups one browser's completed tests.
type BrowserResult struct {
	BrowserID string
	Tests     []*types.TestResult
	Stats     Stats
	Status    types.TestStatus
}

// RunResult is the aggregate outcome of one run.
type RunResult struct {
	RunID     string
	Start     time.Time
	Duration  time.Duration
	Browsers  map[string]*BrowserResult
	Stats     Stats
	Status    types.TestStatus
	Cancelled bool
}

// ResultCollector accumulates test completions into a RunResult.
type ResultCollector struct {
	mu     sync.Mutex
	result *RunResult
}

// NewResultCollector creates a collector for one run.
func NewResultCollector(runID string) *ResultCollector {
	return &ResultCollector{
		result: &RunResult{
			RunID:    runID,
			Start:    time.Now(),
			Browsers: make(map[string]*BrowserResult),
			Status:   types.TestStatusPass,
		},
	}
}

// Add records one completed test under its browser.
func (c *ResultCollector) Add(result *types.TestResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	browserID := result.Test.BrowserID
	br, ok := c.result.Browsers[browserID]
	if !ok {
		br = &BrowserResult{
			BrowserID: browserID,
			Status:    types.TestStatusPass,
		}
		c.result.Browsers[browserID] = br
	}

	br.Tests = append(br.Tests, result)
	br.Stats.Total++
	c.result.Stats.Total++

	switch result.Status {
	case types.TestStatusPass:
		br.Stats.Passed++
		c.result.Stats.Passed++
	default:
		br.Stats.Failed++
		c.result.Stats.Failed++
		br.Status = types.TestStatusFail
		c.result.Status = types.TestStatusFail
	}
}

// Finalize stamps the duration and cancellation state and returns the result.
func (c *ResultCollector) Finalize(cancelled bool) *RunResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.result.Duration = time.Since(c.result.Start)
	c.result.Cancelled = cancelled
	return c.result
}
