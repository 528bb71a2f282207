package types

import (
	"time"
)

// TestStatus represents the possible states of a test execution
type TestStatus string

const (
	TestStatusPass TestStatus = "pass"
	TestStatusFail TestStatus = "fail"
	TestStatusSkip TestStatus = "skip"
)

// Test identifies a single browser test. Identity is immutable once created:
// a test is produced by discovery (or the worker-side parse cache) and is
// consumed by exactly one worker invocation.
type Test struct {
	// ID is the stable identity used for deterministic ordering.
	ID string `yaml:"id"`
	// FullTitle is the human-readable title used for cross-process lookup:
	// the dispatcher sends it to a worker, the worker resolves it against
	// the parsed file.
	FullTitle string `yaml:"title"`
	// File is the manifest file the test was parsed from.
	File string `yaml:"-"`
	// BrowserID names the browser configuration the test runs against.
	BrowserID string `yaml:"-"`
	// Meta carries arbitrary per-test data from the manifest (e.g. the
	// target URL for navigation-style tests).
	Meta map[string]string `yaml:"meta,omitempty"`
}

// Clone returns a copy of the test bound to the given browser.
func (t *Test) Clone(browserID string) *Test {
	c := *t
	c.BrowserID = browserID
	if t.Meta != nil {
		c.Meta = make(map[string]string, len(t.Meta))
		for k, v := range t.Meta {
			c.Meta[k] = v
		}
	}
	return &c
}

// TestResult captures the outcome of a single test run
type TestResult struct {
	Test     *Test
	Status   TestStatus
	Error    error
	Duration time.Duration
	// SessionID records the browser session the test ran in, when known.
	SessionID string
}
