// Package templates centralizes the helper functions shared by the HTML
// report templates.
package templates

import (
	"fmt"
	"html/template"
	"time"

	"github.com/webgrid-labs/gridrunner/runner"
	"github.com/webgrid-labs/gridrunner/types"
)

// GetTemplateFunc returns the centralized template functions used across the application
func GetTemplateFunc() template.FuncMap {
	return template.FuncMap{
		"formatDuration": func(d time.Duration) string {
			if d < time.Second {
				return fmt.Sprintf("%dms", d.Milliseconds())
			}
			return d.Truncate(time.Millisecond).String()
		},
		"getStatusClass": func(status types.TestStatus) string {
			return getStatusString(status)
		},
		"getStatusText": func(status types.TestStatus) string {
			return getStatusString(status)
		},
		"getOverallStatus": func(stats runner.Stats) types.TestStatus {
			if stats.Failed > 0 {
				return types.TestStatusFail
			}
			if stats.Passed > 0 {
				return types.TestStatusPass
			}
			return types.TestStatusSkip
		},
	}
}

// getStatusString returns a consistent lowercase status string
func getStatusString(status types.TestStatus) string {
	switch status {
	case types.TestStatusPass:
		return "pass"
	case types.TestStatusFail:
		return "fail"
	case types.TestStatusSkip:
		return "skip"
	default:
		return "unknown"
	}
}
