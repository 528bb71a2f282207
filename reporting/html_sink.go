package reporting

import (
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/webgrid-labs/gridrunner/runner"
	"github.com/webgrid-labs/gridrunner/templates"
	"github.com/webgrid-labs/gridrunner/types"
)

// HTMLSink renders a self-contained results.html for each finished run.
type HTMLSink struct {
	baseDir string
	tmpl    *template.Template
}

// htmlReport is the data handed to the report template.
type htmlReport struct {
	Result   *runner.RunResult
	Browsers []*runner.BrowserResult
}

// NewHTMLSink creates a new HTML sink writing under baseDir.
func NewHTMLSink(baseDir string) (*HTMLSink, error) {
	tmpl, err := template.New("results").Funcs(templates.GetTemplateFunc()).Parse(resultsTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse results template: %w", err)
	}
	return &HTMLSink{baseDir: baseDir, tmpl: tmpl}, nil
}

// Consume is a no-op; the report is generated from the final run result.
func (s *HTMLSink) Consume(result *types.TestResult, runID string) error {
	return nil
}

// Complete generates the HTML report file for the run.
func (s *HTMLSink) Complete(result *runner.RunResult) error {
	outputDir, err := RunDirectory(s.baseDir, result.RunID)
	if err != nil {
		return err
	}

	browsers := make([]*runner.BrowserResult, 0, len(result.Browsers))
	for _, br := range result.Browsers {
		browsers = append(browsers, br)
	}
	sort.Slice(browsers, func(i, j int) bool {
		return browsers[i].BrowserID < browsers[j].BrowserID
	})

	var out strings.Builder
	if err := s.tmpl.Execute(&out, htmlReport{Result: result, Browsers: browsers}); err != nil {
		return fmt.Errorf("failed to render HTML report: %w", err)
	}

	htmlFile := filepath.Join(outputDir, "results.html")
	if err := os.WriteFile(htmlFile, []byte(out.String()), 0644); err != nil {
		return fmt.Errorf("failed to write HTML file: %w", err)
	}
	return nil
}

// ErrorText exposes a result's error message to the template.
func (htmlReport) ErrorText(result *types.TestResult) string {
	return errorMessage(result)
}

const resultsTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Browser Test Results {{.Result.RunID}}</title>
<style>
body { font-family: sans-serif; margin: 2em; color: #222; }
h1 { font-size: 1.4em; }
.pass { color: #1a7f37; }
.fail { color: #cf222e; }
.skip { color: #888; }
table { border-collapse: collapse; margin-bottom: 2em; }
th, td { border: 1px solid #ddd; padding: 0.4em 0.8em; text-align: left; }
th { background: #f5f5f5; }
.summary { margin-bottom: 1.5em; }
.error { font-family: monospace; font-size: 0.85em; }
</style>
</head>
<body>
<h1>Browser Test Results <span class="{{getStatusClass .Result.Status}}">{{getStatusText .Result.Status}}</span></h1>
<div class="summary">
<p>Run {{.Result.RunID}}{{if .Result.Cancelled}} (cancelled){{end}}</p>
<p>{{.Result.Stats.Total}} tests, {{.Result.Stats.Passed}} passed, {{.Result.Stats.Failed}} failed in {{formatDuration .Result.Duration}}</p>
</div>
{{$report := .}}
{{range .Browsers}}
<h2>{{.BrowserID}} <span class="{{getStatusClass (getOverallStatus .Stats)}}">{{getStatusText (getOverallStatus .Stats)}}</span></h2>
<table>
<tr><th>Test</th><th>Status</th><th>Duration</th><th>Error</th></tr>
{{range .Tests}}
<tr>
<td>{{.Test.FullTitle}}</td>
<td class="{{getStatusClass .Status}}">{{getStatusText .Status}}</td>
<td>{{formatDuration .Duration}}</td>
<td class="error">{{$report.ErrorText .}}</td>
</tr>
{{end}}
</table>
{{end}}
</body>
</html>
`
