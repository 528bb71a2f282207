// Package worker executes exactly one identified test per invocation inside
// a worker execution context. It resolves the test through the parse cache,
// obtains a browser session through the pool (or reuses one handed to it)
// and delegates execution.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/webgrid-labs/gridrunner/parser"
	"github.com/webgrid-labs/gridrunner/pool"
	"github.com/webgrid-labs/gridrunner/types"
)

// Executor runs one located test inside a browser session. The execution
// state machine behind it (assertion retries, hooks, screenshots) is outside
// the orchestration layer.
type Executor interface {
	Execute(ctx context.Context, test *types.Test, session *types.BrowserSession) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, test *types.Test, session *types.BrowserSession) error

func (f ExecutorFunc) Execute(ctx context.Context, test *types.Test, session *types.BrowserSession) error {
	return f(ctx, test, session)
}

// RunTestOpts carries the dispatcher's view of the test: where it lives,
// which browser it targets and, when a session is being reused across
// consecutive tests on the same worker, the established session identity.
type RunTestOpts struct {
	File        string
	BrowserID   string
	SessionID   string
	SessionCaps map[string]any
	SessionOpts map[string]any
}

// Runner is the worker-side test runner. Each worker execution context owns
// one Runner and, through it, one private parse cache.
type Runner struct {
	cache *parser.Cache
	pool  *pool.SessionPool
	exec  Executor
	log   log.Logger
}

// NewRunner creates a worker runner.
func NewRunner(cache *parser.Cache, sessions *pool.SessionPool, exec Executor, logger log.Logger) *Runner {
	if logger == nil {
		logger = log.New()
	}
	return &Runner{
		cache: cache,
		pool:  sessions,
		exec:  exec,
		log:   logger,
	}
}

// RunTest resolves the named test and executes it. A parse failure or a test
// absent from the parsed file is fatal for this invocation only; it is
// returned as the test's failed outcome and never terminates the worker.
func (r *Runner) RunTest(ctx context.Context, fullTitle string, opts RunTestOpts) *types.TestResult {
	start := time.Now()

	test, err := r.resolveTest(ctx, fullTitle, opts)
	if err != nil {
		return &types.TestResult{
			Test:     &types.Test{FullTitle: fullTitle, File: opts.File, BrowserID: opts.BrowserID},
			Status:   types.TestStatusFail,
			Error:    err,
			Duration: time.Since(start),
		}
	}

	session, release, err := r.session(ctx, opts)
	if err != nil {
		return &types.TestResult{
			Test:     test,
			Status:   types.TestStatusFail,
			Error:    err,
			Duration: time.Since(start),
		}
	}
	defer release()

	result := &types.TestResult{
		Test:      test,
		Status:    types.TestStatusPass,
		SessionID: session.SessionID,
	}
	if err := r.exec.Execute(ctx, test, session); err != nil {
		result.Status = types.TestStatusFail
		result.Error = err
	}
	result.Duration = time.Since(start)

	r.log.Debug("Test executed", "test", fullTitle, "browser", opts.BrowserID,
		"session", session.SessionID, "status", result.Status, "duration", result.Duration)
	return result
}

// resolveTest asks the parse cache for the file's tests and selects the one
// whose full title matches. Absence means the file is inconsistent with the
// dispatcher's expectation.
func (r *Runner) resolveTest(ctx context.Context, fullTitle string, opts RunTestOpts) (*types.Test, error) {
	tests, err := r.cache.Parse(ctx, opts.File, opts.BrowserID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", opts.File, err)
	}
	for _, t := range tests {
		if t.FullTitle == fullTitle {
			return t, nil
		}
	}
	return nil, fmt.Errorf("test %q not found in %s for browser %s", fullTitle, opts.File, opts.BrowserID)
}

// session returns the browser session to run in and the release to apply on
// completion. A session identity passed by the dispatcher is reused as-is
// and stays alive for the next test on this worker; otherwise a fresh
// session is acquired from the pool and released on every exit path.
func (r *Runner) session(ctx context.Context, opts RunTestOpts) (*types.BrowserSession, func(), error) {
	if opts.SessionID != "" {
		session := &types.BrowserSession{
			BrowserID: opts.BrowserID,
			SessionID: opts.SessionID,
			Caps:      opts.SessionCaps,
			Opts:      opts.SessionOpts,
		}
		return session, func() {}, nil
	}

	session, err := r.pool.Acquire(ctx, opts.BrowserID)
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		if err := r.pool.Release(context.WithoutCancel(ctx), session); err != nil {
			r.log.Warn("Session release failed", "browser", opts.BrowserID, "session", session.SessionID, "error", err)
		}
	}
	return session, release, nil
}
