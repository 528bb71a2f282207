package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webgrid-labs/gridrunner/events"
	"github.com/webgrid-labs/gridrunner/parser"
	"github.com/webgrid-labs/gridrunner/pool"
	"github.com/webgrid-labs/gridrunner/types"
)

type stubFactory struct {
	mu      sync.Mutex
	created int
	closed  int
}

func (f *stubFactory) NewSession(ctx context.Context, browserID string) (*types.BrowserSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return &types.BrowserSession{
		BrowserID: browserID,
		SessionID: fmt.Sprintf("session-%d", f.created),
	}, nil
}

func (f *stubFactory) CloseSession(ctx context.Context, session *types.BrowserSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

type stubLimits struct{}

func (stubLimits) SessionLimit(string) int64 { return 2 }
func (stubLimits) SessionRetries() uint64    { return 0 }

func manifestParse(_ context.Context, file, browserID string) ([]*types.Test, error) {
	return []*types.Test{
		{ID: "001", FullTitle: "login works", File: file, BrowserID: browserID},
		{ID: "002", FullTitle: "logout works", File: file, BrowserID: browserID},
	}, nil
}

func newTestRunner(t *testing.T, exec Executor) (*Runner, *stubFactory, *pool.SessionPool) {
	t.Helper()
	factory := &stubFactory{}
	sessions := pool.NewSessionPool(factory, stubLimits{}, nil)
	cache := parser.NewCache(manifestParse, events.NewBus(), nil)
	return NewRunner(cache, sessions, exec, nil), factory, sessions
}

func TestRunner_RunTest(t *testing.T) {
	var executed *types.Test
	exec := ExecutorFunc(func(_ context.Context, test *types.Test, session *types.BrowserSession) error {
		executed = test
		return nil
	})
	r, factory, sessions := newTestRunner(t, exec)

	result := r.RunTest(context.Background(), "login works", RunTestOpts{
		File:      "suite.yaml",
		BrowserID: "chrome",
	})

	assert.Equal(t, types.TestStatusPass, result.Status)
	require.NoError(t, result.Error)
	require.NotNil(t, executed)
	assert.Equal(t, "001", executed.ID)
	assert.NotEmpty(t, result.SessionID)

	// The session was released on completion.
	assert.Equal(t, 1, factory.created)
	assert.Equal(t, 1, factory.closed)
	assert.Equal(t, 0, sessions.Held("chrome"))
}

func TestRunner_RunTest_MissingTest(t *testing.T) {
	exec := ExecutorFunc(func(context.Context, *types.Test, *types.BrowserSession) error {
		t.Fatal("executor must not run for an unresolvable test")
		return nil
	})
	r, factory, _ := newTestRunner(t, exec)

	result := r.RunTest(context.Background(), "does not exist", RunTestOpts{
		File:      "suite.yaml",
		BrowserID: "chrome",
	})

	assert.Equal(t, types.TestStatusFail, result.Status)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "not found")
	// Nothing was acquired for a test that never ran.
	assert.Equal(t, 0, factory.created)
}

func TestRunner_RunTest_ExecutorFailureReleasesSession(t *testing.T) {
	boom := errors.New("element not found")
	exec := ExecutorFunc(func(context.Context, *types.Test, *types.BrowserSession) error {
		return boom
	})
	r, factory, sessions := newTestRunner(t, exec)

	result := r.RunTest(context.Background(), "login works", RunTestOpts{
		File:      "suite.yaml",
		BrowserID: "chrome",
	})

	assert.Equal(t, types.TestStatusFail, result.Status)
	require.ErrorIs(t, result.Error, boom)
	assert.Equal(t, 1, factory.closed)
	assert.Equal(t, 0, sessions.Held("chrome"))
}

func TestRunner_RunTest_ReusesProvidedSession(t *testing.T) {
	var got *types.BrowserSession
	exec := ExecutorFunc(func(_ context.Context, _ *types.Test, session *types.BrowserSession) error {
		got = session
		return nil
	})
	r, factory, _ := newTestRunner(t, exec)

	result := r.RunTest(context.Background(), "login works", RunTestOpts{
		File:        "suite.yaml",
		BrowserID:   "chrome",
		SessionID:   "existing-session",
		SessionCaps: map[string]any{"browserName": "chrome"},
	})

	assert.Equal(t, types.TestStatusPass, result.Status)
	assert.Equal(t, "existing-session", result.SessionID)
	require.NotNil(t, got)
	assert.Equal(t, "existing-session", got.SessionID)
	assert.Equal(t, "chrome", got.Caps["browserName"])

	// A reused session bypasses the pool entirely and stays open.
	assert.Equal(t, 0, factory.created)
	assert.Equal(t, 0, factory.closed)
}

func TestRunner_RunTest_ParseFailure(t *testing.T) {
	boom := errors.New("bad manifest")
	cache := parser.NewCache(func(context.Context, string, string) ([]*types.Test, error) {
		return nil, boom
	}, events.NewBus(), nil)
	factory := &stubFactory{}
	sessions := pool.NewSessionPool(factory, stubLimits{}, nil)
	exec := ExecutorFunc(func(context.Context, *types.Test, *types.BrowserSession) error { return nil })
	r := NewRunner(cache, sessions, exec, nil)

	result := r.RunTest(context.Background(), "login works", RunTestOpts{
		File:      "suite.yaml",
		BrowserID: "chrome",
	})

	assert.Equal(t, types.TestStatusFail, result.Status)
	require.ErrorIs(t, result.Error, boom)
	assert.Equal(t, "login works", result.Test.FullTitle)
	assert.Equal(t, "chrome", result.Test.BrowserID)
}
