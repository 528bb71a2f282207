package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webgrid-labs/gridrunner/events"
	"github.com/webgrid-labs/gridrunner/parser"
	"github.com/webgrid-labs/gridrunner/pool"
	"github.com/webgrid-labs/gridrunner/types"
	"github.com/webgrid-labs/gridrunner/worker"
)

type stubFactory struct {
	mu      sync.Mutex
	created int
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

func (f *stubFactory) CloseSession(context.Context, *types.BrowserSession) error {
	return nil
}

type stubLimits struct{}

func (stubLimits) SessionLimit(string) int64 { return 8 }
func (stubLimits) SessionRetries() uint64    { return 0 }

// fixtureTests is what the stub manifest parse returns for every file.
var fixtureTests = []string{"t1", "t2", "t3", "t4", "extra"}

func stubParse(_ context.Context, file, browserID string) ([]*types.Test, error) {
	tests := make([]*types.Test, 0, len(fixtureTests))
	for i, title := range fixtureTests {
		tests = append(tests, &types.Test{
			ID:        fmt.Sprintf("%03d", i+1),
			FullTitle: title,
			File:      file,
			BrowserID: browserID,
		})
	}
	return tests, nil
}

func newFleetRunner(t *testing.T, workers int, exec worker.Executor) *TestRunner {
	t.Helper()
	sessions := pool.NewSessionPool(&stubFactory{}, stubLimits{}, nil)
	tr, err := NewTestRunner(Config{
		Workers: workers,
		NewWorker: func(bus *events.Bus) *worker.Runner {
			cache := parser.NewCache(stubParse, bus, nil)
			return worker.NewRunner(cache, sessions, exec, nil)
		},
	})
	require.NoError(t, err)
	return tr
}

func collectionOf(t *testing.T, browserID string, titles ...string) *types.TestCollection {
	t.Helper()
	c := types.NewTestCollection()
	for i, title := range titles {
		require.NoError(t, c.Add(browserID, &types.Test{
			ID:        fmt.Sprintf("%03d", i+1),
			FullTitle: title,
			File:      "suite.yaml",
			BrowserID: browserID,
		}))
	}
	return c
}

func TestNewTestRunner_Validation(t *testing.T) {
	_, err := NewTestRunner(Config{})
	require.Error(t, err)

	_, err = NewTestRunner(Config{
		Workers:   -1,
		NewWorker: func(*events.Bus) *worker.Runner { return nil },
	})
	require.Error(t, err)
}

func TestTestRunner_RunBeforeInit(t *testing.T) {
	exec := worker.ExecutorFunc(func(context.Context, *types.Test, *types.BrowserSession) error { return nil })
	tr := newFleetRunner(t, 2, exec)

	_, err := tr.Run(context.Background(), collectionOf(t, "chrome", "t1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not initialized")
}

func TestTestRunner_InitTwice(t *testing.T) {
	exec := worker.ExecutorFunc(func(context.Context, *types.Test, *types.BrowserSession) error { return nil })
	tr := newFleetRunner(t, 2, exec)

	require.NoError(t, tr.Init(context.Background()))
	require.Error(t, tr.Init(context.Background()))
}

func TestTestRunner_RunAllTests(t *testing.T) {
	var mu sync.Mutex
	executed := make(map[string]int)
	exec := worker.ExecutorFunc(func(_ context.Context, test *types.Test, _ *types.BrowserSession) error {
		mu.Lock()
		executed[test.FullTitle]++
		mu.Unlock()
		if test.FullTitle == "t3" {
			return errors.New("assertion failed")
		}
		return nil
	})
	tr := newFleetRunner(t, 3, exec)

	var passed, failed int
	tr.Events().On(events.TestPass, func(any) { passed++ })
	tr.Events().On(events.TestFail, func(any) { failed++ })

	var started, ended bool
	tr.Events().OnAwaited(events.RunnerStart, func(_ context.Context, payload any) error {
		started = true
		assert.IsType(t, "", payload)
		return nil
	})
	tr.Events().OnAwaited(events.RunnerEnd, func(_ context.Context, payload any) error {
		ended = true
		assert.IsType(t, &RunResult{}, payload)
		return nil
	})

	require.NoError(t, tr.Init(context.Background()))
	result, err := tr.Run(context.Background(), collectionOf(t, "chrome", "t1", "t2", "t3", "t4"))
	require.NoError(t, err)

	assert.Equal(t, Stats{Total: 4, Passed: 3, Failed: 1}, result.Stats)
	assert.Equal(t, types.TestStatusFail, result.Status)
	assert.False(t, result.Cancelled)
	assert.NotEmpty(t, result.RunID)

	mu.Lock()
	assert.Len(t, executed, 4)
	mu.Unlock()
	assert.Equal(t, 3, passed)
	assert.Equal(t, 1, failed)
	assert.True(t, started)
	assert.True(t, ended)
}

func TestTestRunner_EmptyCollection(t *testing.T) {
	exec := worker.ExecutorFunc(func(context.Context, *types.Test, *types.BrowserSession) error { return nil })
	tr := newFleetRunner(t, 2, exec)

	require.NoError(t, tr.Init(context.Background()))
	result, err := tr.Run(context.Background(), types.NewTestCollection())
	require.NoError(t, err)
	assert.Equal(t, Stats{}, result.Stats)
	assert.Equal(t, types.TestStatusPass, result.Status)
}

func TestTestRunner_RunnerStartListenerErrorAborts(t *testing.T) {
	exec := worker.ExecutorFunc(func(context.Context, *types.Test, *types.BrowserSession) error {
		t.Fatal("no test may run when the start listener fails")
		return nil
	})
	tr := newFleetRunner(t, 2, exec)

	boom := errors.New("listener refused")
	tr.Events().OnAwaited(events.RunnerStart, func(context.Context, any) error {
		return boom
	})

	require.NoError(t, tr.Init(context.Background()))
	_, err := tr.Run(context.Background(), collectionOf(t, "chrome", "t1"))
	require.ErrorIs(t, err, boom)
}

func TestTestRunner_Cancel(t *testing.T) {
	release := make(chan struct{})
	exec := worker.ExecutorFunc(func(ctx context.Context, test *types.Test, _ *types.BrowserSession) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	tr := newFleetRunner(t, 1, exec)
	require.NoError(t, tr.Init(context.Background()))

	done := make(chan *RunResult, 1)
	go func() {
		result, err := tr.Run(context.Background(), collectionOf(t, "chrome", "t1", "t2", "t3"))
		require.NoError(t, err)
		done <- result
	}()

	// Let the first test start, then cancel mid-run.
	time.Sleep(50 * time.Millisecond)
	tr.Cancel()
	tr.Cancel() // idempotent
	close(release)

	select {
	case result := <-done:
		assert.True(t, result.Cancelled)
		assert.Less(t, result.Stats.Total, 3)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not resolve after cancellation")
	}
}

func TestTestRunner_AddTestToRun(t *testing.T) {
	var mu sync.Mutex
	executed := make(map[string]bool)
	gate := make(chan struct{})
	exec := worker.ExecutorFunc(func(_ context.Context, test *types.Test, _ *types.BrowserSession) error {
		if test.FullTitle == "t1" {
			<-gate
		}
		mu.Lock()
		executed[test.FullTitle] = true
		mu.Unlock()
		return nil
	})
	tr := newFleetRunner(t, 1, exec)
	require.NoError(t, tr.Init(context.Background()))

	done := make(chan *RunResult, 1)
	go func() {
		result, err := tr.Run(context.Background(), collectionOf(t, "chrome", "t1"))
		require.NoError(t, err)
		done <- result
	}()

	// The run is active while t1 blocks; the added test joins it.
	require.Eventually(t, func() bool {
		return tr.AddTestToRun(&types.Test{ID: "099", FullTitle: "extra", File: "suite.yaml"}, "chrome")
	}, 2*time.Second, 10*time.Millisecond)
	close(gate)

	select {
	case result := <-done:
		assert.Equal(t, 2, result.Stats.Total)
		mu.Lock()
		assert.True(t, executed["t1"])
		assert.True(t, executed["extra"])
		mu.Unlock()
	case <-time.After(5 * time.Second):
		t.Fatal("run did not resolve")
	}

	// With no run active the add is refused.
	assert.False(t, tr.AddTestToRun(&types.Test{ID: "100", FullTitle: "late"}, "chrome"))
}

func TestTestRunner_CollectionKeyBindsUnboundTests(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	exec := worker.ExecutorFunc(func(_ context.Context, test *types.Test, session *types.BrowserSession) error {
		mu.Lock()
		seen = append(seen, test.BrowserID)
		mu.Unlock()
		assert.Equal(t, test.BrowserID, session.BrowserID)
		return nil
	})
	tr := newFleetRunner(t, 2, exec)
	require.NoError(t, tr.Init(context.Background()))

	// Tests added under a browser key without a bound BrowserID must still
	// parse, acquire and execute under that key.
	c := types.NewTestCollection()
	require.NoError(t, c.Add("chrome", &types.Test{ID: "001", FullTitle: "t1", File: "suite.yaml"}))
	require.NoError(t, c.Add("firefox", &types.Test{ID: "001", FullTitle: "t2", File: "suite.yaml"}))

	result, err := tr.Run(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 2, Passed: 2}, result.Stats)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"chrome", "firefox"}, seen)
}

func TestTestRunner_PanicSurfacesAsError(t *testing.T) {
	exec := worker.ExecutorFunc(func(_ context.Context, test *types.Test, _ *types.BrowserSession) error {
		if test.FullTitle == "t2" {
			panic("executor exploded")
		}
		return nil
	})
	tr := newFleetRunner(t, 1, exec)

	var fatal error
	tr.Events().On(events.Error, func(payload any) {
		fatal = payload.(error)
	})

	require.NoError(t, tr.Init(context.Background()))
	result, err := tr.Run(context.Background(), collectionOf(t, "chrome", "t1", "t2", "t3"))
	require.NoError(t, err)

	// The panic fails its own test and surfaces a fatal error; the fleet
	// keeps running the remaining tests.
	assert.Equal(t, Stats{Total: 3, Passed: 2, Failed: 1}, result.Stats)
	require.Error(t, fatal)
	assert.Contains(t, fatal.Error(), "worker crashed")
}
