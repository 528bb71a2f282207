// Package runner owns the worker fleet and the dispatch of tests to it. A
// fixed-size set of worker execution contexts runs concurrently, each
// handling one test at a time; assignments flow in and results flow out
// exclusively through channels.
package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/webgrid-labs/gridrunner/events"
	"github.com/webgrid-labs/gridrunner/metrics"
	"github.com/webgrid-labs/gridrunner/types"
	"github.com/webgrid-labs/gridrunner/worker"
)

// DefaultWorkers is the fleet size when none is configured.
const DefaultWorkers = 4

// queueSlack is extra assignment-queue capacity reserved for tests added
// dynamically while a run is active.
const queueSlack = 64

// Config configures a test runner.
type Config struct {
	Log log.Logger
	// Workers is the fleet size; each worker runs one test at a time.
	Workers int
	// NewWorker constructs one worker execution context. It is called once
	// per worker during Init; the bus passed in is the runner's own, so
	// worker-side events (file reads) surface through the runner.
	NewWorker func(bus *events.Bus) *worker.Runner
}

// TestRunner dispatches every test of a collection to an available worker
// and aggregates completions into a RunResult.
type TestRunner struct {
	log       log.Logger
	bus       *events.Bus
	workers   int
	newWorker func(bus *events.Bus) *worker.Runner

	fleet []*worker.Runner

	mu        sync.Mutex
	accepting bool
	pending   int
	workCh    chan *types.Test

	cancelled  atomic.Bool
	cancelRun  context.CancelFunc
	cancelOnce sync.Once
}

// NewTestRunner creates a runner. Init must be awaited before Run.
func NewTestRunner(cfg Config) (*TestRunner, error) {
	if cfg.NewWorker == nil {
		return nil, fmt.Errorf("worker constructor is required")
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("worker count cannot be negative")
	}
	if cfg.Workers == 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	return &TestRunner{
		log:       cfg.Log.New("component", "test-runner"),
		bus:       events.NewBus(),
		workers:   cfg.Workers,
		newWorker: cfg.NewWorker,
	}, nil
}

// Events returns the runner's bus. The coordinator subscribes here before
// Run is invoked so no event is lost to an unattached listener.
func (r *TestRunner) Events() *events.Bus {
	return r.bus
}

// Init prepares the worker fleet. It happens strictly after the INIT gate
// has resolved and strictly before any test-execution event is emitted.
func (r *TestRunner) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fleet != nil {
		return fmt.Errorf("runner already initialized")
	}
	r.fleet = make([]*worker.Runner, r.workers)
	for i := range r.fleet {
		r.fleet[i] = r.newWorker(r.bus)
	}
	r.log.Debug("Worker fleet prepared", "workers", r.workers)
	return nil
}

// Run dispatches every test in the collection and resolves once all
// dispatched tests have completed or cancellation has been requested. One
// pass or fail event is emitted per completed test; the run's completion
// (cancelled or not) travels the awaited RunnerEnd event.
func (r *TestRunner) Run(ctx context.Context, collection *types.TestCollection) (*RunResult, error) {
	if collection == nil {
		return nil, fmt.Errorf("test collection is required")
	}
	r.mu.Lock()
	if r.fleet == nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("runner not initialized")
	}
	if r.workCh != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("run already active")
	}
	r.mu.Unlock()

	runID := uuid.New().String()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	r.cancelRun = cancel
	r.workCh = make(chan *types.Test, collection.Len()+queueSlack)
	r.accepting = !r.cancelled.Load()
	r.pending = 0
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.accepting = false
		r.workCh = nil
		r.cancelRun = nil
		r.mu.Unlock()
	}()

	if err := r.bus.EmitAwaited(ctx, events.RunnerStart, runID); err != nil {
		return nil, fmt.Errorf("run start listener failed: %w", err)
	}

	collector := NewResultCollector(runID)
	r.log.Info("Starting test run", "run_id", runID, "tests", collection.Len(), "workers", r.workers)

	resultCh := make(chan *types.TestResult, r.workers*2)
	var wg sync.WaitGroup
	for _, w := range r.fleet {
		wg.Add(1)
		go r.runWorker(runCtx, &wg, w, resultCh)
	}

	empty := r.enqueueCollection(collection)

	if !empty {
		r.collect(runCtx, runID, collector, resultCh)
	}

	// Unblock and drain the fleet before finishing the run.
	cancel()
	wg.Wait()
	close(resultCh)

	result := collector.Finalize(r.cancelled.Load())
	metrics.RecordRun(runID, result.Stats.Passed, result.Stats.Failed)
	r.log.Info("Test run finished", "run_id", runID, "status", result.Status,
		"passed", result.Stats.Passed, "failed", result.Stats.Failed, "cancelled", result.Cancelled)

	if err := r.bus.EmitAwaited(context.WithoutCancel(ctx), events.RunnerEnd, result); err != nil {
		return result, fmt.Errorf("run end listener failed: %w", err)
	}
	return result, nil
}

// enqueueCollection queues every test of the collection. The collection's
// browser key is authoritative for dispatch; a test stored under a key it is
// not yet bound to is bound before queueing. Returns true when nothing was
// queued and the run is already complete.
func (r *TestRunner) enqueueCollection(collection *types.TestCollection) bool {
	collection.EachTest(func(browserID string, test *types.Test) {
		if test.BrowserID != browserID {
			test = test.Clone(browserID)
		}
		r.mu.Lock()
		if !r.accepting {
			r.mu.Unlock()
			return
		}
		r.pending++
		ch := r.workCh
		r.mu.Unlock()
		ch <- test
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == 0 {
		r.accepting = false
		return true
	}
	return false
}

// AddTestToRun accepts a dynamically added test for the active run. It
// returns false with no effect when no run is active or the queue is full.
func (r *TestRunner) AddTestToRun(test *types.Test, browserID string) bool {
	r.mu.Lock()
	if !r.accepting || r.workCh == nil {
		r.mu.Unlock()
		return false
	}
	r.pending++
	ch := r.workCh
	r.mu.Unlock()

	bound := test.Clone(browserID)
	select {
	case ch <- bound:
		r.log.Debug("Test added to active run", "test", bound.FullTitle, "browser", browserID)
		return true
	default:
		r.mu.Lock()
		r.pending--
		r.mu.Unlock()
		r.log.Warn("Assignment queue full, rejecting added test", "test", bound.FullTitle)
		return false
	}
}

// Cancel stops dispatching new tests and requests early termination of
// in-flight ones. Idempotent.
func (r *TestRunner) Cancel() {
	r.cancelOnce.Do(func() {
		r.cancelled.Store(true)
		r.mu.Lock()
		r.accepting = false
		cancel := r.cancelRun
		r.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		r.log.Info("Run cancellation requested")
	})
}

// collect receives completions until every dispatched test has reported or
// the run context is cancelled.
func (r *TestRunner) collect(ctx context.Context, runID string, collector *ResultCollector, resultCh <-chan *types.TestResult) {
	for {
		select {
		case result := <-resultCh:
			collector.Add(result)
			metrics.RecordTest(runID, result.Test.BrowserID, string(result.Status), result.Duration)
			if result.Status == types.TestStatusPass {
				r.bus.Emit(events.TestPass, result)
			} else {
				r.bus.Emit(events.TestFail, result)
			}

			r.mu.Lock()
			r.pending--
			done := r.pending == 0
			if done {
				r.accepting = false
			}
			r.mu.Unlock()
			if done {
				return
			}

		case <-ctx.Done():
			r.log.Debug("Run context cancelled, stopping collection")
			return
		}
	}
}

// runWorker is one worker execution context: it sequentially takes
// assignments off the queue and reports each outcome. A panic inside a test
// surfaces as a fatal runner error without taking the fleet down.
func (r *TestRunner) runWorker(ctx context.Context, wg *sync.WaitGroup, w *worker.Runner, resultCh chan<- *types.TestResult) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case test, ok := <-r.takeWork(ctx):
			if !ok {
				return
			}
			result := r.runOne(ctx, w, test)
			select {
			case resultCh <- result:
			case <-ctx.Done():
				return
			}
		}
	}
}

// takeWork snapshots the current assignment queue. The queue only changes
// between runs, never while workers are draining it.
func (r *TestRunner) takeWork(ctx context.Context) <-chan *types.Test {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.workCh
}

func (r *TestRunner) runOne(ctx context.Context, w *worker.Runner, test *types.Test) (result *types.TestResult) {
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("worker crashed running %q: %v", test.FullTitle, rec)
			r.bus.Emit(events.Error, err)
			metrics.RecordError("worker-crash")
			result = &types.TestResult{
				Test:   test,
				Status: types.TestStatusFail,
				Error:  err,
			}
		}
	}()

	return w.RunTest(ctx, test.FullTitle, worker.RunTestOpts{
		File:      test.File,
		BrowserID: test.BrowserID,
	})
}
