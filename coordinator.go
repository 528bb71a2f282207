package gridrunner

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/webgrid-labs/gridrunner/discovery"
	"github.com/webgrid-labs/gridrunner/events"
	"github.com/webgrid-labs/gridrunner/exitcodes"
	"github.com/webgrid-labs/gridrunner/metrics"
	"github.com/webgrid-labs/gridrunner/parser"
	"github.com/webgrid-labs/gridrunner/pool"
	"github.com/webgrid-labs/gridrunner/registry"
	"github.com/webgrid-labs/gridrunner/runner"
	"github.com/webgrid-labs/gridrunner/types"
	"github.com/webgrid-labs/gridrunner/worker"
)

// initState tracks the one-shot INIT gate. The settled outcome is memoized
// and replayed for later calls; listener side effects run exactly once per
// coordinator instance.
type initState int

const (
	initIdle initState = iota
	initPending
	initSettled
)

// RunOptions modifies a single Run call.
type RunOptions struct {
	// Collection, when set, is executed as-is and no discovery happens.
	Collection *types.TestCollection
	// Browsers restricts the run to these browser identifiers.
	Browsers []string
	// Ignore, Sets and Grep are forwarded to the discovery reader.
	Ignore []string
	Sets   []string
	Grep   string
}

// ReadTestsOptions modifies a ReadTests call.
type ReadTestsOptions struct {
	Browsers []string
	Ignore   []string
	Sets     []string
	Grep     string
	// Silent suppresses INIT and the after-tests-read notification; the
	// collection is still returned.
	Silent bool
}

// Coordinator is the externally-facing orchestrator. It owns the run
// lifecycle: the one-shot INIT gate, discovery, the top-level runner, event
// relay to external listeners, failure-state aggregation, and halt.
type Coordinator struct {
	cfg      *Config
	log      log.Logger
	bus      *events.Bus
	registry *registry.Registry
	reader   discovery.Reader

	// newRunner builds the top-level runner for one run; tests override it.
	newRunner func() (*runner.TestRunner, error)

	initMu   sync.Mutex
	init     initState
	initErr  error
	initDone chan struct{}

	failed atomic.Bool

	mu         sync.Mutex
	active     *runner.TestRunner
	haltTimers []*time.Timer

	// exitFn performs the forced, data-loss-accepting process termination.
	exitFn func(code int)
}

// NewCoordinator creates a coordinator. The session pool and executor are
// shared by every worker the coordinator's runs spin up.
func NewCoordinator(cfg *Config, reg *registry.Registry, reader discovery.Reader, sessions *pool.SessionPool, exec worker.Executor) *Coordinator {
	logger := cfg.Log
	if logger == nil {
		logger = log.New()
	}

	c := &Coordinator{
		cfg:      cfg,
		log:      logger.New("component", "coordinator"),
		bus:      events.NewBus(),
		registry: reg,
		reader:   reader,
		exitFn:   os.Exit,
	}
	if c.reader == nil {
		// Default discovery emits its file-read events straight onto the
		// coordinator's bus.
		c.reader = discovery.NewManifestReader(reg, c.bus, logger)
	}
	c.newRunner = func() (*runner.TestRunner, error) {
		return runner.NewTestRunner(runner.Config{
			Log:     logger,
			Workers: cfg.Workers,
			NewWorker: func(bus *events.Bus) *worker.Runner {
				cache := parser.NewCache(parser.ParseManifest, bus, logger)
				return worker.NewRunner(cache, sessions, exec, logger)
			},
		})
	}

	// Failure state is mutated only from the coordinator's own
	// event-handling path.
	c.bus.On(events.TestFail, func(any) { c.failed.Store(true) })
	c.bus.On(events.Error, func(any) { c.failed.Store(true) })

	return c
}

// Events returns the coordinator's bus for listener registration.
func (c *Coordinator) Events() *events.Bus {
	return c.bus
}

// EventNames returns the fixed event table, including the coordinator-only
// events the top-level runner never produces.
func (c *Coordinator) EventNames() []events.Name {
	return events.All()
}

// Config returns a read-only copy of the effective configuration.
func (c *Coordinator) Config() Config {
	return *c.cfg
}

// Run executes the given collection, or discovers one from paths when no
// collection is supplied. It returns true unless a test failure or a
// halt-triggering error was observed.
func (c *Coordinator) Run(ctx context.Context, paths []string, opts RunOptions) (bool, error) {
	collection := opts.Collection
	if collection == nil {
		var err error
		collection, err = c.ReadTests(ctx, paths, ReadTestsOptions{
			Browsers: opts.Browsers,
			Ignore:   opts.Ignore,
			Sets:     opts.Sets,
			Grep:     opts.Grep,
		})
		if err != nil {
			return false, err
		}
	} else {
		// Pre-built collections still pass the INIT gate before anything
		// executes.
		if err := c.fireInit(ctx); err != nil {
			return false, err
		}
	}

	c.warnUnknownBrowsers(opts.Browsers)

	tr, err := c.newRunner()
	if err != nil {
		return false, fmt.Errorf("failed to create test runner: %w", err)
	}

	// Relay wiring comes strictly before the runner starts so no event is
	// lost to an unattached listener.
	tr.Events().Relay(c.bus, events.RunnerEvents()...)

	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return false, fmt.Errorf("a run is already active")
	}
	c.active = tr
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.active = nil
		c.mu.Unlock()
		// Graceful shutdown completed; disarm any pending forced exits.
		c.stopHaltTimers()
	}()

	if err := tr.Init(ctx); err != nil {
		return false, fmt.Errorf("failed to prepare workers: %w", err)
	}

	result, err := tr.Run(ctx, collection)
	if err != nil {
		return false, err
	}
	c.log.Info("Run complete", "run_id", result.RunID, "status", result.Status, "failed", c.failed.Load())

	return !c.failed.Load(), nil
}

// ReadTests resolves paths into a collection without executing anything.
// The INIT gate and per-browser strict ordering apply exactly as in Run; the
// Silent option suppresses INIT and the after-tests-read notification.
func (c *Coordinator) ReadTests(ctx context.Context, paths []string, opts ReadTestsOptions) (*types.TestCollection, error) {
	if !opts.Silent {
		if err := c.fireInit(ctx); err != nil {
			return nil, err
		}
	}

	collection, err := c.reader.Read(ctx, discovery.ReadOptions{
		Paths:    paths,
		Browsers: opts.Browsers,
		Ignore:   opts.Ignore,
		Sets:     opts.Sets,
		Grep:     c.grepOr(opts.Grep),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read tests: %w", err)
	}

	for _, browserID := range collection.BrowserIDs() {
		if c.registry.StrictOrder(browserID) {
			collection.SortTests(browserID)
		}
	}

	if !opts.Silent {
		if err := c.bus.EmitAwaited(ctx, events.AfterTestsRead, collection); err != nil {
			return nil, fmt.Errorf("after-tests-read listener failed: %w", err)
		}
	}
	return collection, nil
}

// AddTestToRun forwards a test to the active runner. With no active run it
// announces the test on the add-test event and reports false with no other
// effect.
func (c *Coordinator) AddTestToRun(test *types.Test, browserID string) bool {
	c.mu.Lock()
	tr := c.active
	c.mu.Unlock()

	if tr == nil {
		c.bus.Emit(events.AddTest, test)
		return false
	}
	return tr.AddTestToRun(test, browserID)
}

// Halt surfaces the error, marks the coordinator failed and cancels the
// active run. A positive shutdown timeout arms a timer that forcibly
// terminates the process if graceful shutdown has not completed by then; a
// zero timeout means never force-exit.
func (c *Coordinator) Halt(err error, shutdownTimeout time.Duration) {
	c.log.Error("Halting run", "error", err)
	metrics.RecordError("halt")
	c.failed.Store(true)

	c.mu.Lock()
	tr := c.active
	c.mu.Unlock()
	if tr != nil {
		tr.Cancel()
	}

	if shutdownTimeout <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	timer := time.AfterFunc(shutdownTimeout, func() {
		c.log.Error("Graceful shutdown did not complete in time, forcing exit",
			"timeout", shutdownTimeout, "reason", err)
		c.exitFn(exitcodes.ForcedShutdown)
	})
	c.haltTimers = append(c.haltTimers, timer)
}

// IsFailed reports whether any test failure or fatal error has been
// observed. Monotonic for the coordinator's lifetime.
func (c *Coordinator) IsFailed() bool {
	return c.failed.Load()
}

// fireInit runs the INIT gate. The first caller emits the awaited INIT
// event; concurrent callers wait for it; later callers get the memoized
// outcome without re-running listeners.
func (c *Coordinator) fireInit(ctx context.Context) error {
	c.initMu.Lock()
	switch c.init {
	case initSettled:
		err := c.initErr
		c.initMu.Unlock()
		return err
	case initPending:
		done := c.initDone
		c.initMu.Unlock()
		select {
		case <-done:
			c.initMu.Lock()
			err := c.initErr
			c.initMu.Unlock()
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.init = initPending
	c.initDone = make(chan struct{})
	c.initMu.Unlock()

	err := c.bus.EmitAwaited(ctx, events.Init, nil)
	if err != nil {
		err = fmt.Errorf("init listener failed: %w", err)
	}

	c.initMu.Lock()
	c.init = initSettled
	c.initErr = err
	close(c.initDone)
	c.initMu.Unlock()
	return err
}

// warnUnknownBrowsers reports requested browsers absent from configuration.
// Non-fatal; the run continues on the known ones.
func (c *Coordinator) warnUnknownBrowsers(requested []string) {
	for _, id := range requested {
		if !c.registry.Has(id) {
			c.log.Warn("Requested browser is not configured, skipping", "browser", id)
		}
	}
}

func (c *Coordinator) stopHaltTimers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.haltTimers {
		t.Stop()
	}
	c.haltTimers = nil
}

func (c *Coordinator) grepOr(grep string) string {
	if grep != "" {
		return grep
	}
	return c.cfg.Grep
}
