// Package gridrunner orchestrates browser-based test runs across a worker
// fleet and a capacity-limited pool of browser sessions.
package gridrunner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/optimism/op-service/cliapp"

	"github.com/webgrid-labs/gridrunner/addons"
	"github.com/webgrid-labs/gridrunner/events"
	"github.com/webgrid-labs/gridrunner/exitcodes"
	"github.com/webgrid-labs/gridrunner/pool"
	"github.com/webgrid-labs/gridrunner/registry"
	"github.com/webgrid-labs/gridrunner/runner"
	"github.com/webgrid-labs/gridrunner/webdriver"
)

// app implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &App{}

// App is the long-running service around one Coordinator: it runs the test
// suite once or on an interval and maps outcomes to exit codes.
type App struct {
	ctx         context.Context
	config      *Config
	version     string
	registry    *registry.Registry
	coordinator *Coordinator
	addons      *addons.AddonsManager

	lastResult atomic.Pointer[runner.RunResult]

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup

	shutdownCallback func(error) // Callback to signal application shutdown
}

// New creates the service: registry, session pool, coordinator, and the
// listeners that turn fatal runner errors into a halt.
func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*App, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	config.Log.Debug("Creating gridrunner with config",
		"browserConfig", config.BrowserConfig,
		"specPaths", config.SpecPaths,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce,
		"workers", config.Workers)

	reg, err := registry.NewRegistry(registry.Config{
		Log:               config.Log,
		BrowserConfigFile: config.BrowserConfig,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}

	gridURL := config.GridURL
	if gridURL == "" {
		gridURL = reg.GridURL()
	}
	if gridURL == "" {
		return nil, errors.New("no grid url configured")
	}

	client := webdriver.NewClient(gridURL, config.Log)
	sessions := pool.NewSessionPool(webdriver.NewFactory(client, reg), reg, config.Log)
	coordinator := NewCoordinator(config, reg, nil, sessions, webdriver.NewNavigateExecutor(client))

	var addonOpts []addons.Option
	if config.ResultsDir != "" {
		addonOpts = append(addonOpts, addons.WithFileReports(config.ResultsDir, config.Log))
	}
	addonsManager, err := addons.NewAddonsManager(ctx, coordinator.Events(), addonOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create addons: %w", err)
	}

	a := &App{
		ctx:              ctx,
		config:           config,
		version:          version,
		registry:         reg,
		coordinator:      coordinator,
		addons:           addonsManager,
		done:             make(chan struct{}),
		shutdownCallback: shutdownCallback,
	}

	// A fatal runner error halts the remainder of the run; the forced-exit
	// timer only arms when a shutdown timeout is configured.
	coordinator.Events().On(events.Error, func(payload any) {
		err, ok := payload.(error)
		if !ok {
			err = fmt.Errorf("fatal runner error: %v", payload)
		}
		coordinator.Halt(err, config.ShutdownTimeout)
	})
	coordinator.Events().OnAwaited(events.RunnerEnd, func(_ context.Context, payload any) error {
		if result, ok := payload.(*runner.RunResult); ok {
			a.lastResult.Store(result)
		}
		return nil
	})

	config.Log.Info("gridrunner.New: created registry and coordinator", "browsers", reg.BrowserIDs())
	return a, nil
}

// Coordinator exposes the orchestrator, primarily so plugins and reporters
// can attach event listeners before the first run.
func (a *App) Coordinator() *Coordinator {
	return a.coordinator
}

// Start runs the test suite, once or periodically at the configured
// interval. Start implements the cliapp.Lifecycle interface.
func (a *App) Start(ctx context.Context) error {
	defer func() {
		if r := recover(); r != nil {
			a.config.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	a.ctx = ctx
	a.done = make(chan struct{})
	a.running.Store(true)

	if err := a.addons.Start(ctx); err != nil {
		a.config.Log.Error("Failed to start addons", "error", err)
		return cli.Exit(err.Error(), exitcodes.RuntimeErr)
	}

	if a.config.RunOnce {
		a.config.Log.Info("Starting gridrunner in run-once mode")
	} else {
		a.config.Log.Info("Starting gridrunner in continuous mode", "interval", a.config.RunInterval)
	}

	success, err := a.runTests(ctx)
	if err != nil {
		a.config.Log.Error("Runtime error running tests", "error", err)
		return cli.Exit(err.Error(), exitcodes.RuntimeErr)
	}

	if a.config.RunOnce {
		a.config.Log.Info("Tests completed, exiting (run-once mode)")
		if !success {
			return NewTestFailureError(a.summarize())
		}
		go func() {
			a.shutdownCallback(nil)
		}()
		return nil
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.config.Log.Debug("Starting periodic run goroutine", "interval", a.config.RunInterval)

		for {
			select {
			case <-time.After(a.config.RunInterval):
				if !a.running.Load() {
					a.config.Log.Debug("Service stopped, exiting periodic runner")
					return
				}
				a.config.Log.Info("Running periodic tests")
				if _, err := a.runTests(a.ctx); err != nil {
					a.config.Log.Error("Error running periodic tests", "error", err)
				}

			case <-a.done:
				a.config.Log.Debug("Done signal received, stopping periodic runner")
				return

			case <-ctx.Done():
				a.config.Log.Debug("Context canceled, stopping periodic runner")
				a.running.Store(false)
				return
			}
		}
	}()
	a.config.Log.Debug("gridrunner started successfully")
	return nil
}

// runTests runs one full pass over the configured spec paths.
func (a *App) runTests(ctx context.Context) (bool, error) {
	success, err := a.coordinator.Run(ctx, a.config.SpecPaths, RunOptions{
		Browsers: a.config.Browsers,
		Grep:     a.config.Grep,
	})
	if err != nil {
		return false, err
	}
	if result := a.lastResult.Load(); result != nil {
		printResultsTable(result)
		a.config.Log.Info("Test run completed", "run_id", result.RunID, "status", result.Status)
	}
	return success, nil
}

func (a *App) summarize() string {
	result := a.lastResult.Load()
	if result == nil {
		return "run produced no result"
	}
	return fmt.Sprintf("%d/%d tests failed (run %s)", result.Stats.Failed, result.Stats.Total, result.RunID)
}

// Stop stops the gridrunner service: the awaited exit notification runs to
// completion, then the active run (if any) is cancelled.
// Stop implements the cliapp.Lifecycle interface.
func (a *App) Stop(ctx context.Context) error {
	a.config.Log.Info("Stopping gridrunner")

	if !a.running.Load() {
		a.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}

	// Every exit listener completes before the process may terminate.
	if err := a.coordinator.Events().EmitAwaited(ctx, events.Exit, nil); err != nil {
		a.config.Log.Error("Exit listener failed", "error", err)
	}

	a.coordinator.Halt(errors.New("shutdown requested"), a.config.ShutdownTimeout)

	if err := a.addons.Stop(ctx); err != nil {
		a.config.Log.Error("Failed to stop addons", "error", err)
	}

	a.running.Store(false)
	close(a.done)

	a.config.Log.Info("gridrunner stopped successfully")
	return nil
}

// Stopped returns true if the gridrunner service is stopped.
// Stopped implements the cliapp.Lifecycle interface.
func (a *App) Stopped() bool {
	return !a.running.Load()
}

// WaitForShutdown blocks until all goroutines have terminated.
// This is useful in tests to ensure complete cleanup before moving to the next test.
func (a *App) WaitForShutdown(ctx context.Context) error {
	a.config.Log.Debug("Waiting for all goroutines to terminate")

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.config.Log.Debug("All goroutines terminated successfully")
		return nil
	case <-ctx.Done():
		a.config.Log.Warn("Timed out waiting for goroutines to terminate", "error", ctx.Err())
		return ctx.Err()
	}
}
