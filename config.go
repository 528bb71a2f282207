package gridrunner

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/webgrid-labs/gridrunner/flags"
)

// Config holds the application configuration
type Config struct {
	BrowserConfig   string        // Path to the browser registry file
	SpecPaths       []string      // Manifest files or glob patterns to run
	Browsers        []string      // Browser identifiers to run on (empty = all configured)
	Grep            string        // Pattern restricting tests by full title
	GridURL         string        // Remote grid endpoint; overrides the registry value
	Workers         int           // Worker fleet size
	RunInterval     time.Duration // Interval between runs; 0 means run once and exit
	RunOnce         bool          // Derived from RunInterval == 0
	ResultsDir      string        // Directory for per-run report files; empty disables them
	ShutdownTimeout time.Duration // Forced-exit timeout armed on halt; 0 disables forced exit
	Log             log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, logger log.Logger, browserConfig string, specPaths []string) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}
	if browserConfig == "" {
		return nil, errors.New("browser config file is required")
	}
	if len(specPaths) == 0 {
		return nil, errors.New("at least one spec path is required")
	}

	absBrowserConfig, err := filepath.Abs(browserConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for browser config '%s': %w", browserConfig, err)
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)

	return &Config{
		BrowserConfig:   absBrowserConfig,
		SpecPaths:       specPaths,
		Browsers:        ctx.StringSlice(flags.Browser.Name),
		Grep:            ctx.String(flags.Grep.Name),
		GridURL:         ctx.String(flags.GridURL.Name),
		Workers:         ctx.Int(flags.Workers.Name),
		RunInterval:     runInterval,
		RunOnce:         runInterval == 0,
		ResultsDir:      ctx.String(flags.ResultsDir.Name),
		ShutdownTimeout: ctx.Duration(flags.ShutdownTimeout.Name),
		Log:             logger,
	}, nil
}
