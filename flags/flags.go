package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "GRIDRUNNER"

var (
	Spec = &cli.StringSliceFlag{
		Name:     "spec",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "SPEC"),
		Usage:    "Test manifest file or glob pattern (repeatable)",
	}
	BrowserConfig = &cli.StringFlag{
		Name:     "browsers-config",
		Value:    "",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "BROWSERS_CONFIG"),
		Usage:    "Path to browser config file (eg. 'browsers.yaml')",
	}
	Browser = &cli.StringSliceFlag{
		Name:    "browser",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "BROWSER"),
		Usage:   "Browser identifier to run on (repeatable; default: all configured)",
	}
	Grep = &cli.StringFlag{
		Name:    "grep",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GREP"),
		Usage:   "Run only tests whose full title matches the pattern",
	}
	GridURL = &cli.StringFlag{
		Name:    "grid-url",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GRID_URL"),
		Usage:   "Remote grid endpoint; overrides the browser config file",
	}
	Workers = &cli.IntFlag{
		Name:    "workers",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "WORKERS"),
		Usage:   "Number of concurrent test workers (0 = default)",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_INTERVAL"),
		Usage:   "Interval between test runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	ResultsDir = &cli.StringFlag{
		Name:    "results-dir",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RESULTS_DIR"),
		Usage:   "Directory for per-run report files (empty = no file reports)",
	}
	ShutdownTimeout = &cli.DurationFlag{
		Name:    "shutdown-timeout",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SHUTDOWN_TIMEOUT"),
		Usage:   "Force process exit if graceful shutdown exceeds this duration after a halt (0 = never force)",
	}
)

var requiredFlags = []cli.Flag{
	Spec,
	BrowserConfig,
}

var optionalFlags = []cli.Flag{
	Browser,
	Grep,
	GridURL,
	Workers,
	RunInterval,
	ResultsDir,
	ShutdownTimeout,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}
