package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

const EnvVarPrefix = "TESTADAPT"

// prefixEnvVars derives the environment variable mirror of a flag.
func prefixEnvVars(name string) []string {
	return []string{EnvVarPrefix + "_" + name}
}

var (
	RunnableConfig = &cli.StringFlag{
		Name:     "runnables",
		Value:    "",
		Required: true,
		EnvVars:  prefixEnvVars("RUNNABLES"),
		Usage:    "Path to runnable config file (eg. 'runnables.yaml')",
	}
	Filter = &cli.StringSliceFlag{
		Name:    "filter",
		EnvVars: prefixEnvVars("FILTER"),
		Usage:   "Test identities to run (repeatable). Omit to run everything.",
	}
	Runnable = &cli.StringFlag{
		Name:    "runnable",
		Value:   "",
		EnvVars: prefixEnvVars("RUNNABLE"),
		Usage:   "Limit the run to one configured runnable id",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: prefixEnvVars("RUN_INTERVAL"),
		Usage:   "Interval between test runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	Concurrency = &cli.IntFlag{
		Name:    "concurrency",
		Value:   4,
		EnvVars: prefixEnvVars("CONCURRENCY"),
		Usage:   "Maximum number of test processes spawned concurrently across all runnables",
	}
	RunTimeout = &cli.DurationFlag{
		Name:    "run-timeout",
		Value:   0,
		EnvVars: prefixEnvVars("RUN_TIMEOUT"),
		Usage:   "Default per-process run budget for runnables that do not set their own",
	}
	WatchExecutables = &cli.BoolFlag{
		Name:    "watch",
		Value:   false,
		EnvVars: prefixEnvVars("WATCH"),
		Usage:   "Watch executables on disk and mark them for re-discovery when they change",
	}
	LogLevel = &cli.StringFlag{
		Name:    "log-level",
		Value:   "info",
		EnvVars: prefixEnvVars("LOG_LEVEL"),
		Usage:   "Log level: trace, debug, info, warn, error, crit",
	}
	LogColor = &cli.BoolFlag{
		Name:    "log-color",
		Value:   false,
		EnvVars: prefixEnvVars("LOG_COLOR"),
		Usage:   "Colorize log output",
	}
	Seed = &cli.Int64Flag{
		Name:    "seed",
		Value:   0,
		EnvVars: prefixEnvVars("SEED"),
		Usage:   "Override the ordering seed for runnables with a fixed seed policy",
	}
)

var requiredFlags = []cli.Flag{
	RunnableConfig,
}

var optionalFlags = []cli.Flag{
	Filter,
	Runnable,
	RunInterval,
	Concurrency,
	RunTimeout,
	WatchExecutables,
	LogLevel,
	LogColor,
	Seed,
}

var Flags []cli.Flag

func init() {
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
