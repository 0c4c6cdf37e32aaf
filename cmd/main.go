package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	testadapt "github.com/testadapt/testadapt"
	"github.com/testadapt/testadapt/flags"
	"github.com/testadapt/testadapt/service"
)

var (
	Version   = "v0.3.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "testadapt"
	app.Usage = "Native Test Executable Adaptation Service"
	app.Description = "testadapt discovers and runs tests from native test executables"
	app.Flags = flags.Flags
	app.Action = run
	app.ExitErrHandler = func(c *cli.Context, err error) {
		if err == nil {
			return
		}
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(exitErr)
			return
		}
		// Failing tests exit 1; operational problems exit 2.
		code := 2
		if errors.Is(err, testadapt.ErrTestsFailed) {
			code = 1
		}
		cli.HandleExitCoder(cli.Exit(err.Error(), code))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start healthz and metrics servers
	svc := service.New(service.Config{Log: log.Root()})
	svc.Start()
	defer func() { _ = svc.Shutdown() }()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func run(ctx *cli.Context) error {
	logger, err := setupLogger(ctx)
	if err != nil {
		return err
	}

	cfg, err := testadapt.NewConfig(ctx, logger)
	if err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}

	app, err := testadapt.New(ctx.Context, cfg, Version)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	if err := app.Start(ctx.Context); err != nil {
		return err
	}
	if cfg.RunOnce {
		return nil
	}

	// Continuous mode blocks until interrupted.
	<-ctx.Context.Done()
	if err := app.Stop(context.Background()); err != nil {
		return fmt.Errorf("failed to stop service: %w", err)
	}
	return app.WaitForShutdown(context.Background())
}

func setupLogger(ctx *cli.Context) (log.Logger, error) {
	level, err := oplog.LevelFromString(ctx.String(flags.LogLevel.Name))
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	handler := log.NewTerminalHandlerWithLevel(os.Stderr, level, ctx.Bool(flags.LogColor.Name))
	logger := log.NewLogger(handler)
	log.SetDefault(logger)
	return logger, nil
}
