// cmd/library/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"libralend/internal/circulation"
	"libralend/internal/config"
	"libralend/internal/console"
	"libralend/internal/store"
	"libralend/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "library: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Logs go to stderr so they never interleave with the menu on stdout.
	logger, err := telemetry.NewLogger(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return err
	}

	shutdown, err := telemetry.SetupTracing(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("tracer shutdown failed", "error", err)
		}
	}()

	st, err := store.Open(ctx, cfg.Postgres(), logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("store close failed", "error", err)
		}
	}()

	svc, err := circulation.NewService(ctx, st, circulation.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("start lending engine: %w", err)
	}

	return console.New(svc, os.Stdin, os.Stdout).Run(ctx)
}
