// cmd/chaos/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"libralend/internal/chaos"
	"libralend/internal/circulation"
	"libralend/internal/config"
	"libralend/internal/store"
	"libralend/internal/telemetry"
)

// Experiments always run against a fresh in-memory library so they never
// touch real loans.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "chaos: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := telemetry.NewLogger(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return err
	}
	shutdown, err := telemetry.SetupTracing(ctx, cfg.ServiceName+"-chaos", cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	faulty := chaos.Wrap(store.NewMemoryStore())
	defer faulty.Close()

	svc, err := circulation.NewService(ctx, faulty, circulation.WithLogger(logger))
	if err != nil {
		return err
	}
	l, err := newLab(ctx, faulty, svc)
	if err != nil {
		return fmt.Errorf("seed library: %w", err)
	}

	engine := chaos.NewEngine(logger)
	l.register(engine)

	held, err := engine.RunAll(ctx)
	if err != nil {
		return err
	}
	if !held {
		return fmt.Errorf("%d experiments ran, at least one hypothesis was violated", len(engine.Results()))
	}
	logger.Info("all hypotheses held", "experiments", len(engine.Results()))
	return nil
}
