package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libralend/internal/chaos"
	"libralend/internal/circulation"
	"libralend/internal/store"
)

func TestLendingExperimentsHold(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	faulty := chaos.Wrap(store.NewMemoryStore())
	svc, err := circulation.NewService(ctx, faulty, circulation.WithLogger(logger))
	require.NoError(t, err)
	l, err := newLab(ctx, faulty, svc)
	require.NoError(t, err)

	engine := chaos.NewEngine(logger)
	l.register(engine)

	held, err := engine.RunAll(ctx)
	require.NoError(t, err)
	for _, r := range engine.Results() {
		assert.True(t, r.HypothesisHeld, "%s: violations %v, errors %v", r.Experiment, r.Violations, r.ErrorEvents)
	}
	assert.True(t, held)
	assert.Len(t, engine.Results(), 4)
}
