package chaos

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"libralend/internal/store"
)

func TestFaultyStoreInjectOnce(t *testing.T) {
	ctx := context.Background()
	s := Wrap(store.NewMemoryStore())

	s.InjectOnce(OpCreateBook, nil)
	err := s.CreateBook(ctx, store.BookRecord{ID: 1, Title: "A", Copies: 1})
	assert.ErrorIs(t, err, ErrInjected)

	require.NoError(t, s.CreateBook(ctx, store.BookRecord{ID: 1, Title: "A", Copies: 1}))
	assert.Equal(t, 1, s.Hits(OpCreateBook))
}

func TestFaultyStoreInjectUntilCleared(t *testing.T) {
	ctx := context.Background()
	s := Wrap(store.NewMemoryStore())
	custom := errors.New("disk full")

	s.Inject(OpScanBooks, custom)
	for i := 0; i < 3; i++ {
		_, err := s.ScanBooks(ctx)
		assert.ErrorIs(t, err, custom)
	}
	s.Clear()

	_, err := s.ScanBooks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Hits(OpScanBooks))
}

func TestFaultyStoreRollsBackTransaction(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	s := Wrap(mem)
	require.NoError(t, mem.CreateBook(ctx, store.BookRecord{ID: 1, Title: "A", Copies: 2}))

	for _, op := range []string{OpUpdateBookCopies, OpCommit} {
		s.InjectOnce(op, nil)
		err := s.WithinTx(ctx, func(q store.Queries) error {
			if err := q.CreateBorrowRecord(ctx, store.BorrowRecord{UserID: 9, BookID: 1}); err != nil {
				return err
			}
			return q.UpdateBookCopies(ctx, 1, 1)
		})
		require.ErrorIs(t, err, ErrInjected, op)

		b, err := mem.GetBook(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 2, b.Copies, op)
		records, err := mem.ScanBorrowRecords(ctx)
		require.NoError(t, err)
		assert.Empty(t, records, op)
	}

	s.InjectOnce(OpBegin, nil)
	called := false
	err := s.WithinTx(ctx, func(store.Queries) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrInjected)
	assert.False(t, called, "a failed begin never runs the body")
}

func TestFaultyStoreRecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	s := Wrap(store.NewMemoryStore())
	s.tracer = provider.Tracer("test")

	s.InjectOnce(OpEvents, nil)
	_, err := s.Events(context.Background(), store.AggregateBook, 1)
	require.ErrorIs(t, err, ErrInjected)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "chaos.inject_fault", spans[0].Name())
}

func TestEngineRun(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(slog.New(slog.DiscardHandler))

	healthy := true
	probe := Probe{Name: "healthy", Check: func(context.Context) error {
		if !healthy {
			return errors.New("unhealthy")
		}
		return nil
	}}

	engine.Register(Experiment{
		Name:        "recovers",
		SteadyState: []Probe{probe},
		Method:      []Action{{Name: "break", Execute: func(context.Context) error { healthy = false; return nil }}},
		Rollback:    []Action{{Name: "fix", Execute: func(context.Context) error { healthy = true; return nil }}},
	})
	engine.Register(Experiment{
		Name:        "stays-broken",
		SteadyState: []Probe{probe},
		Method:      []Action{{Name: "break", Execute: func(context.Context) error { healthy = false; return nil }}},
	})

	held, err := engine.RunAll(ctx)
	require.NoError(t, err)
	assert.False(t, held)

	results := engine.Results()
	require.Len(t, results, 2)
	assert.True(t, results[0].HypothesisHeld)
	assert.False(t, results[1].HypothesisHeld)
	require.Len(t, results[1].Violations, 1)
	assert.Equal(t, "after", results[1].Violations[0].Phase)
}

func TestEngineFailedActionBreaksHypothesis(t *testing.T) {
	engine := NewEngine(nil)
	result, err := engine.Run(context.Background(), Experiment{
		Name:   "action-fails",
		Method: []Action{{Name: "boom", Execute: func(context.Context) error { return errors.New("boom") }}},
	})
	require.NoError(t, err)
	assert.False(t, result.HypothesisHeld)
	require.Len(t, result.ErrorEvents, 1)
	assert.Equal(t, "boom", result.ErrorEvents[0].Action)
}

func TestEngineAbortsOnInvalidSteadyState(t *testing.T) {
	engine := NewEngine(nil)
	ran := false
	_, err := engine.Run(context.Background(), Experiment{
		Name:        "pre-broken",
		SteadyState: []Probe{{Name: "never", Check: func(context.Context) error { return errors.New("down") }}},
		Method:      []Action{{Name: "inject", Execute: func(context.Context) error { ran = true; return nil }}},
	})
	assert.ErrorIs(t, err, ErrSteadyStateInvalid)
	assert.False(t, ran)

	results := engine.Results()
	require.Len(t, results, 1, "aborted experiments are still reported")
	assert.Equal(t, "pre-broken", results[0].Experiment)
	assert.False(t, results[0].HypothesisHeld)
	require.Len(t, results[0].Violations, 1)
	assert.Equal(t, "before", results[0].Violations[0].Phase)
}

func TestRunAllStopsOnInvalidSteadyState(t *testing.T) {
	engine := NewEngine(nil)
	second := false
	engine.Register(Experiment{
		Name:        "pre-broken",
		SteadyState: []Probe{{Name: "never", Check: func(context.Context) error { return errors.New("down") }}},
	})
	engine.Register(Experiment{
		Name:   "after",
		Method: []Action{{Name: "mark", Execute: func(context.Context) error { second = true; return nil }}},
	})

	held, err := engine.RunAll(context.Background())
	require.ErrorIs(t, err, ErrSteadyStateInvalid)
	assert.False(t, held)
	assert.False(t, second)
	assert.Len(t, engine.Results(), 1)
}
