// internal/chaos/chaos.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrSteadyStateInvalid aborts an experiment whose probes fail before any
// fault has been injected.
var ErrSteadyStateInvalid = errors.New("steady state invalid")

// Experiment checks a hypothesis about how the lending engine behaves while
// storage faults are active.
type Experiment struct {
	Name       string
	Hypothesis string
	// SteadyState probes must pass before Method runs and again after Rollback.
	SteadyState []Probe
	Method      []Action
	Rollback    []Action
}

// Probe returns an error when the invariant it checks does not hold.
type Probe struct {
	Name  string
	Check func(context.Context) error
}

// Action performs one step of an experiment, such as arming a fault or
// driving an engine operation.
type Action struct {
	Name    string
	Execute func(context.Context) error
}

type Violation struct {
	Probe string `json:"probe"`
	Phase string `json:"phase"`
	Error string `json:"error"`
}

type ErrorEvent struct {
	Action string    `json:"action"`
	Error  string    `json:"error"`
	At     time.Time `json:"at"`
}

type Result struct {
	Experiment     string        `json:"experiment"`
	StartTime      time.Time     `json:"start_time"`
	Duration       time.Duration `json:"duration"`
	HypothesisHeld bool          `json:"hypothesis_held"`
	Violations     []Violation   `json:"violations"`
	ErrorEvents    []ErrorEvent  `json:"error_events"`
}

// Engine runs experiments and keeps their results.
type Engine struct {
	tracer      trace.Tracer
	logger      *slog.Logger
	mu          sync.Mutex
	experiments []Experiment
	results     []Result
}

func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		tracer: otel.Tracer("libralend/chaos"),
		logger: logger,
	}
}

func (e *Engine) Register(exp Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiments = append(e.experiments, exp)
}

func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Experiment(nil), e.experiments...)
}

func (e *Engine) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Result(nil), e.results...)
}

// Run executes a single experiment: validate steady state, inject, roll
// back, then validate steady state again. The hypothesis holds when every
// action succeeded and the final probes pass.
func (e *Engine) Run(ctx context.Context, exp Experiment) (Result, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(attribute.String("experiment.name", exp.Name)),
	)
	defer span.End()

	result := Result{Experiment: exp.Name, StartTime: time.Now()}

	span.AddEvent("validating_steady_state")
	if v := probe(ctx, exp.SteadyState, "before"); len(v) > 0 {
		result.Violations = v
		result.Duration = time.Since(result.StartTime)
		e.record(result)
		span.SetStatus(codes.Error, "steady state invalid")
		return result, fmt.Errorf("%s: %w", exp.Name, ErrSteadyStateInvalid)
	}

	span.AddEvent("injecting_chaos")
	result.ErrorEvents = append(result.ErrorEvents, execute(ctx, span, exp.Method)...)

	span.AddEvent("rolling_back")
	result.ErrorEvents = append(result.ErrorEvents, execute(ctx, span, exp.Rollback)...)

	span.AddEvent("validating_hypothesis")
	result.Violations = probe(ctx, exp.SteadyState, "after")
	result.HypothesisHeld = len(result.Violations) == 0 && len(result.ErrorEvents) == 0
	result.Duration = time.Since(result.StartTime)

	e.record(result)

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)
	return result, nil
}

func (e *Engine) record(result Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results = append(e.results, result)
}

// RunAll executes every registered experiment in order and reports whether
// all hypotheses held.
func (e *Engine) RunAll(ctx context.Context) (bool, error) {
	allHeld := true
	for i, exp := range e.Experiments() {
		e.logger.InfoContext(ctx, "running experiment",
			"index", i+1, "experiment", exp.Name, "hypothesis", exp.Hypothesis)

		result, err := e.Run(ctx, exp)
		if err != nil {
			return false, err
		}
		if !result.HypothesisHeld {
			allHeld = false
			for _, v := range result.Violations {
				e.logger.ErrorContext(ctx, "hypothesis violated",
					"experiment", exp.Name, "probe", v.Probe, "error", v.Error)
			}
			for _, ev := range result.ErrorEvents {
				e.logger.ErrorContext(ctx, "action failed",
					"experiment", exp.Name, "action", ev.Action, "error", ev.Error)
			}
			continue
		}
		e.logger.InfoContext(ctx, "hypothesis held",
			"experiment", exp.Name, "duration", result.Duration)
	}
	return allHeld, nil
}

func probe(ctx context.Context, probes []Probe, phase string) []Violation {
	var out []Violation
	for _, p := range probes {
		if err := p.Check(ctx); err != nil {
			out = append(out, Violation{Probe: p.Name, Phase: phase, Error: err.Error()})
		}
	}
	return out
}

func execute(ctx context.Context, span trace.Span, actions []Action) []ErrorEvent {
	var out []ErrorEvent
	for _, a := range actions {
		if err := a.Execute(ctx); err != nil {
			span.RecordError(err)
			out = append(out, ErrorEvent{Action: a.Name, Error: err.Error(), At: time.Now()})
		}
	}
	return out
}
