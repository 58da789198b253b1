package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for the Planner's round loop, retargeted
// from the platform's aleutian.tdg naming to this domain.
var (
	tracer = otel.Tracer("comet.planner")
	meter  = otel.Meter("comet.planner")
)

var (
	roundLatency     metric.Float64Histogram
	roundsTotal      metric.Int64Counter
	actionsChosen    metric.Int64Counter
	llmCallsTotal    metric.Int64Counter
	mutantsGenerated metric.Int64Counter
	mutantsKilled    metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		roundLatency, err = meter.Float64Histogram(
			"comet_round_duration_seconds",
			metric.WithDescription("Duration of a single planner round"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		roundsTotal, err = meter.Int64Counter(
			"comet_rounds_total",
			metric.WithDescription("Total number of planner rounds run"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		actionsChosen, err = meter.Int64Counter(
			"comet_actions_chosen_total",
			metric.WithDescription("Total number of actions chosen by the decision tree, by action"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		llmCallsTotal, err = meter.Int64Counter(
			"comet_llm_calls_total",
			metric.WithDescription("Total number of LLM calls issued by the planner"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		mutantsGenerated, err = meter.Int64Counter(
			"comet_mutants_generated_total",
			metric.WithDescription("Total number of mutants generated"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		mutantsKilled, err = meter.Int64Counter(
			"comet_mutants_killed_total",
			metric.WithDescription("Total number of mutants killed by an evaluation run"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// StartRoundSpan opens a span covering one planner round.
func StartRoundSpan(ctx context.Context, round int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Planner.Round",
		trace.WithAttributes(attribute.Int("comet.round", round)),
	)
}

// EndRoundSpan closes a round span and records its latency and action mix.
func EndRoundSpan(ctx context.Context, span trace.Span, round int, duration time.Duration, action string) {
	span.SetAttributes(attribute.String("comet.action", action))
	span.End()

	if err := initMetrics(); err != nil {
		return
	}
	roundLatency.Record(ctx, duration.Seconds())
	roundsTotal.Add(ctx, 1)
	actionsChosen.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

// RecordLLMCall increments the LLM call counter, tagged by the prompt kind
// (e.g. "generate_tests", "generate_mutants", "refine_tests").
func RecordLLMCall(ctx context.Context, promptKind string) {
	if err := initMetrics(); err != nil {
		return
	}
	llmCallsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("prompt", promptKind)))
}

// RecordMutantsGenerated increments the generated-mutant counter by count
// for target.
func RecordMutantsGenerated(ctx context.Context, target string, count int) {
	if count <= 0 {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	mutantsGenerated.Add(ctx, int64(count), metric.WithAttributes(attribute.String("target", target)))
}

// RecordMutantsKilled increments the killed-mutant counter by count for
// target.
func RecordMutantsKilled(ctx context.Context, target string, count int) {
	if count <= 0 {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	mutantsKilled.Add(ctx, int64(count), metric.WithAttributes(attribute.String("target", target)))
}

// RecordMutantEvaluation emits a zero-length span for one mutant's
// evaluation outcome. The planner records it after EvaluateTarget
// returns, and EvaluateTarget reports no per-mutant timing, so there is no
// real per-mutant wall-clock to attach; this still gives a trace a span per mutant, matching the
// round span's granularity, with the mutant's terminal status attached
// as an attribute rather than fabricated timing.
func RecordMutantEvaluation(ctx context.Context, target, mutantID, status string) {
	_, span := tracer.Start(ctx, "Planner.MutantEvaluation",
		trace.WithAttributes(
			attribute.String("comet.target", target),
			attribute.String("comet.mutant_id", mutantID),
			attribute.String("comet.mutant_status", status),
		),
	)
	span.End()
}
