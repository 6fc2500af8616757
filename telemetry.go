package rollcore

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for solve operations.
var (
	tracer = otel.Tracer("rollcore.solve")
	meter  = otel.Meter("rollcore.solve")
)

var (
	solveLatency    metric.Float64Histogram
	solveIterations metric.Int64Histogram
	solveTotal      metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		solveLatency, err = meter.Float64Histogram(
			"rollcore_solve_duration_seconds",
			metric.WithDescription("Duration of unit solves"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		solveIterations, err = meter.Int64Histogram(
			"rollcore_solve_iterations",
			metric.WithDescription("Iterations used per unit solve"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		solveTotal, err = meter.Int64Counter(
			"rollcore_solve_total",
			metric.WithDescription("Total unit solves by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startSolveSpan(ctx context.Context, u *Unit, runID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Unit.Solve",
		trace.WithAttributes(
			attribute.String("unit.label", u.Label()),
			attribute.String("unit.type", u.utype.name),
			attribute.String("solve.run_id", runID),
		),
	)
}

func endSolveSpan(span trace.Span, u *Unit, err error) {
	span.SetAttributes(
		attribute.Int("solve.iterations", u.iterations),
		attribute.Bool("solve.converged", u.converged),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func recordSolveMetrics(ctx context.Context, u *Unit, duration time.Duration, status SolveStatus) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("unit_type", u.utype.name),
		attribute.String("status", string(status)),
	)
	solveLatency.Record(ctx, duration.Seconds(), attrs)
	solveIterations.Record(ctx, int64(u.iterations), attrs)
	solveTotal.Add(ctx, 1, attrs)
}
