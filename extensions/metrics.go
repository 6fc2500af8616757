package extensions

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	rollcore "github.com/pyroll-project/pyroll-core-sub000"
)

// MetricsExtension counts hook computations and unit solves in a Prometheus
// registry.
type MetricsExtension struct {
	rollcore.BaseExtension
	registry *prometheus.Registry

	resolveTotal  *prometheus.CounterVec
	solveTotal    *prometheus.CounterVec
	solveDuration *prometheus.HistogramVec
	iterations    *prometheus.HistogramVec
}

// NewMetricsExtension creates the extension with its own registry.
func NewMetricsExtension() *MetricsExtension {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &MetricsExtension{
		BaseExtension: rollcore.NewBaseExtension("metrics"),
		registry:      reg,
		resolveTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcore_hook_resolutions_total",
			Help: "Fresh hook computations by hook and outcome",
		}, []string{"hook", "outcome"}),
		solveTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcore_unit_solves_total",
			Help: "Unit solves by unit type and outcome",
		}, []string{"unit_type", "outcome"}),
		solveDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rollcore_unit_solve_duration_seconds",
			Help:    "Duration of unit solves",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"unit_type"}),
		iterations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rollcore_unit_solve_iterations",
			Help:    "Iterations used per unit solve",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 50, 100},
		}, []string{"unit_type"}),
	}
}

// Registry returns the registry holding the extension's collectors.
func (e *MetricsExtension) Registry() *prometheus.Registry {
	return e.registry
}

// Order places metrics inside logging and debugging.
func (e *MetricsExtension) Order() int {
	return 200
}

func (e *MetricsExtension) Wrap(ctx context.Context, next func() (any, error), op *rollcore.Operation) (any, error) {
	start := time.Now()
	result, err := next()

	switch op.Kind {
	case rollcore.OpResolve:
		e.resolveTotal.WithLabelValues(op.Hook, outcome(err)).Inc()
	case rollcore.OpSolve:
		typ := op.Unit.Kind().Name()
		e.solveTotal.WithLabelValues(typ, solveOutcome(op.Unit, err)).Inc()
		e.solveDuration.WithLabelValues(typ).Observe(time.Since(start).Seconds())
		if err == nil {
			e.iterations.WithLabelValues(typ).Observe(float64(op.Unit.Iterations()))
		}
	}
	return result, err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, rollcore.ErrCycle):
		return "cycle"
	case errors.Is(err, rollcore.ErrNoValue):
		return "no_value"
	case errors.Is(err, rollcore.ErrNonFinite):
		return "non_finite"
	}
	return "error"
}

func solveOutcome(u *rollcore.Unit, err error) string {
	switch {
	case err == nil && u.Converged():
		return "converged"
	case err == nil:
		return "unconverged"
	case errors.Is(err, rollcore.ErrIterationLimit):
		return "iteration_limit"
	}
	return "failed"
}
