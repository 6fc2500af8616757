package extensions

import (
	"context"
	"time"

	"go.uber.org/zap"

	rollcore "github.com/pyroll-project/pyroll-core-sub000"
)

// LoggingExtension logs unit solves, and hook computations when verbose.
type LoggingExtension struct {
	rollcore.BaseExtension
	logger  *zap.Logger
	resolve bool
}

// NewLoggingExtension creates a logging extension writing to logger. With
// resolve set every fresh hook computation is logged too.
func NewLoggingExtension(logger *zap.Logger, resolve bool) *LoggingExtension {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingExtension{
		BaseExtension: rollcore.NewBaseExtension("logging"),
		logger:        logger,
		resolve:       resolve,
	}
}

func (e *LoggingExtension) Wrap(ctx context.Context, next func() (any, error), op *rollcore.Operation) (any, error) {
	if op.Kind == rollcore.OpResolve && !e.resolve {
		return next()
	}

	fields := operationFields(op)
	start := time.Now()
	e.logger.Debug(string(op.Kind)+" starting", fields...)
	result, err := next()

	fields = append(fields, zap.Duration("duration", time.Since(start)))
	if err != nil {
		e.logger.Debug(string(op.Kind)+" failed", append(fields, zap.Error(err))...)
	} else if op.Kind == rollcore.OpSolve {
		e.logger.Info("solve completed", append(fields,
			zap.Int("iterations", op.Unit.Iterations()),
			zap.Bool("converged", op.Unit.Converged()),
		)...)
	} else {
		e.logger.Debug(string(op.Kind)+" completed", fields...)
	}

	return result, err
}

func operationFields(op *rollcore.Operation) []zap.Field {
	switch op.Kind {
	case rollcore.OpSolve:
		return []zap.Field{
			zap.String("unit", op.Unit.Label()),
			zap.String("type", op.Unit.Kind().Name()),
			zap.String("run_id", op.RunID),
		}
	case rollcore.OpResolve:
		return []zap.Field{
			zap.String("host", op.Host.Label()),
			zap.String("hook", op.Hook),
		}
	}
	return nil
}
