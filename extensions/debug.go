package extensions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	rollcore "github.com/pyroll-project/pyroll-core-sub000"
)

// DefaultTrackedHosts bounds the hosts a DebugExtension remembers.
const DefaultTrackedHosts = 256

// DebugExtension logs what a host had resolved when one of its hooks fails,
// and the chain of stages when a solve fails.
//
// Usage:
//
//	logger, _ := zap.NewDevelopment()
//	rollcore.UseExtension(extensions.NewDebugExtension(logger))
//
// Missing values are logged at debug level since rules routinely probe for
// them. Every other failure is logged at error level.
type DebugExtension struct {
	rollcore.BaseExtension
	logger *zap.Logger
	limit  int

	mu    sync.Mutex
	hosts map[*rollcore.Host]*hostTrace
	order []*rollcore.Host
}

type hostTrace struct {
	label  string
	hooks  []string
	status map[string]error
}

// NewDebugExtension creates a debug extension writing to logger.
func NewDebugExtension(logger *zap.Logger) *DebugExtension {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DebugExtension{
		BaseExtension: rollcore.NewBaseExtension("debug"),
		logger:        logger,
		limit:         DefaultTrackedHosts,
		hosts:         make(map[*rollcore.Host]*hostTrace),
	}
}

// Order places the extension outside the others so it sees their failures.
func (e *DebugExtension) Order() int {
	return 10
}

// Wrap tracks hook computations per host
func (e *DebugExtension) Wrap(ctx context.Context, next func() (any, error), op *rollcore.Operation) (any, error) {
	result, err := next()
	if op.Kind == rollcore.OpResolve {
		e.track(op.Host, op.Hook, err)
	}
	return result, err
}

func (e *DebugExtension) track(h *rollcore.Host, hook string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tr, ok := e.hosts[h]
	if !ok {
		tr = &hostTrace{label: h.Label(), status: make(map[string]error)}
		e.hosts[h] = tr
		e.order = append(e.order, h)
		if len(e.order) > e.limit {
			delete(e.hosts, e.order[0])
			e.order = e.order[1:]
		}
	}
	if _, seen := tr.status[hook]; !seen {
		tr.hooks = append(tr.hooks, hook)
	}
	tr.status[hook] = err
}

// OnError logs the failure with its context
func (e *DebugExtension) OnError(err error, op *rollcore.Operation) {
	switch op.Kind {
	case rollcore.OpResolve:
		fields := []zap.Field{
			zap.String("host", op.Host.Label()),
			zap.String("hook", op.Hook),
			zap.Error(err),
			zap.String("resolution", e.formatHost(op.Host, op.Hook)),
		}
		if errors.Is(err, rollcore.ErrNoValue) && !errors.Is(err, rollcore.ErrCycle) {
			e.logger.Debug("hook has no value", fields...)
			return
		}
		e.logger.Error("hook resolution failed", fields...)

	case rollcore.OpSolve:
		e.logger.Error("unit solve failed",
			zap.String("unit", op.Unit.Label()),
			zap.String("run_id", op.RunID),
			zap.Strings("stages", rollcore.StagePath(err)),
			zap.Error(err),
		)
	}
}

func (e *DebugExtension) formatHost(h *rollcore.Host, failed string) string {
	deps := h.Dependencies()

	e.mu.Lock()
	defer e.mu.Unlock()

	tr, ok := e.hosts[h]
	if !ok {
		return "(nothing resolved)"
	}

	var sb strings.Builder
	sb.WriteString(tr.label)
	sb.WriteString("\n")
	for i, hook := range tr.hooks {
		branch := "├─"
		if i == len(tr.hooks)-1 {
			branch = "└─"
		}
		mark := "ok"
		if hook == failed {
			mark = "FAILED"
		} else if err := tr.status[hook]; err != nil {
			mark = fmt.Sprintf("error: %v", err)
		}
		if reads := deps[hook]; len(reads) > 0 {
			mark += ", reads " + strings.Join(reads, ", ")
		}
		fmt.Fprintf(&sb, "  %s %s (%s)\n", branch, hook, mark)
	}
	return sb.String()
}

// Tracked returns the number of hosts currently remembered.
func (e *DebugExtension) Tracked() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.hosts)
}

// Dispose forgets everything tracked.
func (e *DebugExtension) Dispose() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hosts = make(map[*rollcore.Host]*hostTrace)
	e.order = nil
	return nil
}
