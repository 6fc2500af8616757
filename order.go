package rollcore

import (
	"math"
	"reflect"
)

// Priority places an implementation within its hook level.
type Priority int

const (
	// PriorityNormal candidates run after every try-first candidate.
	PriorityNormal Priority = iota
	// PriorityFirst candidates run before all others, at every type level.
	PriorityFirst
	// PriorityLast candidates run after all others, at every type level.
	PriorityLast
)

func (p Priority) String() string {
	switch p {
	case PriorityFirst:
		return "try-first"
	case PriorityLast:
		return "try-last"
	default:
		return "normal"
	}
}

func (p Priority) rank() int {
	switch p {
	case PriorityFirst:
		return 0
	case PriorityLast:
		return 2
	default:
		return 1
	}
}

type implMeta struct {
	name       string
	priority   Priority
	cycleAware bool
}

// ImplOption configures an implementation at registration.
type ImplOption func(*implMeta)

// TryFirst places the implementation before all normal ones.
func TryFirst() ImplOption {
	return WithPriority(PriorityFirst)
}

// TryLast places the implementation after all normal ones.
func TryLast() ImplOption {
	return WithPriority(PriorityLast)
}

// WithPriority sets an explicit priority level.
func WithPriority(p Priority) ImplOption {
	return func(m *implMeta) { m.priority = p }
}

// CycleAware marks the implementation as able to terminate a re-entrant read
// of its own hook. Only cycle-aware candidates run when ResolveCtx.Cycle is set.
func CycleAware() ImplOption {
	return func(m *implMeta) { m.cycleAware = true }
}

// Named attaches a diagnostic name.
func Named(name string) ImplOption {
	return func(m *implMeta) { m.name = name }
}

// arrange orders the candidates of all levels. Priority dominates; within a
// priority the most derived level comes first and within a level the most
// recently registered implementation comes first. Wrappers follow the same
// order, the first one being outermost.
func arrange[T any](levels [][]*implementation[T]) (plain, wrappers []*implementation[T]) {
	for rank := 0; rank < 3; rank++ {
		for _, lvl := range levels {
			for i := len(lvl) - 1; i >= 0; i-- {
				im := lvl[i]
				if im.priority.rank() != rank {
					continue
				}
				if im.isWrapper() {
					wrappers = append(wrappers, im)
				} else {
					plain = append(plain, im)
				}
			}
		}
	}
	return plain, wrappers
}

func isFinite(v any) bool {
	switch x := v.(type) {
	case float64:
		return !math.IsNaN(x) && !math.IsInf(x, 0)
	case float32:
		f := float64(x)
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	return true
}

func isNumberKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// toFloat converts numeric values for convergence comparison.
func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return 0, false
	}
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	}
	return 0, false
}
