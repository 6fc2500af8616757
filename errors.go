package rollcore

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoValue is matched by every failure where a hook produced no usable result.
	ErrNoValue = errors.New("no value available")
	// ErrNonFinite is matched when a computed numeric value is NaN or infinite.
	ErrNonFinite = errors.New("non-finite value")
	// ErrCycle is matched when a hook re-entered itself without a terminating rule.
	ErrCycle = errors.New("resolution cycle")
	// ErrIterationLimit is matched when a unit did not converge in its iteration budget.
	ErrIterationLimit = errors.New("iteration limit exceeded")
	// ErrUnknownAttribute is matched when a name does not denote a hook or field of a host.
	ErrUnknownAttribute = errors.New("unknown attribute")
	// ErrFrozen is matched when writing to an immutable snapshot.
	ErrFrozen = errors.New("host is frozen")
)

// NoValueError reports that a hook resolved to nothing on a host.
type NoValueError struct {
	Hook  string
	Host  string
	Cause error
}

func (e *NoValueError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s.%s: %v: %v", e.Host, e.Hook, ErrNoValue, e.Cause)
	}
	return fmt.Sprintf("%s.%s: %v", e.Host, e.Hook, ErrNoValue)
}

func (e *NoValueError) Is(target error) bool { return target == ErrNoValue }

func (e *NoValueError) Unwrap() error { return e.Cause }

// NonFiniteError reports a NaN or infinite computed value. Such values are never cached.
type NonFiniteError struct {
	Hook  string
	Host  string
	Value any
}

func (e *NonFiniteError) Error() string {
	return fmt.Sprintf("%s.%s: %v: %v", e.Host, e.Hook, ErrNonFinite, e.Value)
}

func (e *NonFiniteError) Is(target error) bool { return target == ErrNonFinite }

// CycleError reports a hook that re-entered itself while no cycle-aware rule could terminate it.
type CycleError struct {
	Hook string
	Host string
	// Resolving lists the hooks of Host that were mid-resolution when the cycle closed.
	Resolving []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s.%s: %v through [%s]; an input may be missing or plugins may conflict",
		e.Host, e.Hook, ErrCycle, strings.Join(e.Resolving, " -> "))
}

func (e *CycleError) Is(target error) bool { return target == ErrCycle || target == ErrNoValue }

// IterationLimitError reports a unit whose solve loop ran out of iterations.
type IterationLimitError struct {
	Unit       string
	Iterations int
	// Unconverged names the root hooks that still moved in the last iteration.
	Unconverged []string
}

func (e *IterationLimitError) Error() string {
	return fmt.Sprintf("unit %q: %v after %d iterations (unconverged: %s)",
		e.Unit, ErrIterationLimit, e.Iterations, strings.Join(e.Unconverged, ", "))
}

func (e *IterationLimitError) Is(target error) bool { return target == ErrIterationLimit }

// UnitError attributes a failure to the unit of a sequence it originated in.
type UnitError struct {
	Unit  string
	Type  string
	Index int
	Err   error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("unit #%d %q (%s): %v", e.Index, e.Unit, e.Type, e.Err)
}

func (e *UnitError) Unwrap() error { return e.Err }

// StagePath returns the labels of the units a failure passed through, outermost first.
func StagePath(err error) []string {
	var path []string
	for err != nil {
		var ue *UnitError
		if !errors.As(err, &ue) {
			break
		}
		path = append(path, ue.Unit)
		err = ue.Err
	}
	return path
}

func unknownAttribute(host, name string) error {
	return fmt.Errorf("%s.%s: %w", host, name, ErrUnknownAttribute)
}
