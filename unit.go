package rollcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultMaxIterations bounds the solve loop of a unit.
	DefaultMaxIterations = 100
	// DefaultPrecision is the relative tolerance of the convergence check.
	DefaultPrecision = 1e-2
)

// Host types shared by all units and their snapshots.
var (
	UnitHostType   = NewHostType("Unit", nil)
	InProfileType  = NewHostType("InProfile", ProfileType)
	OutProfileType = NewHostType("OutProfile", ProfileType)
)

// LimitPolicy decides what happens when a unit runs out of iterations.
type LimitPolicy int

const (
	// FailOnLimit makes Solve return an *IterationLimitError.
	FailOnLimit LimitPolicy = iota
	// WarnOnLimit logs a warning and returns the last iterate.
	WarnOnLimit
)

func (p LimitPolicy) String() string {
	if p == WarnOnLimit {
		return "warn"
	}
	return "fail"
}

// SubunitFactory builds the n sub-units of u.
type SubunitFactory func(u *Unit, n int) []*Unit

// UnitType is a kind of processing stage. Each unit type has its own host type
// and its own in- and out-profile types, so rules can target exactly the
// snapshots of one stage kind.
type UnitType struct {
	name     string
	parent   *UnitType
	host     *HostType
	in       *HostType
	out      *HostType
	subunits SubunitFactory
	sequence bool
}

// BaseUnit is the root of all unit types.
var BaseUnit = &UnitType{
	name: "Unit",
	host: UnitHostType,
	in:   InProfileType,
	out:  OutProfileType,
}

// UnitTypeOption configures a unit type.
type UnitTypeOption func(*UnitType)

// WithSubunits sets the factory used when a unit is split into disk elements.
func WithSubunits(f SubunitFactory) UnitTypeOption {
	return func(t *UnitType) { t.subunits = f }
}

// NewUnitType derives a unit type from parent (BaseUnit when nil).
func NewUnitType(name string, parent *UnitType, opts ...UnitTypeOption) *UnitType {
	if parent == nil {
		parent = BaseUnit
	}
	t := &UnitType{
		name:     name,
		parent:   parent,
		host:     NewHostType(name, parent.host),
		in:       NewHostType(name+".InProfile", parent.in),
		out:      NewHostType(name+".OutProfile", parent.out),
		sequence: parent.sequence,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *UnitType) Name() string { return t.name }

func (t *UnitType) Parent() *UnitType { return t.parent }

// HostType is the type of the unit hosts themselves.
func (t *UnitType) HostType() *HostType { return t.host }

// InType is the type of the unit's in-snapshots.
func (t *UnitType) InType() *HostType { return t.in }

// OutType is the type of the unit's out-snapshots.
func (t *UnitType) OutType() *HostType { return t.out }

// IsA reports whether t is other or derives from it.
func (t *UnitType) IsA(other *UnitType) bool {
	return t.host.IsA(other.host)
}

func (t *UnitType) factory() SubunitFactory {
	for cur := t; cur != nil; cur = cur.parent {
		if cur.subunits != nil {
			return cur.subunits
		}
	}
	return nil
}

// Elements returns a factory splitting a unit into n units of type t that
// inherit the parent's iteration controls.
func Elements(t *UnitType) SubunitFactory {
	return func(u *Unit, n int) []*Unit {
		out := make([]*Unit, n)
		for i := range out {
			out[i] = NewUnit(t, fmt.Sprintf("%s[%d]", u.Label(), i),
				WithMaxIterations(u.maxIterations),
				WithPrecision(u.precision),
				WithLimitPolicy(u.policy),
			)
		}
		return out
	}
}

// Unit is one stage of the process. It owns its snapshots and sub-units; the
// parent is only known by handle.
type Unit struct {
	*Host

	utype    *UnitType
	handle   Handle
	parent   Handle
	children []*Unit
	in       *Profile
	out      *Profile

	maxIterations int
	precision     float64
	policy        LimitPolicy
	diskElements  int

	iterations int
	converged  bool
}

// UnitOption configures a unit at construction.
type UnitOption func(*Unit)

// WithMaxIterations sets the iteration budget. Values below one mean one.
func WithMaxIterations(n int) UnitOption {
	return func(u *Unit) {
		if n < 1 {
			n = 1
		}
		u.maxIterations = n
	}
}

// WithPrecision sets the relative convergence tolerance.
func WithPrecision(p float64) UnitOption {
	return func(u *Unit) { u.precision = p }
}

// WithLimitPolicy sets the behavior on an exhausted iteration budget.
func WithLimitPolicy(p LimitPolicy) UnitOption {
	return func(u *Unit) { u.policy = p }
}

// WithDiskElements splits the unit into n sub-units on every solve. The unit
// type needs a subunit factory.
func WithDiskElements(n int) UnitOption {
	return func(u *Unit) { u.diskElements = n }
}

// WithOverride seeds hook k of the unit with an explicit value.
func WithOverride[T any](k *Hook[T], v T) UnitOption {
	return func(u *Unit) {
		if err := k.Set(u, v); err != nil {
			panic(fmt.Sprintf("rollcore: seeding unit: %v", err))
		}
	}
}

// WithUnitField seeds a unit value by name.
func WithUnitField(name string, v any) UnitOption {
	return func(u *Unit) {
		if err := u.Set(name, v); err != nil {
			panic(fmt.Sprintf("rollcore: seeding unit: %v", err))
		}
	}
}

// NewUnit creates a unit of type t in its own arena.
func NewUnit(t *UnitType, label string, opts ...UnitOption) *Unit {
	u := &Unit{
		Host:          NewHost(t.host, label),
		utype:         t,
		maxIterations: DefaultMaxIterations,
		precision:     DefaultPrecision,
	}
	NewArena().adopt(u, Handle{})
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Kind returns the unit type.
func (u *Unit) Kind() *UnitType { return u.utype }

// Handle returns the unit's arena handle.
func (u *Unit) Handle() Handle { return u.handle }

// Parent returns the enclosing unit, if any.
func (u *Unit) Parent() (*Unit, bool) { return u.parent.Unit() }

// InProfile returns the in-snapshot of the last solve.
func (u *Unit) InProfile() *Profile { return u.in }

// OutProfile returns the out-snapshot of the last solve. After a finished solve
// it is the frozen result.
func (u *Unit) OutProfile() *Profile { return u.out }

// Subunits returns the direct children.
func (u *Unit) Subunits() []*Unit {
	out := make([]*Unit, len(u.children))
	copy(out, u.children)
	return out
}

// Iterations returns the iterations used by the last solve.
func (u *Unit) Iterations() int { return u.iterations }

// Converged reports whether the last solve converged.
func (u *Unit) Converged() bool { return u.converged }

// MaxIterations returns the iteration budget.
func (u *Unit) MaxIterations() int { return u.maxIterations }

// Precision returns the relative convergence tolerance.
func (u *Unit) Precision() float64 { return u.precision }

// Solve computes the out-snapshot of the unit for the incoming snapshot in and
// returns it as an immutable profile. ctx only carries tracing state.
func (u *Unit) Solve(ctx context.Context, in *Profile) (*Profile, error) {
	runID := uuid.NewString()
	parentID := runIDFrom(ctx)
	ctx = withRunID(ctx, runID)
	ctx, span := startSolveSpan(ctx, u, runID)

	log := L().With(
		zap.String("unit", u.Label()),
		zap.String("type", u.utype.name),
		zap.String("run_id", runID),
	)

	start := time.Now()
	op := &Operation{Kind: OpSolve, Unit: u, RunID: runID}
	res, err := runExtensions(ctx, op, func() (any, error) {
		if u.utype.sequence {
			return u.solveSequence(ctx, in)
		}
		return u.solveIterative(ctx, log, in)
	})

	var out *Profile
	if err == nil {
		var ok bool
		if out, ok = res.(*Profile); !ok || out == nil {
			err = fmt.Errorf("unit %q: solve produced %T, not a profile", u.Label(), res)
		}
	}

	status := SolveConverged
	switch {
	case err != nil:
		status = SolveFailed
	case !u.converged:
		status = SolveUnconverged
	}

	end := time.Now()
	endSolveSpan(span, u, err)
	recordSolveMetrics(ctx, u, end.Sub(start), status)
	if tree, ok := SolveTreeFrom(ctx); ok {
		tree.add(&SolveRecord{
			ID:         runID,
			ParentID:   parentID,
			Unit:       u.Label(),
			Type:       u.utype.name,
			Iterations: u.iterations,
			Status:     status,
			Err:        err,
			Start:      start,
			End:        end,
		})
	}

	if err != nil {
		log.Debug("solve failed", zap.Error(err))
		return nil, err
	}
	log.Debug("solved", zap.Int("iterations", u.iterations), zap.Bool("converged", u.converged))
	return out, nil
}

func (u *Unit) solveIterative(ctx context.Context, log *zap.Logger, in *Profile) (*Profile, error) {
	u.iterations, u.converged = 0, false
	u.in = derive(u.utype.in, in, u, "in", true)
	u.out = nil
	if err := u.rebuildSubunits(); err != nil {
		return nil, err
	}

	var prev []sample
	var moving []string
	for u.iterations < u.maxIterations {
		u.iterations++
		u.in.ClearCache()
		u.Host.ClearCache()

		last := u.in
		for i, child := range u.children {
			out, err := child.Solve(ctx, last)
			if err != nil {
				return nil, &UnitError{Unit: child.Label(), Type: child.utype.name, Index: i, Err: err}
			}
			last = out
		}
		u.rebuildOut(last)

		cur, err := u.evaluateRootHooks(log)
		if err != nil {
			return nil, err
		}
		if u.iterations > 1 {
			var done bool
			if done, moving = compare(prev, cur, u.precision); done {
				u.converged = true
				break
			}
		} else {
			moving = nil
			for _, s := range cur {
				moving = append(moving, s.name)
			}
		}
		prev = cur
		log.Debug("iteration", zap.Int("iteration", u.iterations), zap.Strings("moving", moving))
	}

	if !u.converged {
		limitErr := &IterationLimitError{Unit: u.Label(), Iterations: u.iterations, Unconverged: moving}
		if u.policy == FailOnLimit {
			return nil, limitErr
		}
		log.Warn("unit did not converge, continuing with last iterate",
			zap.Int("iterations", u.iterations),
			zap.Strings("unconverged", moving),
		)
	}

	u.in = u.in.Freeze()
	u.out = u.out.Freeze()
	return u.out, nil
}

// rebuildOut replaces the out-snapshot by a fresh one falling back to src.
// Values computed on the discarded snapshot stay available through
// Hook.Previous.
func (u *Unit) rebuildOut(src *Profile) {
	next := derive(u.utype.out, src, u, "out", false)
	if old := u.out; old != nil {
		old.previous.Range(func(k string, v any) bool {
			next.previous.Store(k, v)
			return true
		})
		old.cache.Range(func(k string, v any) bool {
			next.previous.Store(k, v)
			return true
		})
	}
	u.out = next
}

func (u *Unit) rebuildSubunits() error {
	if u.diskElements <= 0 {
		return nil
	}
	f := u.utype.factory()
	if f == nil {
		return fmt.Errorf("unit %q: %d disk elements requested but type %s has no subunit factory",
			u.Label(), u.diskElements, u.utype.name)
	}

	arena := u.handle.arena
	for _, c := range u.children {
		arena.releaseTree(c)
	}
	u.children = nil
	for _, c := range f(u, u.diskElements) {
		arena.adopt(c, u.handle)
		u.children = append(u.children, c)
	}
	return nil
}

// evaluateRootHooks reads every applicable root hook on the in-snapshot, the
// unit and the out-snapshot, in that order.
func (u *Unit) evaluateRootHooks(log *zap.Logger) ([]sample, error) {
	hooks := RootHooks.Hooks()
	var out []sample
	for _, h := range []*Host{u.in.Host, u.Host, u.out.Host} {
		for _, d := range hooks {
			if !h.typ.IsA(d.Owner()) {
				continue
			}
			name := h.Label() + "." + d.Name()
			v, err := h.get(d)
			switch {
			case err == nil:
				out = append(out, sample{name: name, value: v, ok: true})
			case errors.Is(err, ErrNoValue):
				log.Debug("root hook has no value", zap.String("hook", name), zap.Error(err))
				out = append(out, sample{name: name})
			default:
				return nil, err
			}
		}
	}
	return out, nil
}
