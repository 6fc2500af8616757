// Package stages provides the built-in unit types of a rolling line: transports
// between stands and the roll passes deforming the workpiece.
package stages

import (
	"math"
	"sync"

	rollcore "github.com/pyroll-project/pyroll-core-sub000"
)

// Transport moves the workpiece without deforming it.
var (
	Transport        = rollcore.NewUnitType("transport", nil, rollcore.WithSubunits(rollcore.Elements(TransportElement)))
	TransportElement = rollcore.NewUnitType("transport-element", nil)
)

// Transport hooks.
var (
	Length   = rollcore.NewHook[float64](Transport.HostType(), "length")
	Velocity = rollcore.NewHook[float64](Transport.HostType(), "velocity")
	Duration = rollcore.NewHook[float64](Transport.HostType(), "duration")

	ElementLength   = rollcore.NewHook[float64](TransportElement.HostType(), "length")
	ElementVelocity = rollcore.NewHook[float64](TransportElement.HostType(), "velocity")
	ElementDuration = rollcore.NewHook[float64](TransportElement.HostType(), "duration")
)

// RollPass reduces the workpiece height between two rolls. The stand springs
// open under the rolling force, so the exit height and the force depend on
// each other and are found by iteration.
var RollPass = rollcore.NewUnitType("roll-pass", nil)

// Roll pass hooks.
var (
	// Gap is the unloaded roll gap.
	Gap = rollcore.NewHook[float64](RollPass.HostType(), "gap")
	// Stiffness is the stand modulus, force per unit of spring.
	Stiffness = rollcore.NewHook[float64](RollPass.HostType(), "stiffness")
	// Modulus is the deformation resistance of the workpiece.
	Modulus   = rollcore.NewHook[float64](RollPass.HostType(), "modulus")
	Force     = rollcore.NewHook[float64](RollPass.HostType(), "force")
	SpringGap = rollcore.NewHook[float64](RollPass.HostType(), "spring_gap")
)

// Defaults used when a schedule does not set them.
const (
	DefaultStiffness = 1e4
	DefaultModulus   = 150.0
)

var setupOnce sync.Once

// Setup registers the built-in rules and root hooks. It is safe to call more
// than once.
func Setup() {
	setupOnce.Do(func() {
		setupTransport()
		setupRollPass()
		rollcore.RootHooks.Add(rollcore.Height)
		rollcore.RootHooks.Add(Force)
		register(Transport, TransportElement, RollPass, rollcore.SequenceType)
	})
}

func setupTransport() {
	Duration.Add(func(ctx *rollcore.ResolveCtx) (float64, bool) {
		l, ok := rollcore.Self(ctx, Length)
		if !ok {
			return 0, false
		}
		v, ok := rollcore.Self(ctx, Velocity)
		if !ok || v == 0 {
			return 0, false
		}
		return l / v, true
	}, rollcore.Named("duration-from-velocity"))

	ElementLength.Add(func(ctx *rollcore.ResolveCtx) (float64, bool) {
		parent, n, ok := enclosing(ctx)
		if !ok {
			return 0, false
		}
		l, ok := rollcore.Read(ctx, parent, Length)
		return l / float64(n), ok
	}, rollcore.Named("element-length-from-parent"))

	ElementVelocity.Add(func(ctx *rollcore.ResolveCtx) (float64, bool) {
		parent, _, ok := enclosing(ctx)
		if !ok {
			return 0, false
		}
		return rollcore.Read(ctx, parent, Velocity)
	}, rollcore.Named("element-velocity-from-parent"))

	ElementDuration.Add(func(ctx *rollcore.ResolveCtx) (float64, bool) {
		l, ok := rollcore.Self(ctx, ElementLength)
		if !ok {
			return 0, false
		}
		v, ok := rollcore.Self(ctx, ElementVelocity)
		if !ok || v == 0 {
			return 0, false
		}
		return l / v, true
	})
}

// enclosing returns the parent unit of the unit being computed and the number
// of its sub-units.
func enclosing(ctx *rollcore.ResolveCtx) (*rollcore.Unit, int, bool) {
	u, ok := ctx.Unit()
	if !ok {
		return nil, 0, false
	}
	parent, ok := u.Parent()
	if !ok {
		return nil, 0, false
	}
	n := len(parent.Subunits())
	return parent, n, n > 0
}

func setupRollPass() {
	Stiffness.Add(func(*rollcore.ResolveCtx) (float64, bool) {
		return DefaultStiffness, true
	}, rollcore.TryLast(), rollcore.Named("default-stiffness"))

	Modulus.Add(func(*rollcore.ResolveCtx) (float64, bool) {
		return DefaultModulus, true
	}, rollcore.TryLast(), rollcore.Named("default-modulus"))

	SpringGap.Add(func(ctx *rollcore.ResolveCtx) (float64, bool) {
		f, ok := rollcore.Self(ctx, Force)
		if !ok {
			return 0, false
		}
		s, ok := rollcore.Self(ctx, Stiffness)
		if !ok || s == 0 {
			return 0, false
		}
		return f / s, true
	})

	Force.Add(func(ctx *rollcore.ResolveCtx) (float64, bool) {
		u, ok := ctx.Unit()
		if !ok || u.InProfile() == nil || u.OutProfile() == nil {
			return 0, false
		}
		k, ok := rollcore.Self(ctx, Modulus)
		if !ok {
			return 0, false
		}
		h0, ok := rollcore.Read(ctx, u.InProfile(), rollcore.Height)
		if !ok {
			return 0, false
		}
		w0, ok := rollcore.Read(ctx, u.InProfile(), rollcore.Width)
		if !ok {
			return 0, false
		}
		h1, ok := rollcore.Read(ctx, u.OutProfile(), rollcore.Height)
		if !ok {
			return 0, false
		}
		return k * math.Max(h0-h1, 0) * w0, true
	}, rollcore.Named("force-from-reduction"))

	// Reading the force while computing it means the exit height is not known
	// yet: continue from the last iterate.
	Force.Add(func(ctx *rollcore.ResolveCtx) (float64, bool) {
		if !ctx.Cycle() {
			return 0, false
		}
		if f, ok := Force.Previous(ctx.Host()); ok {
			return f, true
		}
		return 0, true
	}, rollcore.CycleAware(), rollcore.TryLast(), rollcore.Named("force-estimate"))

	rollcore.Height.For(RollPass.OutType()).Add(func(ctx *rollcore.ResolveCtx) (float64, bool) {
		u, ok := ctx.Unit()
		if !ok {
			return 0, false
		}
		g, ok := rollcore.Read(ctx, u, Gap)
		if !ok {
			return 0, false
		}
		s, ok := rollcore.Read(ctx, u, SpringGap)
		if !ok {
			return 0, false
		}
		return g + s, true
	}, rollcore.Named("height-from-gap"))
}
