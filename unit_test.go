package rollcore

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// coupled declares x = a*y + 1 and y = a*x + 1 on a new unit type and makes
// both root hooks for the duration of the test. x falls back to its previous
// estimate on re-entry.
func coupled(t *testing.T, name string, a float64) (*UnitType, *Hook[float64], *Hook[float64]) {
	t.Helper()
	ut := NewUnitType(name, nil)
	x := NewHook[float64](ut.HostType(), "x")
	y := NewHook[float64](ut.HostType(), "y")

	x.Add(func(ctx *ResolveCtx) (float64, bool) {
		v, ok := Self(ctx, y)
		return a*v + 1, ok
	})
	x.Add(func(ctx *ResolveCtx) (float64, bool) {
		if v, ok := x.Previous(ctx.Host()); ok {
			return v, true
		}
		return 0, true
	}, CycleAware(), TryLast())
	y.Add(func(ctx *ResolveCtx) (float64, bool) {
		v, ok := Self(ctx, x)
		return a*v + 1, ok
	})

	t.Cleanup(RootHooks.AddScoped(x))
	t.Cleanup(RootHooks.AddScoped(y))
	return ut, x, y
}

func TestUnit_Convergence(t *testing.T) {
	ut, x, y := coupled(t, "contracting", 0.5)
	u := NewUnit(ut, "u")

	out, err := u.Solve(context.Background(), NewProfile())
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.True(t, out.Frozen())
	assert.True(t, u.Converged())
	assert.Equal(t, 5, u.Iterations())

	vx, ok := x.Peek(u)
	require.True(t, ok)
	vy, ok := y.Peek(u)
	require.True(t, ok)
	assert.InDelta(t, 2.0, vx, 2*u.Precision())
	assert.InDelta(t, 2.0, vy, 2*u.Precision())
}

func TestUnit_IterationLimit(t *testing.T) {
	ut, _, _ := coupled(t, "diverging", 2)
	u := NewUnit(ut, "u", WithMaxIterations(3))

	_, err := u.Solve(context.Background(), NewProfile())
	require.ErrorIs(t, err, ErrIterationLimit)

	var limit *IterationLimitError
	require.ErrorAs(t, err, &limit)
	assert.Equal(t, "u", limit.Unit)
	assert.Equal(t, 3, limit.Iterations)
	assert.ElementsMatch(t, []string{"u.x", "u.y"}, limit.Unconverged)
	assert.False(t, u.Converged())
}

func TestUnit_WarnOnLimit(t *testing.T) {
	logs := observeLogs(t, zapcore.WarnLevel)
	ut, x, _ := coupled(t, "diverging", 2)
	u := NewUnit(ut, "u", WithMaxIterations(3), WithLimitPolicy(WarnOnLimit))

	out, err := u.Solve(context.Background(), NewProfile())
	require.NoError(t, err)
	assert.True(t, out.Frozen())
	assert.False(t, u.Converged())
	assert.Equal(t, 3, u.Iterations())

	_, ok := x.Peek(u)
	assert.True(t, ok, "the last iterate is kept")

	entries := logs.FilterMessageSnippet("did not converge").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "u", entries[0].ContextMap()["unit"])
}

func TestUnit_FirstIterationNeverConverges(t *testing.T) {
	ut := NewUnitType("steady", nil)
	k := NewHook[float64](ut.HostType(), "k")
	k.Add(constant(1.0))
	t.Cleanup(RootHooks.AddScoped(k))

	u := NewUnit(ut, "u")
	_, err := u.Solve(context.Background(), NewProfile())
	require.NoError(t, err)
	assert.Equal(t, 2, u.Iterations())

	single := NewUnit(ut, "single", WithMaxIterations(0))
	assert.Equal(t, 1, single.MaxIterations())
	_, err = single.Solve(context.Background(), NewProfile())
	assert.ErrorIs(t, err, ErrIterationLimit)
}

func TestUnit_NoRootHooks(t *testing.T) {
	ut := NewUnitType("plain", nil)
	u := NewUnit(ut, "u")

	_, err := u.Solve(context.Background(), NewProfile(WithValue(Width, 3.0)))
	require.NoError(t, err)
	assert.True(t, u.Converged())
	assert.Equal(t, 2, u.Iterations())
}

func TestUnit_MissingRootHookIsSkipped(t *testing.T) {
	ut := NewUnitType("sparse", nil)
	k := NewHook[float64](ut.HostType(), "k")
	t.Cleanup(RootHooks.AddScoped(k))

	u := NewUnit(ut, "u")
	_, err := u.Solve(context.Background(), NewProfile())
	require.NoError(t, err)
	assert.True(t, u.Converged())
}

func TestUnit_Snapshots(t *testing.T) {
	ut := NewUnitType("shrink", nil)
	Height.For(ut.OutType()).Add(func(ctx *ResolveCtx) (float64, bool) {
		u, ok := ctx.Unit()
		if !ok {
			return 0, false
		}
		h, ok := Read(ctx, u.InProfile(), Height)
		return h - 1, ok
	})
	t.Cleanup(RootHooks.AddScoped(Height))

	u := NewUnit(ut, "u")
	in := NewProfile(WithValue(Width, 10.0), WithValue(Height, 8.0))
	out, err := u.Solve(context.Background(), in)
	require.NoError(t, err)

	assert.Same(t, out, u.OutProfile())
	assert.True(t, u.InProfile().Frozen())
	assert.Equal(t, ut.InType(), u.InProfile().Type())
	assert.Equal(t, ut.OutType(), out.Type())

	h, err := Height.Get(out)
	require.NoError(t, err)
	assert.Equal(t, 7.0, h)
	w, err := Width.Get(out)
	require.NoError(t, err)
	assert.Equal(t, 10.0, w, "untouched fields pass through")

	// The incoming snapshot is never written.
	assert.Equal(t, map[string]any{"width": 10.0, "height": 8.0}, in.ValueMap())

	owner, ok := out.Unit()
	require.True(t, ok)
	assert.Same(t, u, owner)
}

func TestUnit_Previous(t *testing.T) {
	ut := NewUnitType("counting", nil)
	n := NewHook[int](ut.OutType(), "n")
	n.Add(func(ctx *ResolveCtx) (int, bool) {
		if p, ok := n.Previous(ctx.Host()); ok && p < 3 {
			return p + 1, true
		} else if ok {
			return p, true
		}
		return 0, true
	})
	t.Cleanup(RootHooks.AddScoped(n))

	u := NewUnit(ut, "u")
	out, err := u.Solve(context.Background(), NewProfile())
	require.NoError(t, err)

	v, err := n.Get(out)
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.Equal(t, 5, u.Iterations())
}

func TestUnit_Subunits(t *testing.T) {
	step := NewUnitType("step", nil)
	Height.For(step.OutType()).Add(func(ctx *ResolveCtx) (float64, bool) {
		u, ok := ctx.Unit()
		if !ok {
			return 0, false
		}
		h, ok := Read(ctx, u.InProfile(), Height)
		return h / 2, ok
	})
	line := NewUnitType("line", nil, WithSubunits(Elements(step)))
	t.Cleanup(RootHooks.AddScoped(Height))

	u := NewUnit(line, "L", WithDiskElements(3), WithPrecision(1e-3))
	out, err := u.Solve(context.Background(), NewProfile(WithValue(Height, 8.0)))
	require.NoError(t, err)

	h, err := Height.Get(out)
	require.NoError(t, err)
	assert.Equal(t, 1.0, h)

	subs := u.Subunits()
	require.Len(t, subs, 3)
	for i, s := range subs {
		assert.Equal(t, step, s.Kind())
		assert.Equal(t, 1e-3, s.Precision())
		parent, ok := s.Parent()
		require.True(t, ok)
		assert.Same(t, u, parent)

		if i > 0 {
			prevOut, err := Height.Get(subs[i-1].OutProfile())
			require.NoError(t, err)
			in, err := Height.Get(s.InProfile())
			require.NoError(t, err)
			assert.Equal(t, prevOut, in)
		}
	}
	assert.Equal(t, 4, u.Handle().Arena().Len())

	// A second solve replaces the elements instead of accumulating them.
	_, err = u.Solve(context.Background(), NewProfile(WithValue(Height, 8.0)))
	require.NoError(t, err)
	assert.Equal(t, 4, u.Handle().Arena().Len())
}

func TestUnit_SubunitErrorNamesStage(t *testing.T) {
	step := NewUnitType("bad-step", nil)
	Height.For(step.OutType()).Add(constant(math.Inf(-1)))
	line := NewUnitType("bad-line", nil, WithSubunits(Elements(step)))
	t.Cleanup(RootHooks.AddScoped(Height))

	u := NewUnit(line, "L", WithDiskElements(2))
	_, err := u.Solve(context.Background(), NewProfile(WithValue(Height, 8.0)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNonFinite)
	assert.Equal(t, []string{"L[0]"}, StagePath(err))

	var ue *UnitError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, 0, ue.Index)
	assert.Equal(t, "bad-step", ue.Type)
}

func TestUnit_DiskElementsNeedFactory(t *testing.T) {
	u := NewUnit(NewUnitType("solid", nil), "u", WithDiskElements(2))
	_, err := u.Solve(context.Background(), NewProfile())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no subunit factory")
}

func TestUnitType_Hierarchy(t *testing.T) {
	base := NewUnitType("deforming", nil)
	sub := NewUnitType("pass", base)

	assert.True(t, sub.IsA(base))
	assert.True(t, sub.IsA(BaseUnit))
	assert.False(t, base.IsA(sub))
	assert.Same(t, base, sub.Parent())
	assert.True(t, sub.OutType().IsA(base.OutType()))
	assert.True(t, sub.InType().IsA(InProfileType))
	assert.Equal(t, "pass.OutProfile", sub.OutType().Name())

	// rules for the base type apply to units of the subtype
	k := NewHook[string](base.HostType(), "k")
	k.Add(constant("base"))
	v, err := k.Get(NewUnit(sub, "p"))
	require.NoError(t, err)
	assert.Equal(t, "base", v)
}

func TestUnit_Overrides(t *testing.T) {
	ut := NewUnitType("configured", nil)
	gap := NewHook[float64](ut.HostType(), "gap")
	u := NewUnit(ut, "u", WithOverride(gap, 2.5), WithUnitField("gap", 3))

	v, err := gap.Get(u)
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)

	assert.Panics(t, func() { NewUnit(ut, "bad", WithUnitField("missing", 1)) })
}

func TestLimitPolicy_String(t *testing.T) {
	assert.Equal(t, "fail", FailOnLimit.String())
	assert.Equal(t, "warn", WarnOnLimit.String())
}
