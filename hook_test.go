package rollcore

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestHook_OverridePrecedence(t *testing.T) {
	typ := NewHostType("Thing", nil)
	k := NewHook[float64](typ, "k")
	k.Add(constant(1.0))
	h := NewHost(typ, "h")

	v, err := k.Get(h)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	require.NoError(t, k.Set(h, 2))
	v, err = k.Get(h)
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)

	assert.True(t, k.Clear(h))
	v, err = k.Get(h)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
	assert.False(t, k.Clear(h), "nothing left to clear")
}

func TestHook_CacheStability(t *testing.T) {
	typ := NewHostType("Thing", nil)
	k := NewHook[float64](typ, "k")
	k.Add(constant(1.0))
	h := NewHost(typ, "h")

	first, err := k.Get(h)
	require.NoError(t, err)

	k.Add(constant(99.0), TryFirst())
	second, err := k.Get(h)
	require.NoError(t, err)
	assert.Equal(t, first, second, "registration must not touch filled caches")

	h.ClearCache()
	third, err := k.Get(h)
	require.NoError(t, err)
	assert.Equal(t, 99.0, third)

	prev, ok := k.Previous(h)
	require.True(t, ok)
	assert.Equal(t, 1.0, prev)
}

func TestHook_ResolutionOrder(t *testing.T) {
	typ := NewHostType("Thing", nil)
	k := NewHook[int](typ, "k")

	var calls []string
	candidate := func(name string, v int, ok bool) ImplFunc[int] {
		return func(*ResolveCtx) (int, bool) {
			calls = append(calls, name)
			return v, ok
		}
	}
	k.Add(candidate("f1", 1, false))
	f2 := k.Add(candidate("f2", 2, false))
	k.Add(candidate("f3", 3, false), TryFirst())
	k.Add(candidate("f4", 4, false), TryLast())

	_, err := k.Get(NewHost(typ, "h"))
	assert.ErrorIs(t, err, ErrNoValue)
	if diff := cmp.Diff([]string{"f3", "f2", "f1", "f4"}, calls); diff != "" {
		t.Errorf("call order mismatch (-want +got):\n%s", diff)
	}

	require.True(t, k.Remove(f2))
	k.Add(candidate("f2", 2, true))
	calls = nil

	v, err := k.Get(NewHost(typ, "h"))
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	if diff := cmp.Diff([]string{"f3", "f2"}, calls); diff != "" {
		t.Errorf("call order mismatch (-want +got):\n%s", diff)
	}
}

func TestHook_SubclassShadowing(t *testing.T) {
	a := NewHostType("A", nil)
	b := NewHostType("B", a)
	other := NewHostType("Other", nil)
	k := NewHook[string](a, "k")

	k.Add(constant("a"))
	shadow := k.For(b)
	shadow.Add(constant("b"))

	assert.Same(t, shadow, k.For(b))
	assert.Same(t, k, k.For(a))
	assert.Same(t, k, shadow.Base())
	assert.Equal(t, 1, k.Len(), "base list is untouched by subtype registration")
	assert.Panics(t, func() { k.For(other) })

	va, err := k.Get(NewHost(a, "a"))
	require.NoError(t, err)
	assert.Equal(t, "a", va)

	vb, err := k.Get(NewHost(b, "b"))
	require.NoError(t, err)
	assert.Equal(t, "b", vb)

	// Reading through the shadow is the same as reading through the base.
	vb, err = shadow.Get(NewHost(b, "b"))
	require.NoError(t, err)
	assert.Equal(t, "b", vb)

	// Priority dominates the type level.
	k.Add(constant("a-first"), TryFirst())
	vb, err = k.Get(NewHost(b, "b"))
	require.NoError(t, err)
	assert.Equal(t, "a-first", vb)
}

func TestHook_WrapperOrderingAcrossLevels(t *testing.T) {
	a := NewHostType("A", nil)
	b := NewHostType("B", a)
	k := NewHook[int](a, "k")

	var trace []string
	wrapper := func(name string) WrapFunc[int] {
		return func(ctx *ResolveCtx, next func() Result[int]) Result[int] {
			trace = append(trace, name)
			return next()
		}
	}
	k.Add(func(*ResolveCtx) (int, bool) {
		trace = append(trace, "impl")
		return 1, true
	})
	k.Wrap(wrapper("a"))
	k.For(b).Wrap(wrapper("b"))
	k.Wrap(wrapper("a-first"), TryFirst())
	k.For(b).Wrap(wrapper("b-last"), TryLast())

	v, err := k.Get(NewHost(b, "b"))
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	if diff := cmp.Diff([]string{"a-first", "b", "a", "b-last", "impl"}, trace); diff != "" {
		t.Errorf("wrapper order mismatch (-want +got):\n%s", diff)
	}

	trace = nil
	_, err = k.Get(NewHost(a, "a"))
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"a-first", "a", "impl"}, trace); diff != "" {
		t.Errorf("base wrapper order mismatch (-want +got):\n%s", diff)
	}
}

func TestHook_WrapperReplacesResult(t *testing.T) {
	typ := NewHostType("Thing", nil)
	k := NewHook[float64](typ, "k")
	k.Add(constant(-3.0))
	k.Wrap(func(ctx *ResolveCtx, next func() Result[float64]) Result[float64] {
		if r := next(); r.OK && r.Value < 0 {
			return Some(0.0)
		}
		return None[float64]()
	})

	v, err := k.Get(NewHost(typ, "h"))
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)
}

func TestHook_InheritedFallback(t *testing.T) {
	typ := NewHostType("Thing", nil)
	k := NewHook[float64](typ, "k")
	h := NewHost(typ, "h")
	copyFields(h, []Attr{{Name: "k", Value: 3.0}}, false)

	v, err := k.Get(h)
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)

	k.Add(constant(4.0))
	h.ClearCache()
	v, err = k.Get(h)
	require.NoError(t, err)
	assert.Equal(t, 4.0, v, "rules replace inherited values")
}

func TestHook_EndToEnd(t *testing.T) {
	typ := NewHostType("Thing", nil)
	w := NewHook[int](typ, "w")
	h := NewHost(typ, "h")

	_, err := w.Get(h)
	assert.ErrorIs(t, err, ErrNoValue)

	calls := 0
	w.Add(func(*ResolveCtx) (int, bool) {
		calls++
		return 5, true
	})
	v, err := w.Get(h)
	require.NoError(t, err)
	assert.Equal(t, 5, v)
	assert.True(t, h.HasCached("w"))

	require.NoError(t, w.Set(h, 7))
	v, err = w.Get(h)
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	w.Clear(h)
	v, err = w.Get(h)
	require.NoError(t, err)
	assert.Equal(t, 5, v)
	assert.Equal(t, 1, calls)
}

func TestHook_Scoped(t *testing.T) {
	typ := NewHostType("Thing", nil)
	k := NewHook[int](typ, "k")

	release := k.Scoped(constant(1))
	v, err := k.Get(NewHost(typ, "h"))
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	release()
	release()
	assert.Equal(t, 0, k.Len())
	_, err = k.Get(NewHost(typ, "h"))
	assert.ErrorIs(t, err, ErrNoValue)
	assert.False(t, k.Remove(ImplID(math.MaxUint64)))
}

func TestHook_NonFinite(t *testing.T) {
	typ := NewHostType("Thing", nil)
	nan := NewHook[float64](typ, "nan")
	inf := NewHook[float64](typ, "inf")
	nan.Add(constant(math.NaN()))
	inf.Add(constant(math.Inf(1)))
	h := NewHost(typ, "h")

	_, err := nan.Get(h)
	assert.ErrorIs(t, err, ErrNonFinite)
	_, err = inf.Get(h)
	var nf *NonFiniteError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "inf", nf.Hook)
	assert.False(t, h.HasCached("nan"))
	assert.False(t, h.HasCached("inf"))
}

func TestHook_FailureCause(t *testing.T) {
	typ := NewHostType("Thing", nil)
	a := NewHook[float64](typ, "a")
	b := NewHook[float64](typ, "b")
	b.Add(func(ctx *ResolveCtx) (float64, bool) {
		v, ok := Self(ctx, a)
		return v + 1, ok
	})

	_, err := b.Get(NewHost(typ, "h"))
	var nv *NoValueError
	require.ErrorAs(t, err, &nv)
	assert.Equal(t, "b", nv.Hook)
	assert.Contains(t, err.Error(), "h.a")
}

func TestHook_CycleWithoutTermination(t *testing.T) {
	logs := observeLogs(t, zapcore.WarnLevel)

	typ := NewHostType("Thing", nil)
	x := NewHook[float64](typ, "x")
	y := NewHook[float64](typ, "y")
	x.Add(func(ctx *ResolveCtx) (float64, bool) { return Self(ctx, y) })
	y.Add(func(ctx *ResolveCtx) (float64, bool) { return Self(ctx, x) })
	h := NewHost(typ, "h")

	_, err := x.Get(h)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCycle)
	assert.ErrorIs(t, err, ErrNoValue)
	assert.False(t, h.HasCached("x"))
	assert.False(t, h.HasCached("y"))
	assert.NotZero(t, logs.FilterMessageSnippet("cycle").Len())

	var ce *CycleError
	require.ErrorAs(t, err, &ce)
	if diff := cmp.Diff([]string{"x", "y"}, ce.Resolving); diff != "" {
		t.Errorf("resolving stack mismatch (-want +got):\n%s", diff)
	}
}

func TestHook_CycleAwareTermination(t *testing.T) {
	typ := NewHostType("Thing", nil)
	x := NewHook[float64](typ, "x")
	y := NewHook[float64](typ, "y")
	x.Add(func(ctx *ResolveCtx) (float64, bool) {
		v, ok := Self(ctx, y)
		return 0.5*v + 1, ok
	})
	x.Add(func(ctx *ResolveCtx) (float64, bool) {
		if v, ok := x.Previous(ctx.Host()); ok {
			return v, true
		}
		return 0, true
	}, CycleAware(), TryLast())
	y.Add(func(ctx *ResolveCtx) (float64, bool) {
		v, ok := Self(ctx, x)
		return 0.5*v + 1, ok
	})

	h := NewHost(typ, "h")
	vx, err := x.Get(h)
	require.NoError(t, err)
	assert.Equal(t, 1.5, vx)
	vy, ok := y.Peek(h)
	require.True(t, ok)
	assert.Equal(t, 1.0, vy)

	// A second round starts from the previous estimate.
	h.ClearCache()
	vx, err = x.Get(h)
	require.NoError(t, err)
	assert.Equal(t, 1.875, vx)
}
