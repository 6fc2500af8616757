package rollcore

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

// AnyHook is the type-erased view of a hook descriptor used by hosts and the
// root hook registry.
type AnyHook interface {
	Name() string
	// Owner is the host type the descriptor is bound to. For a subtype shadow
	// this is the subtype.
	Owner() *HostType
	// Base returns the descriptor declared on the owning type.
	Base() AnyHook

	compute(h *Host, cycle bool) (any, error)
	coerce(v any) (any, error)
}

// ImplID identifies a registered implementation for removal.
type ImplID uint64

var implSeq atomic.Uint64

// ImplFunc computes a candidate value. Returning false means "no result" and
// hands over to the next candidate.
type ImplFunc[T any] func(ctx *ResolveCtx) (T, bool)

// WrapFunc intercepts the resolution of the candidates it encloses. It may call
// next any number of times and may replace the result.
type WrapFunc[T any] func(ctx *ResolveCtx, next func() Result[T]) Result[T]

// Result is an optional hook value.
type Result[T any] struct {
	Value T
	OK    bool
}

// Some wraps v as a present result.
func Some[T any](v T) Result[T] {
	return Result[T]{Value: v, OK: true}
}

// None is the absent result.
func None[T any]() Result[T] {
	return Result[T]{}
}

type implementation[T any] struct {
	implMeta
	id   ImplID
	fn   ImplFunc[T]
	wrap WrapFunc[T]
}

func (im *implementation[T]) isWrapper() bool {
	return im.wrap != nil
}

// Hook is a named, typed, overridable computed attribute of a host type.
type Hook[T any] struct {
	name  string
	owner *HostType
	base  *Hook[T]

	mu    sync.Mutex
	impls atomic.Pointer[[]*implementation[T]]
}

// NewHook declares a hook on owner. Declaring the same name twice along a
// type chain panics.
func NewHook[T any](owner *HostType, name string) *Hook[T] {
	k := &Hook[T]{name: name, owner: owner}
	owner.declare(k)
	return k
}

func (k *Hook[T]) Name() string {
	return k.name
}

func (k *Hook[T]) Owner() *HostType {
	return k.owner
}

func (k *Hook[T]) Base() AnyHook {
	return k.root()
}

func (k *Hook[T]) String() string {
	return k.owner.name + "." + k.name
}

func (k *Hook[T]) root() *Hook[T] {
	if k.base != nil {
		return k.base
	}
	return k
}

// For returns the shadow of k bound to sub, creating it on first use.
// Implementations added to the shadow apply to sub and its descendants only;
// the base list is never touched.
func (k *Hook[T]) For(sub *HostType) *Hook[T] {
	base := k.root()
	if sub == base.owner {
		return base
	}
	if !sub.IsA(base.owner) {
		panic(fmt.Sprintf("rollcore: %s is not a subtype of %s", sub.name, base.owner.name))
	}

	d := sub.shadow(base.name, func() AnyHook {
		return &Hook[T]{name: base.name, owner: sub, base: base}
	})
	sh, ok := d.(*Hook[T])
	if !ok || sh.root() != base {
		panic(fmt.Sprintf("rollcore: %s.%s is bound to a different hook", sub.name, base.name))
	}
	return sh
}

// Add registers fn as a candidate of this hook level.
func (k *Hook[T]) Add(fn ImplFunc[T], opts ...ImplOption) ImplID {
	return k.register(&implementation[T]{fn: fn}, opts)
}

// Wrap registers fn as a wrapper around the plain candidates.
func (k *Hook[T]) Wrap(fn WrapFunc[T], opts ...ImplOption) ImplID {
	return k.register(&implementation[T]{wrap: fn}, opts)
}

// Scoped registers fn and returns the function removing it again.
func (k *Hook[T]) Scoped(fn ImplFunc[T], opts ...ImplOption) (release func()) {
	id := k.Add(fn, opts...)
	var once sync.Once
	return func() {
		once.Do(func() { k.Remove(id) })
	}
}

func (k *Hook[T]) register(im *implementation[T], opts []ImplOption) ImplID {
	for _, opt := range opts {
		opt(&im.implMeta)
	}
	im.id = ImplID(implSeq.Add(1))

	k.mu.Lock()
	defer k.mu.Unlock()

	var next []*implementation[T]
	if cur := k.impls.Load(); cur != nil {
		next = make([]*implementation[T], len(*cur), len(*cur)+1)
		copy(next, *cur)
	}
	next = append(next, im)
	k.impls.Store(&next)
	return im.id
}

// Remove drops the implementation registered on this level under id.
func (k *Hook[T]) Remove(id ImplID) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	cur := k.impls.Load()
	if cur == nil {
		return false
	}
	for i, im := range *cur {
		if im.id != id {
			continue
		}
		next := make([]*implementation[T], 0, len(*cur)-1)
		next = append(next, (*cur)[:i]...)
		next = append(next, (*cur)[i+1:]...)
		k.impls.Store(&next)
		return true
	}
	return false
}

// Len returns the number of implementations registered on this level.
func (k *Hook[T]) Len() int {
	if cur := k.impls.Load(); cur != nil {
		return len(*cur)
	}
	return 0
}

// Get reads the hook on h: override, then cache, then fresh resolution.
func (k *Hook[T]) Get(h Hoster) (T, error) {
	var zero T
	host := h.HostRef()
	v, err := host.get(k.root())
	if err != nil {
		return zero, err
	}
	tv, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%s.%s holds %T, not %T", host.Label(), k.name, v, zero)
	}
	return tv, nil
}

// Set writes an explicit override of the hook on h.
func (k *Hook[T]) Set(h Hoster, v T) error {
	return h.HostRef().set(k.root(), v)
}

// Clear removes the override of the hook on h. Cached values are untouched.
func (k *Hook[T]) Clear(h Hoster) bool {
	return h.HostRef().clear(k.name)
}

// Peek returns the set or cached value without resolving.
func (k *Hook[T]) Peek(h Hoster) (T, bool) {
	return typed[T](h.HostRef().peek(k.name))
}

// Previous returns the value cached on h before its last cache clear.
func (k *Hook[T]) Previous(h Hoster) (T, bool) {
	return typed[T](h.HostRef().previous.Load(k.name))
}

// levels collects the implementation lists applying to hosts of type t, most
// derived level first.
func (k *Hook[T]) levels(t *HostType) [][]*implementation[T] {
	base := k.root()
	var out [][]*implementation[T]
	for cur := t; cur != nil; cur = cur.parent {
		if d, ok := cur.local(base.name).(*Hook[T]); ok && d.root() == base {
			if l := d.impls.Load(); l != nil && len(*l) > 0 {
				out = append(out, *l)
			}
		}
		if cur == base.owner {
			break
		}
	}
	return out
}

func (k *Hook[T]) compute(h *Host, cycle bool) (any, error) {
	base := k.root()
	plain, wrappers := arrange(base.levels(h.typ))
	ctx := &ResolveCtx{host: h, hook: base.name, cycle: cycle}

	next := func() Result[T] {
		for _, im := range plain {
			if cycle && !im.cycleAware {
				continue
			}
			if v, ok := im.fn(ctx); ok {
				return Some(v)
			}
		}
		if raw, ok := h.inherited.Load(base.name); ok {
			if v, ok := raw.(T); ok {
				return Some(v)
			}
		}
		return None[T]()
	}
	for i := len(wrappers) - 1; i >= 0; i-- {
		w := wrappers[i]
		if cycle && !w.cycleAware {
			continue
		}
		inner := next
		next = func() Result[T] { return w.wrap(ctx, inner) }
	}

	res := next()
	if !res.OK {
		if cycle {
			return nil, &CycleError{Hook: base.name, Host: h.Label(), Resolving: h.resolvingNames()}
		}
		return nil, &NoValueError{Hook: base.name, Host: h.Label(), Cause: ctx.cause()}
	}
	if !isFinite(res.Value) {
		return nil, &NonFiniteError{Hook: base.name, Host: h.Label(), Value: res.Value}
	}
	return res.Value, nil
}

func (k *Hook[T]) coerce(v any) (any, error) {
	if tv, ok := v.(T); ok {
		return tv, nil
	}
	target := reflect.TypeOf((*T)(nil)).Elem()
	rv := reflect.ValueOf(v)
	if rv.IsValid() && isNumberKind(rv.Kind()) && isNumberKind(target.Kind()) {
		return rv.Convert(target).Interface(), nil
	}
	return nil, fmt.Errorf("hook %s expects %v, got %T", k.name, target, v)
}

func typed[T any](v any, ok bool) (T, bool) {
	if !ok {
		var zero T
		return zero, false
	}
	tv, ok := v.(T)
	return tv, ok
}
