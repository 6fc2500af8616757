package rollcore

import (
	"sync"
	"sync/atomic"
)

// RootHooks is the process-wide set of hooks whose values must stabilize
// before a unit counts as converged.
var RootHooks = NewRootHookRegistry()

// RootHookRegistry is an ordered set of hook descriptors. Writers serialize on
// a mutex; readers work on immutable snapshots without locking.
type RootHookRegistry struct {
	mu    sync.Mutex
	hooks atomic.Pointer[[]AnyHook]
}

// NewRootHookRegistry creates an empty registry.
func NewRootHookRegistry() *RootHookRegistry {
	r := &RootHookRegistry{}
	r.hooks.Store(&[]AnyHook{})
	return r
}

// Add appends h (by its base descriptor). It reports false when already present.
func (r *RootHookRegistry) Add(h AnyHook) bool {
	h = h.Base()

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.hooks.Load()
	for _, e := range cur {
		if e == h {
			return false
		}
	}
	next := make([]AnyHook, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, h)
	r.hooks.Store(&next)
	return true
}

// AddScoped adds h and returns the function removing it again. When h was
// already present the returned function leaves it in place.
func (r *RootHookRegistry) AddScoped(h AnyHook) (release func()) {
	if !r.Add(h) {
		return func() {}
	}
	var once sync.Once
	return func() {
		once.Do(func() { r.Remove(h) })
	}
}

// Remove drops h. It reports false when h was not present.
func (r *RootHookRegistry) Remove(h AnyHook) bool {
	h = h.Base()

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.hooks.Load()
	for i, e := range cur {
		if e != h {
			continue
		}
		next := make([]AnyHook, 0, len(cur)-1)
		next = append(next, cur[:i]...)
		next = append(next, cur[i+1:]...)
		r.hooks.Store(&next)
		return true
	}
	return false
}

// Contains reports whether h is registered.
func (r *RootHookRegistry) Contains(h AnyHook) bool {
	h = h.Base()
	for _, e := range *r.hooks.Load() {
		if e == h {
			return true
		}
	}
	return false
}

// Hooks returns the current snapshot in registration order.
func (r *RootHookRegistry) Hooks() []AnyHook {
	cur := *r.hooks.Load()
	out := make([]AnyHook, len(cur))
	copy(out, cur)
	return out
}

// ApplicableTo returns the registered hooks visible on hosts of type t.
func (r *RootHookRegistry) ApplicableTo(t *HostType) []AnyHook {
	var out []AnyHook
	for _, e := range *r.hooks.Load() {
		if t.IsA(e.Owner()) {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of registered hooks.
func (r *RootHookRegistry) Len() int {
	return len(*r.hooks.Load())
}
