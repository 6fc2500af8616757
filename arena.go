package rollcore

import "sync"

// Arena stores the units of one unit tree. Snapshots and sub-units refer to
// their unit by Handle instead of holding it.
type Arena struct {
	mu    sync.RWMutex
	units []*Unit
	free  []int
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{}
}

// Handle is a stable reference to a unit stored in an arena. The zero value
// refers to nothing.
type Handle struct {
	arena *Arena
	index int
}

// Valid reports whether h refers to a slot.
func (h Handle) Valid() bool {
	return h.arena != nil
}

// Arena returns the arena the handle points into.
func (h Handle) Arena() *Arena {
	return h.arena
}

// Unit looks the handle up.
func (h Handle) Unit() (*Unit, bool) {
	if h.arena == nil {
		return nil, false
	}
	return h.arena.Get(h)
}

// Get returns the unit stored under h.
func (a *Arena) Get(h Handle) (*Unit, bool) {
	if h.arena != a {
		return nil, false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	if h.index < 0 || h.index >= len(a.units) || a.units[h.index] == nil {
		return nil, false
	}
	return a.units[h.index], true
}

// Len returns the number of live units.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.units) - len(a.free)
}

func (a *Arena) insert(u *Unit) Handle {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		a.units[idx] = u
		return Handle{arena: a, index: idx}
	}
	a.units = append(a.units, u)
	return Handle{arena: a, index: len(a.units) - 1}
}

func (a *Arena) release(h Handle) {
	if h.arena != a {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if h.index >= 0 && h.index < len(a.units) && a.units[h.index] != nil {
		a.units[h.index] = nil
		a.free = append(a.free, h.index)
	}
}

// releaseTree frees the slots of u and everything below it.
func (a *Arena) releaseTree(u *Unit) {
	for _, child := range u.children {
		a.releaseTree(child)
	}
	a.release(u.handle)
}

// adopt moves u and everything below it into a, re-pointing their handles.
func (a *Arena) adopt(u *Unit, parent Handle) {
	u.parent = parent
	if u.handle.arena == a {
		return
	}
	if u.handle.arena != nil {
		u.handle.arena.release(u.handle)
	}
	u.handle = a.insert(u)
	u.Host.unit = u.handle
	for _, child := range u.children {
		a.adopt(child, u.handle)
	}
}
