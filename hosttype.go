package rollcore

import "sync"

// HostType describes a kind of host and the hooks it exposes. Types form
// single-parent chains; a hook declared on a type is visible on all of its
// descendants.
type HostType struct {
	name   string
	parent *HostType

	mu    sync.RWMutex
	hooks map[string]AnyHook
	// declared keeps the declaration order of hooks owned by this type.
	declared []string
}

// NewHostType creates a host type deriving from parent (nil for a root type).
func NewHostType(name string, parent *HostType) *HostType {
	return &HostType{
		name:   name,
		parent: parent,
		hooks:  make(map[string]AnyHook),
	}
}

// Name returns the type's name.
func (t *HostType) Name() string {
	return t.name
}

// Parent returns the parent type or nil.
func (t *HostType) Parent() *HostType {
	return t.parent
}

// IsA reports whether t is other or derives from it.
func (t *HostType) IsA(other *HostType) bool {
	for cur := t; cur != nil; cur = cur.parent {
		if cur == other {
			return true
		}
	}
	return false
}

// Lookup finds the most derived descriptor named name visible on t.
func (t *HostType) Lookup(name string) (AnyHook, bool) {
	for cur := t; cur != nil; cur = cur.parent {
		if h := cur.local(name); h != nil {
			return h, true
		}
	}
	return nil, false
}

// HookNames lists every hook visible on t, ancestors' declarations first.
func (t *HostType) HookNames() []string {
	var chain []*HostType
	for cur := t; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}

	seen := make(map[string]bool)
	var names []string
	for i := len(chain) - 1; i >= 0; i-- {
		chain[i].mu.RLock()
		for _, n := range chain[i].declared {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
		chain[i].mu.RUnlock()
	}
	return names
}

func (t *HostType) local(name string) AnyHook {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.hooks[name]
}

func (t *HostType) declare(h AnyHook) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.hooks[h.Name()]; exists {
		panic("rollcore: hook " + h.Name() + " already declared on " + t.name)
	}
	for cur := t.parent; cur != nil; cur = cur.parent {
		if cur.local(h.Name()) != nil {
			panic("rollcore: hook " + h.Name() + " already declared on ancestor " + cur.name)
		}
	}
	t.hooks[h.Name()] = h
	t.declared = append(t.declared, h.Name())
}

// shadow returns the descriptor registered on t under name, installing the
// one built by create when there is none yet.
func (t *HostType) shadow(name string, create func() AnyHook) AnyHook {
	t.mu.Lock()
	defer t.mu.Unlock()

	if h, ok := t.hooks[name]; ok {
		return h
	}
	h := create()
	t.hooks[name] = h
	return h
}
