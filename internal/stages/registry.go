package stages

import (
	"fmt"
	"sort"
	"sync"

	rollcore "github.com/pyroll-project/pyroll-core-sub000"
)

var (
	typesMu sync.RWMutex
	types   = make(map[string]*rollcore.UnitType)
)

func register(ts ...*rollcore.UnitType) {
	typesMu.Lock()
	defer typesMu.Unlock()
	for _, t := range ts {
		types[t.Name()] = t
	}
}

// Register makes a unit type available to schedules under its name.
func Register(t *rollcore.UnitType) error {
	typesMu.Lock()
	defer typesMu.Unlock()

	if _, exists := types[t.Name()]; exists {
		return fmt.Errorf("unit type %q already registered", t.Name())
	}
	types[t.Name()] = t
	return nil
}

// Lookup finds a unit type by name.
func Lookup(name string) (*rollcore.UnitType, bool) {
	typesMu.RLock()
	defer typesMu.RUnlock()
	t, ok := types[name]
	return t, ok
}

// Types lists the registered type names.
func Types() []string {
	typesMu.RLock()
	defer typesMu.RUnlock()

	names := make([]string, 0, len(types))
	for n := range types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
