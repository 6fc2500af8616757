package rollcore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Hoster is implemented by everything that exposes hooks: *Host itself and
// the types embedding it (Profile, Unit).
type Hoster interface {
	HostRef() *Host
}

// Host carries the attribute state of one entity. Reads go through three
// layers: explicit overrides, cached computed values, and fresh resolution.
// Values inherited from a predecessor snapshot are the last fallback of a
// fresh resolution.
type Host struct {
	typ   *HostType
	label string
	unit  Handle

	overrides *store
	cache     *store
	inherited *store
	previous  *store
	deps      *depGraph

	resolving map[string]bool
	stack     []string
	frozen    bool
}

// NewHost creates an empty host of type t.
func NewHost(t *HostType, label string) *Host {
	return &Host{
		typ:       t,
		label:     label,
		overrides: newStore(),
		cache:     newStore(),
		inherited: newStore(),
		previous:  newStore(),
		deps:      newDepGraph(),
		resolving: make(map[string]bool),
	}
}

func (h *Host) HostRef() *Host {
	return h
}

// Type returns the host's type.
func (h *Host) Type() *HostType {
	return h.typ
}

// Label returns the diagnostic label.
func (h *Host) Label() string {
	if h.label == "" {
		return h.typ.name
	}
	return h.label
}

// Unit returns the unit the host belongs to, if any.
func (h *Host) Unit() (*Unit, bool) {
	return h.unit.Unit()
}

// Frozen reports whether the host rejects writes.
func (h *Host) Frozen() bool {
	return h.frozen
}

// Resolve reads the attribute called name. Names of hooks dispatch through the
// hook; other names only resolve when they were copied in as plain fields.
func (h *Host) Resolve(name string) (any, error) {
	d, ok := h.typ.Lookup(name)
	if !ok {
		if v, ok := h.overrides.Load(name); ok {
			return v, nil
		}
		return nil, unknownAttribute(h.Label(), name)
	}
	return h.get(d.Base())
}

// Set writes an explicit override by name.
func (h *Host) Set(name string, v any) error {
	d, ok := h.typ.Lookup(name)
	if !ok {
		return unknownAttribute(h.Label(), name)
	}
	return h.set(d.Base(), v)
}

// Clear removes the override called name.
func (h *Host) Clear(name string) bool {
	return h.clear(name)
}

// HasSet reports an explicit override.
func (h *Host) HasSet(name string) bool {
	return h.overrides.Has(name)
}

// HasCached reports a cached computed value.
func (h *Host) HasCached(name string) bool {
	return h.cache.Has(name)
}

// HasSetOrCached reports a value that can be read without computing.
func (h *Host) HasSetOrCached(name string) bool {
	return h.HasSet(name) || h.HasCached(name)
}

// HasValue reports whether name can be read without failing. A successful
// computation is cached like any other read.
func (h *Host) HasValue(name string) bool {
	_, err := h.Resolve(name)
	return err == nil
}

// ClearCache drops all cached values. Overrides stay. The dropped values stay
// reachable through Hook.Previous until replaced.
func (h *Host) ClearCache() {
	h.cache.Range(func(k string, v any) bool {
		h.previous.Store(k, v)
		return true
	})
	h.cache.Clear()
	h.deps.reset()
}

// Invalidate drops the cached value of name and of every cached hook that
// read it while being computed, directly or indirectly. It returns the names
// whose cached values were dropped.
func (h *Host) Invalidate(name string) []string {
	var dropped []string
	for _, n := range append([]string{name}, h.deps.dependents(name)...) {
		if h.cache.Delete(n) {
			dropped = append(dropped, n)
		}
	}
	return dropped
}

// Dependencies maps each hook computed since the last cache clear to the
// hooks of the same host it read.
func (h *Host) Dependencies() map[string][]string {
	return h.deps.export()
}

// ReevaluateCache clears the cache and recomputes every registered root hook
// applicable to this host. Hooks without a value are skipped; other failures
// are returned.
func (h *Host) ReevaluateCache() error {
	h.ClearCache()
	var errs []error
	for _, d := range RootHooks.ApplicableTo(h.typ) {
		if _, err := h.get(d); err != nil && !errors.Is(err, ErrNoValue) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Values dumps what already exists: set or cached attributes in declaration
// order, followed by plain fields. It never resolves anything.
func (h *Host) Values() []Attr {
	return h.dump(false)
}

// ValueMap is Values as a map.
func (h *Host) ValueMap() map[string]any {
	m := make(map[string]any)
	for _, a := range h.Values() {
		m[a.Name] = a.Value
	}
	return m
}

// Fields is Values plus the inherited values not shadowed by a set or cached
// one. Snapshot copies are built from it.
func (h *Host) Fields() []Attr {
	return h.dump(true)
}

func (h *Host) dump(withInherited bool) []Attr {
	var out []Attr
	seen := make(map[string]bool)
	add := func(name string, v any) {
		if !seen[name] {
			seen[name] = true
			out = append(out, Attr{Name: name, Value: v})
		}
	}

	for _, name := range h.typ.HookNames() {
		if v, ok := h.peek(name); ok {
			add(name, v)
		} else if withInherited {
			if v, ok := h.inherited.Load(name); ok {
				add(name, v)
			}
		}
	}

	layers := []*store{h.overrides, h.cache}
	if withInherited {
		layers = append(layers, h.inherited)
	}
	for _, s := range layers {
		s.Range(func(k string, v any) bool {
			add(k, v)
			return true
		})
	}
	return out
}

func (h *Host) peek(name string) (any, bool) {
	if v, ok := h.overrides.Load(name); ok {
		return v, true
	}
	return h.cache.Load(name)
}

func (h *Host) get(d AnyHook) (any, error) {
	name := d.Name()
	if !h.typ.IsA(d.Owner()) {
		return nil, unknownAttribute(h.Label(), name)
	}
	if v, ok := h.overrides.Load(name); ok {
		return v, nil
	}
	if v, ok := h.cache.Load(name); ok {
		return v, nil
	}
	if h.resolving[name] {
		// re-entry: only cycle-aware rules run and nothing is cached
		return d.compute(h, true)
	}

	v, err := h.resolveFresh(d)
	if err != nil {
		if errors.Is(err, ErrCycle) {
			L().Warn("hook resolution ended in a cycle; check for missing input or conflicting plugins",
				zap.String("host", h.Label()),
				zap.String("hook", name),
				zap.Error(err),
			)
		}
		return nil, err
	}
	h.cache.Store(name, v)
	return v, nil
}

func (h *Host) resolveFresh(d AnyHook) (any, error) {
	name := d.Name()
	h.resolving[name] = true
	h.stack = append(h.stack, name)
	defer func() {
		h.stack = h.stack[:len(h.stack)-1]
		delete(h.resolving, name)
	}()

	op := &Operation{Kind: OpResolve, Hook: name, Host: h}
	return runExtensions(context.Background(), op, func() (any, error) {
		return d.compute(h, false)
	})
}

func (h *Host) set(d AnyHook, v any) error {
	if h.frozen {
		return fmt.Errorf("%s.%s: %w", h.Label(), d.Name(), ErrFrozen)
	}
	if !h.typ.IsA(d.Owner()) {
		return unknownAttribute(h.Label(), d.Name())
	}
	cv, err := d.coerce(v)
	if err != nil {
		return fmt.Errorf("%s: %w", h.Label(), err)
	}
	h.overrides.Store(d.Name(), cv)
	return nil
}

func (h *Host) clear(name string) bool {
	if h.frozen {
		return false
	}
	return h.overrides.Delete(name)
}

func (h *Host) resolvingNames() []string {
	out := make([]string, len(h.stack))
	copy(out, h.stack)
	return out
}

// copyFields seeds dst from src's public fields, as overrides or as inherited
// fallbacks.
func copyFields(dst *Host, src []Attr, asOverrides bool) {
	target := dst.inherited
	if asOverrides {
		target = dst.overrides
	}
	for _, a := range src {
		target.Store(a.Name, a.Value)
	}
}
