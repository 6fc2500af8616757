package rollcore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Extension provides hooks into resolution and solving. Extensions are
// process-wide; plugins use Init and Dispose to register and withdraw their
// implementations and root hooks.
type Extension interface {
	// Name returns the extension's name
	Name() string

	// Order determines extension execution order (lower = outer)
	Order() int

	// Init is called when the extension is registered
	Init() error

	// Wrap intercepts operations (fresh hook resolution, unit solve)
	Wrap(ctx context.Context, next func() (any, error), op *Operation) (any, error)

	// OnError is notified of failed operations
	OnError(err error, op *Operation)

	// Dispose is called when the extension is removed
	Dispose() error
}

// BaseExtension provides default implementations for Extension methods
type BaseExtension struct {
	name string
}

// NewBaseExtension creates a new base extension with the given name
func NewBaseExtension(name string) BaseExtension {
	return BaseExtension{name: name}
}

func (e *BaseExtension) Name() string {
	return e.name
}

func (e *BaseExtension) Order() int {
	return 100
}

func (e *BaseExtension) Init() error {
	return nil
}

func (e *BaseExtension) Wrap(ctx context.Context, next func() (any, error), op *Operation) (any, error) {
	return next()
}

func (e *BaseExtension) OnError(err error, op *Operation) {
}

func (e *BaseExtension) Dispose() error {
	return nil
}

// Operation describes what operation is happening
type Operation struct {
	Kind OperationKind
	// Hook and Host are set for OpResolve.
	Hook string
	Host *Host
	// Unit is set for OpSolve.
	Unit *Unit
	// RunID identifies the solve for OpSolve.
	RunID string
}

// OperationKind represents the type of operation
type OperationKind string

const (
	// OpResolve indicates a fresh hook computation (not an override or cache hit)
	OpResolve OperationKind = "resolve"
	// OpSolve indicates a unit solve
	OpSolve OperationKind = "solve"
)

var (
	extMu      sync.Mutex
	extensions atomic.Pointer[[]Extension]
)

// UseExtension registers ext process-wide and initializes it. A failing Init
// leaves the extension unregistered.
func UseExtension(ext Extension) error {
	extMu.Lock()
	defer extMu.Unlock()

	cur := loadExtensions()
	for _, e := range cur {
		if e.Name() == ext.Name() {
			return fmt.Errorf("extension %q already registered", ext.Name())
		}
	}
	if err := ext.Init(); err != nil {
		return fmt.Errorf("initializing extension %s: %w", ext.Name(), err)
	}

	next := make([]Extension, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, ext)
	sort.SliceStable(next, func(i, j int) bool {
		return next[i].Order() < next[j].Order()
	})
	extensions.Store(&next)
	return nil
}

// RemoveExtension unregisters the extension called name and disposes it.
func RemoveExtension(name string) error {
	extMu.Lock()
	defer extMu.Unlock()

	cur := loadExtensions()
	for i, e := range cur {
		if e.Name() != name {
			continue
		}
		next := make([]Extension, 0, len(cur)-1)
		next = append(next, cur[:i]...)
		next = append(next, cur[i+1:]...)
		extensions.Store(&next)
		if err := e.Dispose(); err != nil {
			return fmt.Errorf("disposing extension %s: %w", name, err)
		}
		return nil
	}
	return fmt.Errorf("extension %q not registered", name)
}

// Extensions returns the registered extensions in order.
func Extensions() []Extension {
	cur := loadExtensions()
	out := make([]Extension, len(cur))
	copy(out, cur)
	return out
}

func loadExtensions() []Extension {
	if p := extensions.Load(); p != nil {
		return *p
	}
	return nil
}

// runExtensions chains the registered extensions around fn (middleware
// pattern) and notifies them of a failure.
func runExtensions(ctx context.Context, op *Operation, fn func() (any, error)) (any, error) {
	exts := loadExtensions()
	if len(exts) == 0 {
		return fn()
	}

	next := fn
	// Apply extensions in reverse order (lowest order wraps outermost)
	for i := len(exts) - 1; i >= 0; i-- {
		ext := exts[i]
		currentNext := next
		next = func() (any, error) {
			return ext.Wrap(ctx, currentNext, op)
		}
	}

	result, err := next()
	if err != nil {
		for _, ext := range exts {
			ext.OnError(err, op)
		}
	}
	return result, err
}
