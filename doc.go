// Package rollcore provides the attribute-resolution and convergence engine for
// multi-stage rolling simulations.
//
// # Overview
//
// Rollcore organizes a simulation around four concepts:
//
//  1. Hooks: named, typed attributes whose value comes from prioritized rules
//  2. Hosts: entities exposing hooks, with override and cache layers
//  3. Units: process stages iterating their snapshots to a fixed point
//  4. Sequences: units threading a workpiece snapshot from stage to stage
//
// # Hooks
//
// Hooks are declared once on a host type:
//
//	var Gap = rollcore.NewHook[float64](RollPass.HostType(), "gap")
//
// Rules are registered as implementations. The first one returning ok wins:
//
//	Gap.Add(func(ctx *rollcore.ResolveCtx) (float64, bool) {
//	    return 2.5, true
//	})
//
//	// Runs before every normal rule, at every type level
//	Gap.Add(fromSetup, rollcore.TryFirst())
//
//	// Only applies to hosts of the subtype
//	rollcore.Height.For(RollPass.OutType()).Add(heightFromGap)
//
// Wrappers intercept the inner resolution and may replace its result:
//
//	Gap.Wrap(func(ctx *rollcore.ResolveCtx, next func() rollcore.Result[float64]) rollcore.Result[float64] {
//	    r := next()
//	    if r.OK && r.Value < 0 {
//	        return rollcore.Some(0.0)
//	    }
//	    return r
//	})
//
// # Hosts
//
// Reads consult the override, then the cache, then compute:
//
//	p := rollcore.NewProfile(rollcore.WithValue(rollcore.Width, 10.0))
//	w, err := rollcore.Width.Get(p)
//
//	// Dynamic access by name
//	v, err := p.Resolve("width")
//
//	// Dump what exists without computing anything
//	for _, a := range p.Values() { ... }
//
// Controllers bind one hook to one host:
//
//	ctrl := rollcore.Accessor(p, rollcore.Height)
//	ctrl.Set(4)
//	ctrl.Release()
//
// # Cycles
//
// A rule reading its own hook on the same host re-enters the resolution. On
// re-entry only implementations registered with CycleAware run, and they see
// ResolveCtx.Cycle set:
//
//	Force.Add(func(ctx *rollcore.ResolveCtx) (float64, bool) {
//	    if !ctx.Cycle() {
//	        return 0, false
//	    }
//	    return Force.Previous(ctx.Host())
//	}, rollcore.CycleAware(), rollcore.TryLast())
//
// Without such a rule the read fails with a *CycleError.
//
// # Units and Sequences
//
//	pass := rollcore.NewUnit(RollPass, "P1", rollcore.WithPrecision(1e-4))
//	seq := rollcore.NewSequence("line", pass, rollcore.NewUnit(Transport, "T1"))
//
//	out, err := seq.Solve(ctx, rollcore.NewProfile(
//	    rollcore.WithValue(rollcore.Width, 10.0),
//	    rollcore.WithValue(rollcore.Height, 8.0),
//	))
//
// A unit iterates until every root hook applicable to its in-snapshot, itself
// and its out-snapshot is stable within the unit's precision:
//
//	rollcore.RootHooks.Add(rollcore.Height)
//	release := rollcore.RootHooks.AddScoped(rollcore.Width)
//	defer release()
//
// # Extensions
//
// Extensions wrap fresh hook computations and unit solves process-wide. A
// plugin registers its rules in Init and withdraws them in Dispose:
//
//	type Spread struct {
//	    rollcore.BaseExtension
//	    release func()
//	}
//
//	func (s *Spread) Init() error {
//	    s.release = rollcore.Width.For(RollPass.OutType()).Scoped(spreadWidth)
//	    return nil
//	}
//
//	rollcore.UseExtension(&Spread{BaseExtension: rollcore.NewBaseExtension("spread")})
//
// # Solve Tree
//
// Solves started with a tree in their context record into it:
//
//	tree := rollcore.NewSolveTree(1000)
//	out, err := seq.Solve(rollcore.WithSolveTree(ctx, tree), in)
//
//	for _, root := range tree.Roots() {
//	    tree.Walk(root.ID, func(rec *rollcore.SolveRecord, depth int) bool {
//	        fmt.Printf("%*s%s %s\n", depth*2, "", rec.Unit, rec.Status)
//	        return true
//	    })
//	}
//
// # Thread Safety
//
// Registration is copy-on-write and may happen concurrently with solves.
// A single unit tree is not safe for concurrent use; independent trees may be
// solved in parallel.
package rollcore
