package rollcore

import "errors"

// ResolveCtx is handed to implementations while a hook is being computed.
type ResolveCtx struct {
	host     *Host
	hook     string
	cycle    bool
	failures []error
}

// Host returns the host the hook is computed for.
func (ctx *ResolveCtx) Host() *Host {
	return ctx.host
}

// HookName returns the name of the hook being computed.
func (ctx *ResolveCtx) HookName() string {
	return ctx.hook
}

// Cycle reports whether this computation re-entered a resolution of the same
// hook on the same host. Cycle-aware implementations use it to fall back to an
// estimate instead of recursing.
func (ctx *ResolveCtx) Cycle() bool {
	return ctx.cycle
}

// Unit returns the unit owning the host, if any.
func (ctx *ResolveCtx) Unit() (*Unit, bool) {
	return ctx.host.Unit()
}

// Fail records why a candidate produced no result. Recorded failures become
// the cause of the NoValueError when no candidate succeeds.
func (ctx *ResolveCtx) Fail(err error) {
	if err != nil {
		ctx.failures = append(ctx.failures, err)
	}
}

func (ctx *ResolveCtx) cause() error {
	return errors.Join(ctx.failures...)
}

// Read gets hook k on h for use inside an implementation. Failures are recorded
// on ctx and reported as a missing result so that the caller can fall through
// to its next candidate.
func Read[T any](ctx *ResolveCtx, h Hoster, k *Hook[T]) (T, bool) {
	if target := h.HostRef(); target == ctx.host && !ctx.cycle {
		target.deps.add(ctx.hook, k.name)
	}
	v, err := k.Get(h)
	if err != nil {
		ctx.Fail(err)
		return v, false
	}
	return v, true
}

// Self reads another hook on the host being computed.
func Self[T any](ctx *ResolveCtx, k *Hook[T]) (T, bool) {
	return Read(ctx, ctx.host, k)
}
