package rollcore

// Controller binds one hook to one host for repeated access.
type Controller[T any] struct {
	hook *Hook[T]
	host *Host
}

// Accessor creates a controller for hook k on h.
func Accessor[T any](h Hoster, k *Hook[T]) *Controller[T] {
	return &Controller[T]{hook: k.root(), host: h.HostRef()}
}

// Get reads the value (resolves if neither set nor cached)
func (c *Controller[T]) Get() (T, error) {
	return c.hook.Get(c.host)
}

// Peek returns the set or cached value without resolving
func (c *Controller[T]) Peek() (T, bool) {
	return c.hook.Peek(c.host)
}

// Set writes an explicit override
func (c *Controller[T]) Set(v T) error {
	return c.hook.Set(c.host, v)
}

// Clear removes the override
func (c *Controller[T]) Clear() bool {
	return c.hook.Clear(c.host)
}

// Release invalidates the cached value
func (c *Controller[T]) Release() {
	c.host.cache.Delete(c.hook.name)
}

// Invalidate drops the cached value and those of the hooks computed from it
func (c *Controller[T]) Invalidate() []string {
	return c.host.Invalidate(c.hook.name)
}

// Reload invalidates and immediately re-resolves
func (c *Controller[T]) Reload() (T, error) {
	c.Release()
	return c.Get()
}

// IsCached checks if a computed value is currently cached
func (c *Controller[T]) IsCached() bool {
	return c.host.HasCached(c.hook.name)
}

// IsSet checks if an override is present
func (c *Controller[T]) IsSet() bool {
	return c.host.HasSet(c.hook.name)
}
