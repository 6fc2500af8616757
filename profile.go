package rollcore

import "fmt"

// ProfileType is the root type of all workpiece snapshots.
var ProfileType = NewHostType("Profile", nil)

// Hooks every snapshot carries.
var (
	Width  = NewHook[float64](ProfileType, "width")
	Height = NewHook[float64](ProfileType, "height")
	// Shape classifies the cross-section, for example "round" or "box".
	Shape = NewHook[string](ProfileType, "shape")
)

// Profile is the workpiece state at a unit boundary.
type Profile struct {
	*Host
}

// ProfileOption seeds a profile at construction.
type ProfileOption func(*Profile)

// WithValue seeds hook k with an explicit override. It panics when k is not
// available on the profile's type, like any other construction-time misuse.
func WithValue[T any](k *Hook[T], v T) ProfileOption {
	return func(p *Profile) {
		if err := k.Set(p, v); err != nil {
			panic(fmt.Sprintf("rollcore: seeding profile: %v", err))
		}
	}
}

// WithField seeds a value by name, for callers working from configuration.
func WithField(name string, v any) ProfileOption {
	return func(p *Profile) {
		if err := p.Set(name, v); err != nil {
			panic(fmt.Sprintf("rollcore: seeding profile: %v", err))
		}
	}
}

// NewProfile creates a free-standing snapshot of ProfileType.
func NewProfile(opts ...ProfileOption) *Profile {
	return NewProfileOf(ProfileType, opts...)
}

// NewProfileOf creates a snapshot of a specific profile type.
func NewProfileOf(t *HostType, opts ...ProfileOption) *Profile {
	if !t.IsA(ProfileType) {
		panic("rollcore: " + t.name + " is not a profile type")
	}
	p := &Profile{Host: NewHost(t, t.name)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Freeze returns an immutable copy carrying p's public fields as overrides.
func (p *Profile) Freeze() *Profile {
	if p.frozen {
		return p
	}
	return freezeAs(p, p.typ, p.label, p.unit)
}

func freezeAs(src *Profile, t *HostType, label string, unit Handle) *Profile {
	out := &Profile{Host: NewHost(t, label)}
	out.unit = unit
	if src != nil {
		copyFields(out.Host, src.Fields(), true)
	}
	out.frozen = true
	return out
}

// derive creates a fresh snapshot of type t for unit u. With asOverrides the
// source fields are fixed inputs; otherwise they are fallbacks that rules of
// t may replace.
func derive(t *HostType, src *Profile, u *Unit, role string, asOverrides bool) *Profile {
	p := &Profile{Host: NewHost(t, u.Label()+"."+role)}
	p.unit = u.handle
	if src != nil {
		copyFields(p.Host, src.Fields(), asOverrides)
	}
	return p
}
