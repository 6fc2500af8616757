package rollcore

import (
	"context"
	"fmt"
)

// SequenceType is the unit type of pass sequences.
var SequenceType = NewUnitType("sequence", nil, func(t *UnitType) { t.sequence = true })

// NewSequence creates a sequence solving units left to right.
func NewSequence(label string, units ...*Unit) *Unit {
	s := NewUnit(SequenceType, label)
	s.Append(units...)
	return s
}

// IsSequence reports whether u threads its children instead of iterating.
func (u *Unit) IsSequence() bool {
	return u.utype.sequence
}

// Append adds units to the end of the sequence. They move into the
// sequence's arena. It panics when u is not a sequence.
func (u *Unit) Append(units ...*Unit) {
	if !u.utype.sequence {
		panic(fmt.Sprintf("rollcore: unit %q is not a sequence", u.Label()))
	}
	for _, c := range units {
		u.handle.arena.adopt(c, u.handle)
		u.children = append(u.children, c)
	}
}

// Units returns the direct children of a sequence.
func (u *Unit) Units() []*Unit {
	return u.Subunits()
}

// Flatten returns the leaf units in solve order, descending into nested
// sequences.
func (u *Unit) Flatten() []*Unit {
	var out []*Unit
	for _, c := range u.children {
		if c.utype.sequence {
			out = append(out, c.Flatten()...)
			continue
		}
		out = append(out, c)
	}
	return out
}

func (u *Unit) solveSequence(ctx context.Context, in *Profile) (*Profile, error) {
	u.iterations, u.converged = 1, true
	u.in = freezeAs(in, u.utype.in, u.Label()+".in", u.handle)

	last := in
	for i, c := range u.children {
		out, err := c.Solve(ctx, last)
		if err != nil {
			u.converged = false
			return nil, &UnitError{Unit: c.Label(), Type: c.utype.name, Index: i, Err: err}
		}
		u.converged = u.converged && c.converged
		last = out
	}

	u.out = freezeAs(last, u.utype.out, u.Label()+".out", u.handle)
	return u.out, nil
}
