package stages

import (
	"fmt"

	rollcore "github.com/pyroll-project/pyroll-core-sub000"
	"github.com/pyroll-project/pyroll-core-sub000/internal/config"
)

// Build turns a schedule into a sequence of units and the incoming profile.
func Build(s *config.Schedule) (*rollcore.Unit, *rollcore.Profile, error) {
	Setup()

	in, err := buildProfile(s.Input)
	if err != nil {
		return nil, nil, err
	}
	units, err := buildUnits(s.Units, s.Solver)
	if err != nil {
		return nil, nil, err
	}
	return rollcore.NewSequence(s.Name, units...), in, nil
}

func buildProfile(c config.ProfileConfig) (*rollcore.Profile, error) {
	p := rollcore.NewProfile(
		rollcore.WithValue(rollcore.Width, c.Width),
		rollcore.WithValue(rollcore.Height, c.Height),
	)
	if c.Shape != "" {
		if err := rollcore.Shape.Set(p, c.Shape); err != nil {
			return nil, err
		}
	}
	for name, v := range c.Values {
		if err := p.Set(name, v); err != nil {
			return nil, fmt.Errorf("input: %w", err)
		}
	}
	return p, nil
}

func buildUnits(cs []config.UnitConfig, solver config.SolverConfig) ([]*rollcore.Unit, error) {
	units := make([]*rollcore.Unit, 0, len(cs))
	for _, c := range cs {
		u, err := buildUnit(c, solver)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, nil
}

func buildUnit(c config.UnitConfig, solver config.SolverConfig) (*rollcore.Unit, error) {
	t, ok := Lookup(c.Type)
	if !ok {
		return nil, fmt.Errorf("unit %q: unknown type %q (available: %v)", c.Label, c.Type, Types())
	}

	if t.IsA(rollcore.SequenceType) {
		children, err := buildUnits(c.Units, solver)
		if err != nil {
			return nil, err
		}
		return rollcore.NewSequence(c.Label, children...), nil
	}

	u := rollcore.NewUnit(t, c.Label, unitOptions(c, solver)...)
	for name, v := range c.Values {
		if err := u.Set(name, v); err != nil {
			return nil, err
		}
	}
	return u, nil
}

func unitOptions(c config.UnitConfig, solver config.SolverConfig) []rollcore.UnitOption {
	maxIter, precision, onLimit := solver.MaxIterations, solver.Precision, solver.OnLimit
	if c.MaxIterations > 0 {
		maxIter = c.MaxIterations
	}
	if c.Precision > 0 {
		precision = c.Precision
	}
	if c.OnLimit != "" {
		onLimit = c.OnLimit
	}

	policy := rollcore.FailOnLimit
	if onLimit == config.OnLimitWarn {
		policy = rollcore.WarnOnLimit
	}

	opts := []rollcore.UnitOption{
		rollcore.WithMaxIterations(maxIter),
		rollcore.WithPrecision(precision),
		rollcore.WithLimitPolicy(policy),
	}
	if c.DiskElements > 0 {
		opts = append(opts, rollcore.WithDiskElements(c.DiskElements))
	}
	return opts
}
