package stages

import (
	"errors"
	"fmt"
	"math"
	"sort"

	rollcore "github.com/pyroll-project/pyroll-core-sub000"
)

// DefaultSpreadExponent is the exponent of the power-law spread model.
const DefaultSpreadExponent = 0.4

// SpreadPlugin models lateral spread in roll passes. While registered it
// derives the exit width from the height reduction and makes the width a
// convergence target.
type SpreadPlugin struct {
	rollcore.BaseExtension
	Exponent float64

	releaseRule func()
	releaseRoot func()
}

// NewSpreadPlugin creates the plugin with the given exponent.
func NewSpreadPlugin(exponent float64) *SpreadPlugin {
	return &SpreadPlugin{
		BaseExtension: rollcore.NewBaseExtension("spread"),
		Exponent:      exponent,
	}
}

func (p *SpreadPlugin) Init() error {
	Setup()
	p.releaseRule = rollcore.Width.For(RollPass.OutType()).Scoped(p.width, rollcore.Named("power-law-spread"))
	p.releaseRoot = rollcore.RootHooks.AddScoped(rollcore.Width)
	return nil
}

func (p *SpreadPlugin) Dispose() error {
	if p.releaseRule != nil {
		p.releaseRule()
	}
	if p.releaseRoot != nil {
		p.releaseRoot()
	}
	return nil
}

func (p *SpreadPlugin) width(ctx *rollcore.ResolveCtx) (float64, bool) {
	u, ok := ctx.Unit()
	if !ok || u.InProfile() == nil {
		return 0, false
	}
	w0, ok := rollcore.Read(ctx, u.InProfile(), rollcore.Width)
	if !ok {
		return 0, false
	}
	h0, ok := rollcore.Read(ctx, u.InProfile(), rollcore.Height)
	if !ok {
		return 0, false
	}
	h1, ok := rollcore.Self(ctx, rollcore.Height)
	if !ok || h1 <= 0 {
		return 0, false
	}
	return w0 * math.Pow(h0/h1, p.Exponent), true
}

var plugins = map[string]func() rollcore.Extension{
	"spread": func() rollcore.Extension { return NewSpreadPlugin(DefaultSpreadExponent) },
}

// Plugins lists the plugin names schedules may activate.
func Plugins() []string {
	names := make([]string, 0, len(plugins))
	for n := range plugins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Activate registers the named plugins process-wide. The returned function
// removes them again.
func Activate(names ...string) (deactivate func() error, err error) {
	var active []string
	deactivate = func() error {
		var errs []error
		for i := len(active) - 1; i >= 0; i-- {
			if err := rollcore.RemoveExtension(active[i]); err != nil {
				errs = append(errs, err)
			}
		}
		active = nil
		return errors.Join(errs...)
	}

	for _, name := range names {
		newPlugin, ok := plugins[name]
		if !ok {
			_ = deactivate()
			return nil, fmt.Errorf("unknown plugin %q (available: %v)", name, Plugins())
		}
		ext := newPlugin()
		if err := rollcore.UseExtension(ext); err != nil {
			_ = deactivate()
			return nil, err
		}
		active = append(active, ext.Name())
	}
	return deactivate, nil
}
