package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment variables overriding the solver settings of a schedule.
const (
	EnvMaxIterations = "ROLLSIM_MAX_ITERATIONS"
	EnvPrecision     = "ROLLSIM_PRECISION"
	EnvOnLimit       = "ROLLSIM_ON_LIMIT"
)

// Limit policies accepted in on_limit.
const (
	OnLimitFail = "fail"
	OnLimitWarn = "warn"
)

// Schedule describes a rolling line: the incoming workpiece, the stages it
// passes and the solver settings.
type Schedule struct {
	Name    string        `yaml:"name" toml:"name"`
	Solver  SolverConfig  `yaml:"solver" toml:"solver"`
	Input   ProfileConfig `yaml:"input" toml:"input"`
	Plugins []string      `yaml:"plugins,omitempty" toml:"plugins,omitempty" validate:"dive,required"`
	Units   []UnitConfig  `yaml:"units" toml:"units" validate:"dive"`
}

// SolverConfig holds the iteration controls applied to every unit unless the
// unit sets its own.
type SolverConfig struct {
	MaxIterations int     `yaml:"max_iterations" toml:"max_iterations" validate:"gte=1"`
	Precision     float64 `yaml:"precision" toml:"precision" validate:"gt=0,lt=1"`
	OnLimit       string  `yaml:"on_limit" toml:"on_limit" validate:"oneof=fail warn"`
}

// ProfileConfig seeds the incoming snapshot.
type ProfileConfig struct {
	Width  float64        `yaml:"width" toml:"width" validate:"gt=0"`
	Height float64        `yaml:"height" toml:"height" validate:"gt=0"`
	Shape  string         `yaml:"shape,omitempty" toml:"shape,omitempty"`
	Values map[string]any `yaml:"values,omitempty" toml:"values,omitempty"`
}

// UnitConfig is one stage. Units of type "sequence" list their own units.
type UnitConfig struct {
	Label         string         `yaml:"label" toml:"label" validate:"required"`
	Type          string         `yaml:"type" toml:"type" validate:"required"`
	MaxIterations int            `yaml:"max_iterations,omitempty" toml:"max_iterations,omitempty" validate:"gte=0"`
	Precision     float64        `yaml:"precision,omitempty" toml:"precision,omitempty" validate:"gte=0,lt=1"`
	OnLimit       string         `yaml:"on_limit,omitempty" toml:"on_limit,omitempty" validate:"omitempty,oneof=fail warn"`
	DiskElements  int            `yaml:"disk_elements,omitempty" toml:"disk_elements,omitempty" validate:"gte=0"`
	Values        map[string]any `yaml:"values,omitempty" toml:"values,omitempty"`
	Units         []UnitConfig   `yaml:"units,omitempty" toml:"units,omitempty" validate:"dive"`
}

// DefaultSchedule returns a schedule with default solver settings and no units.
// Load names unnamed schedules after their file.
func DefaultSchedule() *Schedule {
	return &Schedule{
		Solver: SolverConfig{
			MaxIterations: 100,
			Precision:     1e-2,
			OnLimit:       OnLimitFail,
		},
	}
}

// Load reads a schedule from a YAML or TOML file, chosen by extension, applies
// environment overrides and validates the result.
func Load(path string) (*Schedule, error) {
	cfg := DefaultSchedule()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schedule load failed (%s): %w", path, err)
	}
	if err := Parse(data, formatOf(path), cfg); err != nil {
		return nil, fmt.Errorf("schedule parse failed (%s): %w", path, err)
	}
	if cfg.Name == "" {
		cfg.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := ValidateSchedule(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Format is a schedule file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

func formatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML
	case ".yaml", ".yml":
		return FormatYAML
	}
	return ""
}

// Parse decodes data in format f over cfg. Unknown TOML keys are rejected.
func Parse(data []byte, f Format, cfg *Schedule) error {
	switch f {
	case FormatYAML:
		return yaml.Unmarshal(data, cfg)
	case FormatTOML:
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
		}
		return nil
	}
	return fmt.Errorf("unsupported schedule format %q", f)
}

// Save writes the schedule in the format implied by path.
func (s *Schedule) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create schedule directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to write schedule: %w", err)
	}
	defer f.Close()

	switch formatOf(path) {
	case FormatTOML:
		err = toml.NewEncoder(f).Encode(s)
	case FormatYAML:
		enc := yaml.NewEncoder(f)
		enc.SetIndent(2)
		if err = enc.Encode(s); err == nil {
			err = enc.Close()
		}
	default:
		err = fmt.Errorf("unsupported schedule format for %s", path)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal schedule: %w", err)
	}
	return nil
}

func (s *Schedule) applyEnvOverrides() error {
	if v := os.Getenv(EnvMaxIterations); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxIterations, err)
		}
		s.Solver.MaxIterations = n
	}
	if v := os.Getenv(EnvPrecision); v != "" {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPrecision, err)
		}
		s.Solver.Precision = p
	}
	if v := os.Getenv(EnvOnLimit); v != "" {
		s.Solver.OnLimit = strings.ToLower(v)
	}
	return nil
}

var validate = newValidator()

// newValidator reports fields by their schedule file names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateSchedule checks the schedule for values the solver cannot work with.
func ValidateSchedule(s *Schedule) error {
	if err := check(s); err != nil {
		return err
	}
	if len(s.Units) == 0 {
		return fmt.Errorf("schedule %q has no units", s.Name)
	}
	seen := make(map[string]bool)
	return validateUnits(s.Units, "units", seen)
}

// ValidateSolver checks iteration controls.
func ValidateSolver(c SolverConfig) error {
	return check(&c)
}

func check(v any) error {
	err := validate.Struct(v)
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, len(fieldErrs))
	for i, fe := range fieldErrs {
		msgs[i] = describe(fe)
	}
	return fmt.Errorf("invalid schedule: %s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	// drop the struct type name
	_, field, _ := strings.Cut(fe.Namespace(), ".")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of %s (got %q)", field, fe.Param(), fe.Value())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s (got %v)", field, fe.Param(), fe.Value())
	case "gte":
		return fmt.Sprintf("%s must be at least %s (got %v)", field, fe.Param(), fe.Value())
	case "lt":
		return fmt.Sprintf("%s must be less than %s (got %v)", field, fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value())
}

// validateUnits checks what tags cannot express: unique labels and children
// only below sequences.
func validateUnits(units []UnitConfig, path string, seen map[string]bool) error {
	for i, u := range units {
		at := fmt.Sprintf("%s[%d]", path, i)
		if seen[u.Label] {
			return fmt.Errorf("%s: duplicate label %q", at, u.Label)
		}
		seen[u.Label] = true
		if len(u.Units) > 0 {
			if u.Type != "sequence" {
				return fmt.Errorf("%s (%s): only sequences may contain units", at, u.Label)
			}
			if err := validateUnits(u.Units, at+".units", seen); err != nil {
				return err
			}
		}
	}
	return nil
}
