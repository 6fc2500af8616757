package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlSchedule = `
name: bar-line
solver:
  precision: 0.001
input:
  width: 10
  height: 8
  shape: box
plugins: [spread]
units:
  - label: P1
    type: roll-pass
    values:
      gap: 2.5
  - label: T1
    type: transport
    values:
      length: 3
      velocity: 1.5
`

const tomlSchedule = `
name = "bar-line"
plugins = ["spread"]

[solver]
max_iterations = 50
on_limit = "warn"

[input]
width = 10.0
height = 8.0

[[units]]
label = "P1"
type = "roll-pass"
disk_elements = 3

[units.values]
gap = 2.5
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(writeFile(t, "line.yaml", yamlSchedule))
	require.NoError(t, err)

	assert.Equal(t, "bar-line", cfg.Name)
	assert.Equal(t, 100, cfg.Solver.MaxIterations, "default kept when not set")
	assert.Equal(t, 0.001, cfg.Solver.Precision)
	assert.Equal(t, OnLimitFail, cfg.Solver.OnLimit)
	assert.Equal(t, []string{"spread"}, cfg.Plugins)

	want := []UnitConfig{
		{Label: "P1", Type: "roll-pass", Values: map[string]any{"gap": 2.5}},
		{Label: "T1", Type: "transport", Values: map[string]any{"length": 3, "velocity": 1.5}},
	}
	if diff := cmp.Diff(want, cfg.Units); diff != "" {
		t.Errorf("units mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadTOML(t *testing.T) {
	cfg, err := Load(writeFile(t, "line.toml", tomlSchedule))
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Solver.MaxIterations)
	assert.Equal(t, 1e-2, cfg.Solver.Precision)
	assert.Equal(t, OnLimitWarn, cfg.Solver.OnLimit)
	require.Len(t, cfg.Units, 1)
	assert.Equal(t, 3, cfg.Units[0].DiskElements)
	assert.Equal(t, 2.5, cfg.Units[0].Values["gap"])
}

func TestLoadNamesScheduleAfterFile(t *testing.T) {
	cfg, err := Load(writeFile(t, "finishing.yml", `
input: {width: 4, height: 4}
units: [{label: A, type: transport}]
`))
	require.NoError(t, err)
	assert.Equal(t, "finishing", cfg.Name)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(EnvMaxIterations, "7")
	t.Setenv(EnvPrecision, "0.05")
	t.Setenv(EnvOnLimit, "WARN")

	cfg, err := Load(writeFile(t, "line.yaml", yamlSchedule))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Solver.MaxIterations)
	assert.Equal(t, 0.05, cfg.Solver.Precision)
	assert.Equal(t, OnLimitWarn, cfg.Solver.OnLimit)
}

func TestLoadInvalidEnvOverride(t *testing.T) {
	t.Setenv(EnvMaxIterations, "many")

	_, err := Load(writeFile(t, "line.yaml", yamlSchedule))
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvMaxIterations)
}

func TestLoadRejectsUnknownTOMLKeys(t *testing.T) {
	_, err := Load(writeFile(t, "line.toml", "speed = 3\n"+tomlSchedule))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "speed")
}

func TestLoadUnsupportedExtension(t *testing.T) {
	_, err := Load(writeFile(t, "line.json", `{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidateSchedule(t *testing.T) {
	valid := func() *Schedule {
		s := DefaultSchedule()
		s.Name = "s"
		s.Input = ProfileConfig{Width: 10, Height: 8}
		s.Units = []UnitConfig{{Label: "P1", Type: "roll-pass"}}
		return s
	}

	tests := []struct {
		name    string
		mutate  func(s *Schedule)
		wantErr string
	}{
		{"valid", func(s *Schedule) {}, ""},
		{"zero iterations", func(s *Schedule) { s.Solver.MaxIterations = 0 }, "max_iterations"},
		{"precision too large", func(s *Schedule) { s.Solver.Precision = 1 }, "precision"},
		{"bad policy", func(s *Schedule) { s.Solver.OnLimit = "ignore" }, "on_limit"},
		{"no input", func(s *Schedule) { s.Input.Height = 0 }, "input"},
		{"no units", func(s *Schedule) { s.Units = nil }, "no units"},
		{"missing label", func(s *Schedule) { s.Units[0].Label = "" }, "label is required"},
		{"missing type", func(s *Schedule) { s.Units[0].Type = "" }, "type is required"},
		{"duplicate label", func(s *Schedule) {
			s.Units = append(s.Units, UnitConfig{Label: "P1", Type: "transport"})
		}, "duplicate label"},
		{"children outside sequence", func(s *Schedule) {
			s.Units[0].Units = []UnitConfig{{Label: "X", Type: "transport"}}
		}, "only sequences"},
		{"nested sequence", func(s *Schedule) {
			s.Units = append(s.Units, UnitConfig{Label: "S", Type: "sequence",
				Units: []UnitConfig{{Label: "T", Type: "transport"}}})
		}, ""},
		{"negative disk elements", func(s *Schedule) { s.Units[0].DiskElements = -1 }, "disk_elements"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(s)
			err := ValidateSchedule(s)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSaveAndReload(t *testing.T) {
	cfg, err := Load(writeFile(t, "line.yaml", yamlSchedule))
	require.NoError(t, err)

	for _, name := range []string{"out/line.yaml", "out/line.toml"} {
		t.Run(filepath.Ext(name), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, cfg.Save(path))

			back, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, cfg.Name, back.Name)
			assert.Equal(t, cfg.Solver, back.Solver)
			assert.Equal(t, cfg.Input.Width, back.Input.Width)
			require.Len(t, back.Units, len(cfg.Units))
			assert.Equal(t, cfg.Units[1].Label, back.Units[1].Label)
		})
	}
}

func TestValidateReportsEveryField(t *testing.T) {
	s := DefaultSchedule()
	s.Solver.MaxIterations = 0
	s.Solver.OnLimit = "ignore"
	s.Input = ProfileConfig{Width: 10, Height: 8}
	s.Units = []UnitConfig{{Label: "P1", Type: "roll-pass", OnLimit: "retry"}}

	err := ValidateSchedule(s)
	require.Error(t, err)
	for _, want := range []string{
		"solver.max_iterations must be at least 1",
		`solver.on_limit must be one of fail warn (got "ignore")`,
		`units[0].on_limit must be one of fail warn (got "retry")`,
	} {
		assert.Contains(t, err.Error(), want)
	}
}
