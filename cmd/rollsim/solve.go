package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	rollcore "github.com/pyroll-project/pyroll-core-sub000"
	"github.com/pyroll-project/pyroll-core-sub000/internal/config"
	"github.com/pyroll-project/pyroll-core-sub000/internal/stages"
)

const treeLimit = 10000

var reportOutput string

var solveCmd = &cobra.Command{
	Use:   "solve <schedule>",
	Short: "Solve a schedule and print the outgoing profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runSolve,
}

var reportCmd = &cobra.Command{
	Use:   "report <schedule>",
	Short: "Solve a schedule and write every stage's snapshots as YAML",
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List the unit types and plugins schedules may use",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stages.Setup()
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "unit types: %s\n", strings.Join(stages.Types(), ", "))
		fmt.Fprintf(w, "plugins:    %s\n", strings.Join(stages.Plugins(), ", "))
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "Write the report to a file instead of stdout")
}

// result is one solved schedule.
type result struct {
	schedule *config.Schedule
	seq      *rollcore.Unit
	out      *rollcore.Profile
	tree     *rollcore.SolveTree
	duration time.Duration
}

// solveSchedule builds and solves s. Plugins must already be active.
func solveSchedule(ctx context.Context, s *config.Schedule) (*result, error) {
	seq, in, err := stages.Build(s)
	if err != nil {
		return nil, err
	}

	tree := rollcore.NewSolveTree(treeLimit)
	start := time.Now()
	out, err := seq.Solve(rollcore.WithSolveTree(ctx, tree), in)
	if err != nil {
		logger.Error("schedule failed",
			zap.String("schedule", s.Name),
			zap.Strings("stages", rollcore.StagePath(err)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("schedule %s: %w", s.Name, err)
	}
	return &result{schedule: s, seq: seq, out: out, tree: tree, duration: time.Since(start)}, nil
}

func loadAndSolve(ctx context.Context, path string) (*result, error) {
	s, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	deactivate, err := stages.Activate(s.Plugins...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := deactivate(); err != nil {
			logger.Warn("deactivating plugins", zap.Error(err))
		}
	}()
	return solveSchedule(ctx, s)
}

func runSolve(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	return withExtensions(w, func() error {
		res, err := loadAndSolve(commandContext(cmd), args[0])
		if err != nil {
			return err
		}
		return printResult(w, res)
	})
}

func printResult(w io.Writer, res *result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "schedule %s solved in %v\n\n", res.schedule.Name, res.duration.Round(time.Microsecond))
	fmt.Fprintln(tw, "STAGE\tTYPE\tITERATIONS\tCONVERGED")
	for _, u := range res.seq.Flatten() {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%t\n", u.Label(), u.Kind().Name(), u.Iterations(), u.Converged())
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "OUT\tVALUE")
	for _, a := range res.out.Values() {
		fmt.Fprintf(tw, "%s\t%v\n", a.Name, a.Value)
	}
	return tw.Flush()
}

// Report is the YAML document written by the report command.
type Report struct {
	Schedule string        `yaml:"schedule"`
	Stages   []StageReport `yaml:"stages"`
	Solves   []SolveReport `yaml:"solves"`
}

// StageReport holds the snapshots of one leaf unit.
type StageReport struct {
	Label      string         `yaml:"label"`
	Type       string         `yaml:"type"`
	Iterations int            `yaml:"iterations"`
	Converged  bool           `yaml:"converged"`
	Values     map[string]any `yaml:"values,omitempty"`
	In         map[string]any `yaml:"in"`
	Out        map[string]any `yaml:"out"`
}

// SolveReport is one node of the solve tree.
type SolveReport struct {
	Depth      int    `yaml:"depth"`
	Unit       string `yaml:"unit"`
	Status     string `yaml:"status"`
	Iterations int    `yaml:"iterations"`
	Duration   string `yaml:"duration"`
	Error      string `yaml:"error,omitempty"`
}

func buildReport(res *result) Report {
	r := Report{Schedule: res.schedule.Name}
	for _, u := range res.seq.Flatten() {
		st := StageReport{
			Label:      u.Label(),
			Type:       u.Kind().Name(),
			Iterations: u.Iterations(),
			Converged:  u.Converged(),
			Values:     u.ValueMap(),
		}
		if p := u.InProfile(); p != nil {
			st.In = p.ValueMap()
		}
		if p := u.OutProfile(); p != nil {
			st.Out = p.ValueMap()
		}
		r.Stages = append(r.Stages, st)
	}

	for _, root := range res.tree.Roots() {
		res.tree.Walk(root.ID, func(rec *rollcore.SolveRecord, depth int) bool {
			sr := SolveReport{
				Depth:      depth,
				Unit:       rec.Unit,
				Status:     string(rec.Status),
				Iterations: rec.Iterations,
				Duration:   rec.Duration().String(),
			}
			if rec.Err != nil {
				sr.Error = rec.Err.Error()
			}
			r.Solves = append(r.Solves, sr)
			return true
		})
	}
	return r
}

func runReport(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	return withExtensions(w, func() error {
		res, err := loadAndSolve(commandContext(cmd), args[0])
		if err != nil {
			return err
		}

		out := w
		if reportOutput != "" {
			f, err := os.Create(reportOutput)
			if err != nil {
				return fmt.Errorf("failed to write report: %w", err)
			}
			defer f.Close()
			out = f
		}

		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(buildReport(res)); err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		return enc.Close()
	})
}
