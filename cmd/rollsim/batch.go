package main

import (
	"context"
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pyroll-project/pyroll-core-sub000/internal/config"
	"github.com/pyroll-project/pyroll-core-sub000/internal/stages"
)

var batchJobs int

var batchCmd = &cobra.Command{
	Use:   "batch <schedule>...",
	Short: "Solve several schedules concurrently",
	Long: `Solves independent schedules in parallel. Plugins are process-wide, so all
schedules of a batch must activate the same plugins.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().IntVarP(&batchJobs, "jobs", "j", 4, "Maximum schedules solved at once")
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func runBatch(cmd *cobra.Command, args []string) error {
	schedules := make([]*config.Schedule, len(args))
	for i, path := range args {
		s, err := config.Load(path)
		if err != nil {
			return err
		}
		schedules[i] = s
	}

	plugins := slices.Clone(schedules[0].Plugins)
	slices.Sort(plugins)
	for _, s := range schedules[1:] {
		other := slices.Clone(s.Plugins)
		slices.Sort(other)
		if !slices.Equal(plugins, other) {
			return fmt.Errorf("schedule %s activates plugins %v, %s activates %v: a batch shares one plugin set",
				s.Name, s.Plugins, schedules[0].Name, schedules[0].Plugins)
		}
	}

	w := cmd.OutOrStdout()
	return withExtensions(w, func() error {
		deactivate, err := stages.Activate(plugins...)
		if err != nil {
			return err
		}
		defer deactivate()

		results := make([]*result, len(schedules))
		g, ctx := errgroup.WithContext(commandContext(cmd))
		g.SetLimit(max(batchJobs, 1))
		for i, s := range schedules {
			g.Go(func() error {
				res, err := solveSchedule(ctx, s)
				if err != nil {
					return err
				}
				results[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SCHEDULE\tSTAGES\tCONVERGED\tDURATION")
		for _, res := range results {
			fmt.Fprintf(tw, "%s\t%d\t%t\t%v\n",
				res.schedule.Name, len(res.seq.Flatten()), res.seq.Converged(), res.duration)
		}
		return tw.Flush()
	})
}
