package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	rollcore "github.com/pyroll-project/pyroll-core-sub000"
	"github.com/pyroll-project/pyroll-core-sub000/extensions"
)

var (
	// Global flags
	verbose     bool
	logJSON     bool
	showMetrics bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "rollsim",
	Short: "Simulate rolling lines from schedule files",
	Long: `rollsim solves the stages of a rolling line described in a YAML or TOML
schedule, iterating every stage until its observed quantities are stable.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		json := logJSON
		if !cmd.Flags().Changed("log-json") {
			// logs go to stderr; plain pipes get JSON
			json = !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd())
		}
		logger, err = newLogger(verbose, json)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		rollcore.SetLogger(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func newLogger(verbose, json bool) (*zap.Logger, error) {
	config := zap.NewDevelopmentConfig()
	config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if json {
		config = zap.NewProductionConfig()
	}
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return config.Build()
}

// withExtensions registers the extensions selected by the global flags for
// the duration of fn and prints the collected metrics afterwards.
func withExtensions(out io.Writer, fn func() error) error {
	exts := []rollcore.Extension{extensions.NewDebugExtension(logger)}
	if verbose {
		exts = append(exts, extensions.NewLoggingExtension(logger, false))
	}
	var metrics *extensions.MetricsExtension
	if showMetrics {
		metrics = extensions.NewMetricsExtension()
		exts = append(exts, metrics)
	}

	var registered []string
	defer func() {
		for _, name := range registered {
			if err := rollcore.RemoveExtension(name); err != nil {
				logger.Warn("removing extension", zap.String("extension", name), zap.Error(err))
			}
		}
	}()
	for _, ext := range exts {
		if err := rollcore.UseExtension(ext); err != nil {
			return err
		}
		registered = append(registered, ext.Name())
	}

	err := fn()
	if metrics != nil {
		if merr := writeMetrics(out, metrics); merr != nil && err == nil {
			err = merr
		}
	}
	return err
}

func writeMetrics(w io.Writer, m *extensions.MetricsExtension) error {
	families, err := m.Registry().Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}
	fmt.Fprintln(w)
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Log as JSON (default when stderr is not a terminal)")
	rootCmd.PersistentFlags().BoolVar(&showMetrics, "metrics", false, "Print solve metrics after the run")

	rootCmd.AddCommand(solveCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(typesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
