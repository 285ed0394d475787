package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	cfgpkg "github.com/KaramelBytes/statloom-cli/internal/config"
)

var (
	cfgFile string
	debug   bool
	// Overrides applied on top of the loaded config when set
	flagHTTPTimeoutSec int
	flagMaxWorkers     int
	flagTaskTimeoutSec int

	// Loaded configuration
	cfg *cfgpkg.Global
)

var rootCmd = &cobra.Command{
	Use:   "statloom",
	Short: "StatLoom CLI: run statistical analyses against a shared dataset",
	Long: `StatLoom keeps one shared dataset and one result log per workspace. Analyses
extract a clean window from the dataset, validate it, run their computations
concurrently, record every output table and can write derived series back as new columns.`,
	SilenceUsage: true,
}

// Execute is the entry point called by main.main()
func Execute() {
	cobra.OnInitialize(loadConfig)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "✗ Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.statloom/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().IntVar(&flagHTTPTimeoutSec, "http-timeout", 0, "remote engine HTTP timeout in seconds (overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagMaxWorkers, "max-workers", 0, "max concurrent tasks per run (overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagTaskTimeoutSec, "task-timeout", 0, "per-task timeout in seconds (overrides config)")
}

func loadConfig() {
	c, err := cfgpkg.Load(cfgFile)
	if err != nil {
		// Non-fatal: allow running commands that don't need config
		fmt.Fprintf(os.Stderr, "⚠ Warning: failed to load config: %v\n", err)
		return
	}
	cfg = c

	f := rootCmd.PersistentFlags()
	if f.Changed("http-timeout") && flagHTTPTimeoutSec > 0 {
		cfg.HTTPTimeoutSec = flagHTTPTimeoutSec
	}
	if f.Changed("max-workers") && flagMaxWorkers >= 0 {
		cfg.MaxWorkers = flagMaxWorkers
	}
	if f.Changed("task-timeout") && flagTaskTimeoutSec >= 0 {
		cfg.TaskTimeoutSec = flagTaskTimeoutSec
	}
}

// requireConfig loads the config when a command runs without OnInitialize (tests).
func requireConfig() (*cfgpkg.Global, error) {
	if cfg != nil {
		return cfg, nil
	}
	c, err := cfgpkg.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg = c
	return cfg, nil
}

// newLogger builds the process logger: JSON at info level, or a console
// development logger at debug level with --debug. Logs go to stderr.
func newLogger() *zap.Logger {
	var zc zap.Config
	if debug {
		zc = zap.NewDevelopmentConfig()
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		zc = zap.NewProductionConfig()
		zc.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		zc.Sampling = nil
	}
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	l, err := zc.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}
