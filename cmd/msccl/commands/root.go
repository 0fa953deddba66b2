package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pash-msft/msccl-tools/pkg/config"
	"github.com/pash-msft/msccl-tools/pkg/telemetry"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "msccl",
		Short: "MSCCL autosynth - hardware-aware collective configuration",
		Long: `msccl auto-configures distributed training jobs with collective
communication algorithms synthesized for the detected hardware.

Run it once per process before the training program starts: it detects
how the job was launched, classifies the machine interconnect, validates
that every rank sees the same hardware, synthesizes (or fetches from
cache) the algorithm artifacts, and hands the result to the runtime
through the process environment.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newDetectCommand())
	rootCmd.AddCommand(newTopoCommand())
	rootCmd.AddCommand(newCacheCommand())

	return rootCmd
}

// loadConfig resolves the effective configuration for one command
// invocation, folding the global flags in.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.DefaultConfig()
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if jsonOutput {
		cfg.Telemetry.Logging.Format = "json"
	}
	return cfg, nil
}

func newTelemetry(cfg *config.Config) (*telemetry.Telemetry, error) {
	tel, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if err := tel.Metrics.StartServer(); err != nil {
		return nil, err
	}
	return tel, nil
}
