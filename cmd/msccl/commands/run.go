package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/pash-msft/msccl-tools/pkg/autosynth"
	"github.com/pash-msft/msccl-tools/pkg/comm"
	"github.com/pash-msft/msccl-tools/pkg/config"
	"github.com/pash-msft/msccl-tools/pkg/stores"
	"github.com/pash-msft/msccl-tools/pkg/synth"
	"github.com/pash-msft/msccl-tools/pkg/telemetry"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run -- <training command> [args...]",
		Short: "Configure the job, then exec the training command",
		Long: `Run the autosynth init flow and then execute the training command
with the produced environment.

The training command inherits MSCCL_XML_FILE and CUDA_VISIBLE_DEVICES
from the init flow. When this process coordinates a node-local group,
the lock file is removed after the training command exits.`,
		Example: `  # Single process
  msccl run -- python train.py

  # Under an elastic launcher (one msccl per worker)
  torchrun --nproc_per_node 8 --no-python msccl run -- python train.py

  # Legacy launcher arguments are recognized too
  msccl run -- python train.py --local_rank 3`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tel, err := newTelemetry(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = tel.Shutdown(context.Background())
			}()

			session, cleanup, err := initAutosynth(ctx, cfg, tel, args)
			if err != nil {
				return err
			}
			defer cleanup()
			defer func() {
				_ = session.Close()
			}()

			train := exec.CommandContext(ctx, args[0], args[1:]...)
			train.Stdin = os.Stdin
			train.Stdout = os.Stdout
			train.Stderr = os.Stderr
			train.Env = os.Environ()

			tel.Logger.NewComponentLogger("cli").
				WithField("command", args[0]).
				Info("Starting training command")
			if err := train.Run(); err != nil {
				return fmt.Errorf("training command failed: %w", err)
			}
			return nil
		},
	}

	return cmd
}

// initAutosynth wires the config into the library options and runs the
// init flow. The returned cleanup closes the store and communicator.
func initAutosynth(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry, args []string) (*autosynth.Session, func(), error) {
	logger := tel.Logger.NewComponentLogger("cli")

	tool, err := synth.NewExternalTool(cfg.Synthesis.Command)
	if err != nil {
		return nil, nil, err
	}

	opts := autosynth.Options{
		Config:      cfg,
		Telemetry:   tel,
		Synthesizer: tool,
		Lowerer:     tool,
		Args:        args,
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Cache.Enabled {
		store, err := openStore(ctx, cfg)
		if err != nil {
			logger.WithError(err).Warn("Artifact cache unavailable, continuing without it")
		} else {
			closers = append(closers, func() { _ = store.Close() })
			opts.Cache = store
		}
	}

	if tcpCfg, ok, err := comm.TCPConfigFromOSEnv(); err != nil {
		cleanup()
		return nil, nil, err
	} else if ok {
		cm, err := comm.DialTCP(ctx, tcpCfg, logger.Zerolog())
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to join coordination group: %w", err)
		}
		closers = append(closers, func() { _ = cm.Close() })
		opts.Comm = cm
	}

	session, err := autosynth.Init(ctx, opts)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return session, cleanup, nil
}

func openStore(ctx context.Context, cfg *config.Config) (*stores.SQLiteStore, error) {
	path, err := cfg.CachePath()
	if err != nil {
		return nil, err
	}
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}
