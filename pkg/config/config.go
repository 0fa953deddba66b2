package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/pash-msft/msccl-tools/pkg/telemetry"
)

// Config is the top-level autosynth configuration.
type Config struct {
	// Collectives lists the collectives to synthesize algorithms for.
	Collectives []string `yaml:"collectives" validate:"required,min=1,dive,required"`

	// Rendezvous configures the cross-process synchronization behavior.
	Rendezvous RendezvousConfig `yaml:"rendezvous"`

	// Cache configures the on-disk artifact cache.
	Cache CacheConfig `yaml:"cache"`

	// Synthesis configures the external solver invoked by the CLI.
	Synthesis SynthesisConfig `yaml:"synthesis"`

	// Telemetry configures logging, tracing and metrics.
	Telemetry *telemetry.Config `yaml:"telemetry"`
}

// RendezvousConfig tunes how sibling processes wait for the lock file.
type RendezvousConfig struct {
	// PollInterval is how often a waiting sibling re-checks for the
	// lock file when filesystem notification is unavailable.
	PollInterval time.Duration `yaml:"poll_interval" validate:"min=0"`

	// WarnAfterPolls is the number of polls after which a single
	// warning is logged. Zero disables the warning.
	WarnAfterPolls int `yaml:"warn_after_polls" validate:"min=0"`
}

// CacheConfig configures the artifact cache database.
type CacheConfig struct {
	// Enabled controls whether synthesized artifacts are cached.
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database file. Empty means a per-user default
	// under the user cache directory.
	Path string `yaml:"path"`
}

// SynthesisConfig names the solver command. The command is run with the
// collective name and world size appended and must emit the lowered
// artifact on stdout.
type SynthesisConfig struct {
	Command []string `yaml:"command" validate:"required,min=1"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Collectives: []string{"Alltoall"},
		Rendezvous: RendezvousConfig{
			PollInterval:   time.Second,
			WarnAfterPolls: 10,
		},
		Cache: CacheConfig{
			Enabled: true,
		},
		Synthesis: SynthesisConfig{
			Command: []string{"sccl", "solve"},
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load reads a YAML configuration file, applies defaults for anything
// the file omits, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Telemetry != nil {
		if err := c.Telemetry.Validate(); err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
	}
	return nil
}

// CachePath resolves the artifact cache database location.
func (c *Config) CachePath() (string, error) {
	if c.Cache.Path != "" {
		return c.Cache.Path, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve cache directory: %w", err)
	}
	dir := filepath.Join(base, "msccl-autosynth")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}
	return filepath.Join(dir, "artifacts.db"), nil
}
