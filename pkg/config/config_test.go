package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "autosynth.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if len(cfg.Collectives) != 1 || cfg.Collectives[0] != "Alltoall" {
		t.Errorf("default collectives = %v, want [Alltoall]", cfg.Collectives)
	}
	if cfg.Rendezvous.PollInterval != time.Second {
		t.Errorf("default poll interval = %v, want 1s", cfg.Rendezvous.PollInterval)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
collectives:
  - Alltoall
  - Allgather
rendezvous:
  poll_interval: 500ms
  warn_after_polls: 20
cache:
  enabled: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(cfg.Collectives) != 2 {
		t.Errorf("collectives = %v, want 2 entries", cfg.Collectives)
	}
	if cfg.Rendezvous.PollInterval != 500*time.Millisecond {
		t.Errorf("poll interval = %v, want 500ms", cfg.Rendezvous.PollInterval)
	}
	if cfg.Rendezvous.WarnAfterPolls != 20 {
		t.Errorf("warn after polls = %d, want 20", cfg.Rendezvous.WarnAfterPolls)
	}
	if cfg.Cache.Enabled {
		t.Error("cache should be disabled")
	}

	// Omitted sections keep their defaults.
	if cfg.Telemetry == nil || cfg.Telemetry.Logging.Level != "info" {
		t.Error("telemetry defaults not preserved")
	}
}

func TestLoadRejectsEmptyCollectives(t *testing.T) {
	path := writeConfig(t, `
collectives: []
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for empty collectives list")
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "collectives: [unterminated")

	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadRejectsBadTelemetry(t *testing.T) {
	path := writeConfig(t, `
telemetry:
  logging:
    level: shouting
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestCachePathExplicit(t *testing.T) {
	cfg := Default()
	cfg.Cache.Path = "/tmp/custom.db"

	path, err := cfg.CachePath()
	if err != nil {
		t.Fatalf("CachePath failed: %v", err)
	}
	if path != "/tmp/custom.db" {
		t.Errorf("path = %q, want /tmp/custom.db", path)
	}
}
