package telemetry

import (
	"testing"
	"time"
)

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "missing service name",
			mutate:  func(c *Config) { c.ServiceName = "" },
			wantErr: true,
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "loud" },
			wantErr: true,
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: true,
		},
		{
			name: "otlp without endpoint",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "otlp"
			},
			wantErr: true,
		},
		{
			name: "bad exporter only matters when tracing enabled",
			mutate: func(c *Config) {
				c.Tracing.Enabled = false
				c.Tracing.Exporter = "carrier-pigeon"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMetricsDisabledIsNoOp(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	// None of these may panic on the no-op instance.
	m.RecordDetection("one_host_ib_dgx1")
	m.RecordSynthesis("Alltoall", time.Second)
	m.RecordCacheLookup(true)
	m.RecordPublish()
	m.RecordSiblingWait(3*time.Second, 3)

	if m.Registry() != nil {
		t.Error("disabled metrics should have no registry")
	}
}

func TestMetricsRecording(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "test"})
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	m.RecordDetection("unknown")
	m.RecordCacheLookup(false)
	m.RecordPublish()

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	for _, want := range []string{
		"test_machine_detections_total",
		"test_artifact_cache_lookups_total",
		"test_bundles_published_total",
	} {
		if !names[want] {
			t.Errorf("metric %s not collected", want)
		}
	}
}

func TestNewDisabledTelemetry(t *testing.T) {
	tel := NewDisabled()
	if tel.Logger == nil || tel.Tracer == nil || tel.Metrics == nil {
		t.Fatal("disabled telemetry must still provide all subsystems")
	}
}
