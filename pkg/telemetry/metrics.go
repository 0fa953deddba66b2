package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the autosynth coordination layer.
type Metrics struct {
	config MetricsConfig

	// Detection metrics
	detections *prometheus.CounterVec

	// Synthesis metrics
	synthesisDuration *prometheus.HistogramVec
	cacheLookups      *prometheus.CounterVec

	// Rendezvous metrics
	bundlesPublished prometheus.Counter
	siblingWait      prometheus.Histogram
	siblingPolls     prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		detections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "machine_detections_total",
				Help:      "Machine classifications by archetype",
			},
			[]string{"archetype"},
		),
		synthesisDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "synthesis_duration_seconds",
				Help:      "Duration of algorithm synthesis and lowering",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
			},
			[]string{"collective"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifact_cache_lookups_total",
				Help:      "Artifact cache lookups by result",
			},
			[]string{"result"},
		),
		bundlesPublished: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bundles_published_total",
				Help:      "Environment bundles published to the lock file",
			},
		),
		siblingWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sibling_wait_seconds",
				Help:      "How long siblings waited for the lock file",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
		),
		siblingPolls: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sibling_polls_total",
				Help:      "Poll intervals elapsed before the lock file appeared",
			},
		),
	}

	registry.MustRegister(
		m.detections,
		m.synthesisDuration,
		m.cacheLookups,
		m.bundlesPublished,
		m.siblingWait,
		m.siblingPolls,
	)

	return m, nil
}

// RecordDetection counts one machine classification.
func (m *Metrics) RecordDetection(archetype string) {
	if m.registry == nil {
		return
	}
	m.detections.WithLabelValues(archetype).Inc()
}

// RecordSynthesis records the duration of one synthesize+lower step.
func (m *Metrics) RecordSynthesis(collective string, d time.Duration) {
	if m.registry == nil {
		return
	}
	m.synthesisDuration.WithLabelValues(collective).Observe(d.Seconds())
}

// RecordCacheLookup counts an artifact cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m.registry == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// RecordPublish counts one bundle publication.
func (m *Metrics) RecordPublish() {
	if m.registry == nil {
		return
	}
	m.bundlesPublished.Inc()
}

// RecordSiblingWait records a completed sibling wait.
func (m *Metrics) RecordSiblingWait(d time.Duration, polls int) {
	if m.registry == nil {
		return
	}
	m.siblingWait.Observe(d.Seconds())
	m.siblingPolls.Add(float64(polls))
}

// Handler returns an HTTP handler serving the metrics registry.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves metrics on the configured listen address. Returns
// immediately; the server runs until the process exits.
func (m *Metrics) StartServer() error {
	if m.registry == nil || m.config.ListenAddress == "" {
		return nil
	}
	mux := http.NewServeMux()
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, m.Handler())

	go func() {
		// Serve errors here are not actionable by the init flow.
		_ = http.ListenAndServe(m.config.ListenAddress, mux)
	}()
	return nil
}

// Registry exposes the underlying registry; used in tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
