package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scanguard/scanguard/pkg/types"
)

// Config represents metrics configuration.
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// DefaultConfig returns the standard metrics settings.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   false,
		Port:      9464,
		Path:      "/metrics",
		Namespace: "scanguard",
	}
}

// Collector registers and serves the Prometheus metrics for a running
// engine. All Record methods are safe when the collector is disabled.
type Collector struct {
	config   *Config
	registry *prometheus.Registry

	filesAnalyzed    *prometheus.CounterVec
	analysisDuration prometheus.Histogram
	findingsTotal    *prometheus.CounterVec
	cacheRequests    *prometheus.CounterVec
	cacheEntries     prometheus.Gauge
	workerBudget     prometheus.Gauge
	loadScore        prometheus.Gauge
	poolReuseRate    *prometheus.GaugeVec
	errorsTotal      *prometheus.CounterVec

	server *http.Server
}

// NewCollector creates a collector. When disabled, it is inert.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	c := &Collector{
		config:   config,
		registry: prometheus.NewRegistry(),
	}
	c.initMetrics()
	if err := c.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return c, nil
}

func (c *Collector) initMetrics() {
	ns := c.config.Namespace

	c.filesAnalyzed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "files_analyzed_total",
			Help:      "Files processed, labeled by outcome",
		},
		[]string{"outcome"},
	)

	c.analysisDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "analysis_duration_seconds",
			Help:      "Per-file analysis duration",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		},
	)

	c.findingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "findings_total",
			Help:      "Findings produced, labeled by severity",
		},
		[]string{"severity"},
	)

	c.cacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_requests_total",
			Help:      "Cache lookups, labeled by result",
		},
		[]string{"result"},
	)

	c.cacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "cache_entries",
			Help:      "Live cache entries",
		},
	)

	c.workerBudget = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "worker_budget",
			Help:      "Current adaptive worker budget",
		},
	)

	c.loadScore = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "load_score",
			Help:      "Smoothed system load score",
		},
	)

	c.poolReuseRate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "pool_reuse_rate",
			Help:      "Memory pool reuse rate",
		},
		[]string{"pool"},
	)

	c.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "errors_total",
			Help:      "Errors encountered, labeled by component",
		},
		[]string{"component"},
	)
}

func (c *Collector) registerMetrics() error {
	collectors := []prometheus.Collector{
		c.filesAnalyzed,
		c.analysisDuration,
		c.findingsTotal,
		c.cacheRequests,
		c.cacheEntries,
		c.workerBudget,
		c.loadScore,
		c.poolReuseRate,
		c.errorsTotal,
	}

	for _, collector := range collectors {
		if err := c.registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// Start serves the metrics endpoint. A no-op when disabled.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}

// Stop shuts the metrics server down.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// RecordFileAnalyzed records one processed file.
func (c *Collector) RecordFileAnalyzed(outcome string, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.filesAnalyzed.With(prometheus.Labels{"outcome": outcome}).Inc()
	if duration > 0 {
		c.analysisDuration.Observe(duration.Seconds())
	}
}

// RecordFindings records produced findings by severity.
func (c *Collector) RecordFindings(findings []types.Finding) {
	if !c.config.Enabled {
		return
	}
	for _, f := range findings {
		c.findingsTotal.With(prometheus.Labels{"severity": string(f.Severity)}).Inc()
	}
}

// RecordCacheResult records one cache lookup result ("hit", "miss",
// "miss_config", "miss_file_changed", "miss_file_error").
func (c *Collector) RecordCacheResult(result string) {
	if !c.config.Enabled {
		return
	}
	c.cacheRequests.With(prometheus.Labels{"result": result}).Inc()
}

// UpdateCacheEntries updates the live entry gauge.
func (c *Collector) UpdateCacheEntries(n int) {
	if !c.config.Enabled {
		return
	}
	c.cacheEntries.Set(float64(n))
}

// UpdateWorkerBudget updates the budget gauge.
func (c *Collector) UpdateWorkerBudget(n int) {
	if !c.config.Enabled {
		return
	}
	c.workerBudget.Set(float64(n))
}

// UpdateLoadScore updates the smoothed load gauge.
func (c *Collector) UpdateLoadScore(score float64) {
	if !c.config.Enabled {
		return
	}
	c.loadScore.Set(score)
}

// UpdatePoolReuse updates a pool's reuse rate gauge.
func (c *Collector) UpdatePoolReuse(pool string, rate float64) {
	if !c.config.Enabled {
		return
	}
	c.poolReuseRate.With(prometheus.Labels{"pool": pool}).Set(rate)
}

// RecordError counts an error against a component.
func (c *Collector) RecordError(component string) {
	if !c.config.Enabled {
		return
	}
	c.errorsTotal.With(prometheus.Labels{"component": component}).Inc()
}
