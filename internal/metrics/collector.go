// Package metrics exposes Prometheus counters, histograms, and gauges for
// the proxy's cache engine and the server's version store. Grounded on the
// teacher's Collector (registry + HTTP exposition + a background update
// loop), trimmed to this module's operations.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures the metrics HTTP exposition endpoint.
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}

// DefaultConfig returns sensible metrics defaults for subsystem (e.g.
// "proxy" or "server").
func DefaultConfig(subsystem string) *Config {
	return &Config{
		Enabled:   true,
		Port:      9100,
		Path:      "/metrics",
		Namespace: "afscache",
		Subsystem: subsystem,
	}
}

// Collector holds every metric this module's daemons emit.
type Collector struct {
	config   *Config
	registry *prometheus.Registry
	server   *http.Server

	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	CacheEvictions  prometheus.Counter
	OperationLatency *prometheus.HistogramVec
	BytesTransferred *prometheus.CounterVec
	ActiveTransfers prometheus.Gauge
	ActiveHandles   prometheus.Gauge
	RPCErrors       *prometheus.CounterVec
}

// NewCollector builds and registers a Collector. A nil config disables
// collection and exposition.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{Enabled: false}
	}
	c := &Collector{config: config}
	if !config.Enabled {
		return c, nil
	}

	c.registry = prometheus.NewRegistry()

	c.CacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace, Subsystem: config.Subsystem,
		Name: "cache_hits_total", Help: "Reads served from an already-cached version.",
	}, []string{"mode"})

	c.CacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace, Subsystem: config.Subsystem,
		Name: "cache_misses_total", Help: "Opens that required a server round trip to validate or fetch.",
	}, []string{"mode"})

	c.CacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: config.Namespace, Subsystem: config.Subsystem,
		Name: "cache_evictions_total", Help: "Cached versions evicted to reclaim disk space.",
	})

	c.OperationLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: config.Namespace, Subsystem: config.Subsystem,
		Name: "operation_duration_seconds", Help: "Latency of open/close/unlink operations.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"operation"})

	c.BytesTransferred = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace, Subsystem: config.Subsystem,
		Name: "bytes_transferred_total", Help: "Bytes moved over chunked upload/download RPCs.",
	}, []string{"direction"})

	c.ActiveTransfers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: config.Namespace, Subsystem: config.Subsystem,
		Name: "active_chunk_transfers", Help: "Chunk transfers currently holding a server-side lock.",
	})

	c.ActiveHandles = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: config.Namespace, Subsystem: config.Subsystem,
		Name: "open_handles", Help: "Open file and directory handles.",
	})

	c.RPCErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace, Subsystem: config.Subsystem,
		Name: "rpc_errors_total", Help: "RPC calls that returned a non-OK errno or failed to dial.",
	}, []string{"rpc", "code"})

	collectors := []prometheus.Collector{
		c.CacheHits, c.CacheMisses, c.CacheEvictions, c.OperationLatency,
		c.BytesTransferred, c.ActiveTransfers, c.ActiveHandles, c.RPCErrors,
	}
	for _, col := range collectors {
		if err := c.registry.Register(col); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}

	return c, nil
}

// Start serves the Prometheus exposition endpoint until ctx is canceled.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.server.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}

// Stop shuts down the exposition server.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

// RecordHit records a cache hit for the given open mode.
func (c *Collector) RecordHit(mode string) {
	if !c.config.Enabled {
		return
	}
	c.CacheHits.With(prometheus.Labels{"mode": mode}).Inc()
}

// RecordMiss records a cache miss for the given open mode.
func (c *Collector) RecordMiss(mode string) {
	if !c.config.Enabled {
		return
	}
	c.CacheMisses.With(prometheus.Labels{"mode": mode}).Inc()
}

// RecordEviction records an evicted cached version.
func (c *Collector) RecordEviction() {
	if !c.config.Enabled {
		return
	}
	c.CacheEvictions.Inc()
}

// RecordLatency records the duration of an open/close/unlink operation.
func (c *Collector) RecordLatency(operation string, d time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.OperationLatency.With(prometheus.Labels{"operation": operation}).Observe(d.Seconds())
}

// RecordBytes records bytes moved in the given direction ("upload" or
// "download").
func (c *Collector) RecordBytes(direction string, n int64) {
	if !c.config.Enabled || n <= 0 {
		return
	}
	c.BytesTransferred.With(prometheus.Labels{"direction": direction}).Add(float64(n))
}

// SetActiveTransfers sets the current chunk-transfer gauge.
func (c *Collector) SetActiveTransfers(n int) {
	if !c.config.Enabled {
		return
	}
	c.ActiveTransfers.Set(float64(n))
}

// SetActiveHandles sets the current open-handle gauge.
func (c *Collector) SetActiveHandles(n int) {
	if !c.config.Enabled {
		return
	}
	c.ActiveHandles.Set(float64(n))
}

// RecordRPCError records a failed RPC by name and error code.
func (c *Collector) RecordRPCError(rpc, code string) {
	if !c.config.Enabled {
		return
	}
	c.RPCErrors.With(prometheus.Labels{"rpc": rpc, "code": code}).Inc()
}
