// Package metrics exposes Prometheus instrumentation for migration runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds configuration for the Collector.
type Config struct {
	Namespace string `yaml:"namespace" json:"namespace"`
	Subsystem string `yaml:"subsystem" json:"subsystem"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Namespace: "datamigrate",
	}
}

// Collector wraps the Prometheus metrics recorded by the migration engine and
// batch tool. Every method is safe to call on a nil *Collector.
type Collector struct {
	registry *prometheus.Registry

	Migrations        *prometheus.CounterVec
	MigrationDuration *prometheus.HistogramVec
	BatchRecords      *prometheus.CounterVec
}

// NewCollector creates a Collector with its own Prometheus registry.
func NewCollector(cfg Config) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		Migrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "migrations_total",
			Help:      "Total number of single-record migrations by direction and status",
		}, []string{"from", "to", "direction", "status"}),
		MigrationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "migration_duration_seconds",
			Help:      "Duration of single-record migrations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"from", "to", "direction"}),
		BatchRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "batch_records_total",
			Help:      "Records processed by batch migrations by outcome",
		}, []string{"from", "to", "outcome"}),
	}

	reg.MustRegister(c.Migrations, c.MigrationDuration, c.BatchRecords)
	return c
}

// RecordMigration records one migrate or rollback call.
func (c *Collector) RecordMigration(from, to, direction, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.Migrations.WithLabelValues(from, to, direction, status).Inc()
	c.MigrationDuration.WithLabelValues(from, to, direction).Observe(d.Seconds())
}

// RecordBatchRecord records the outcome of one record in a batch.
func (c *Collector) RecordBatchRecord(from, to, outcome string) {
	if c == nil {
		return
	}
	c.BatchRecords.WithLabelValues(from, to, outcome).Inc()
}

// Registry returns the underlying Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler serving the collector's metrics.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
