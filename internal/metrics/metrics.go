// Package metrics holds the Prometheus collectors for query serving and index maintenance.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Query outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeDegraded    = "degraded"
	OutcomeNotReady    = "not_ready"
	OutcomeEmbedFailed = "embedding_unavailable"
	OutcomeInvalid     = "invalid"
	OutcomeCancelled   = "cancelled"
	OutcomeError       = "error"
)

// Metrics groups the collectors on a private registry. A nil *Metrics is a no-op.
type Metrics struct {
	registry *prometheus.Registry

	queriesTotal   *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	resultsSkipped *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	indexBuilds    *prometheus.CounterVec
	indexSize      prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		queriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "setsumei_queries_total",
				Help: "Total number of search queries by outcome",
			},
			[]string{"outcome"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "setsumei_stage_duration_seconds",
				Help:    "Duration of query stages (embed, search, fetch, explain, total)",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~32s
			},
			[]string{"stage"},
		),
		resultsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "setsumei_results_skipped_total",
				Help: "Search hits dropped from responses by reason",
			},
			[]string{"reason"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "setsumei_embedding_cache_lookups_total",
				Help: "Embedding cache lookups during refresh by result (hit, miss)",
			},
			[]string{"result"},
		),
		indexBuilds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "setsumei_index_builds_total",
				Help: "Vector index builds and reloads by source",
			},
			[]string{"source"},
		),
		indexSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "setsumei_index_vectors",
			Help: "Number of vectors in the live index",
		}),
	}
	m.registry.MustRegister(
		m.queriesTotal,
		m.stageDuration,
		m.resultsSkipped,
		m.cacheLookups,
		m.indexBuilds,
		m.indexSize,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Query records one finished query.
func (m *Metrics) Query(outcome string) {
	if m == nil {
		return
	}
	m.queriesTotal.WithLabelValues(outcome).Inc()
}

// ObserveStage records how long a query stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Skipped counts hits dropped for reason.
func (m *Metrics) Skipped(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.resultsSkipped.WithLabelValues(reason).Add(float64(n))
}

// CacheLookups records refresh cache hits and misses.
func (m *Metrics) CacheLookups(hits, misses int) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues("hit").Add(float64(hits))
	m.cacheLookups.WithLabelValues("miss").Add(float64(misses))
}

// IndexInstalled records a new live index and its size.
func (m *Metrics) IndexInstalled(source string, size int) {
	if m == nil {
		return
	}
	m.indexBuilds.WithLabelValues(source).Inc()
	m.indexSize.Set(float64(size))
}
