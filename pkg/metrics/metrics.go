// Package metrics defines the Prometheus collectors used by the engine and
// exposes an HTTP handler for scraping. Every recording method is safe on a
// nil *Metrics so components can run without instrumentation in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the engine.
type Metrics struct {
	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	SearchResultsCount   prometheus.Histogram
	StaleReferencesTotal prometheus.Counter
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	EventsTotal          *prometheus.CounterVec
	MaintenanceRetries   *prometheus.CounterVec
	RepairQueueDepth     prometheus.Gauge
	IndexedItems         prometheus.Gauge
	IndexTerms           prometheus.Gauge
	CheckpointsTotal     *prometheus.CounterVec
	IngestMessagesTotal  *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewWithRegistry registers the collectors with reg. Tests pass a fresh
// prometheus.NewRegistry() for both arguments.
func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fsearch_queries_total",
				Help: "Total search queries by outcome (ok, zero_result, invalid, unavailable, cancelled).",
			},
			[]string{"outcome"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fsearch_query_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fsearch_query_results",
				Help:    "Number of matching candidates per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 500, 1000},
			},
		),
		StaleReferencesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fsearch_stale_index_references_total",
				Help: "Index candidates dropped because their metadata was missing.",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fsearch_cache_hits_total",
				Help: "Total number of query cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fsearch_cache_misses_total",
				Help: "Total number of query cache misses.",
			},
		),
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fsearch_events_total",
				Help: "Filesystem events by type and outcome (applied, stale, failed, repaired).",
			},
			[]string{"event_type", "outcome"},
		),
		MaintenanceRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fsearch_maintenance_retries_total",
				Help: "Maintenance writes that exhausted their retries, by store.",
			},
			[]string{"store"},
		),
		RepairQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fsearch_repair_queue_depth",
				Help: "Events waiting for the repair loop.",
			},
		),
		IndexedItems: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fsearch_indexed_items",
				Help: "Items currently present in the inverted index.",
			},
		),
		IndexTerms: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fsearch_index_terms",
				Help: "Distinct terms currently present in the inverted index.",
			},
		),
		CheckpointsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fsearch_checkpoints_total",
				Help: "Checkpoint operations by kind (write, restore) and status.",
			},
			[]string{"kind", "status"},
		),
		IngestMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fsearch_ingest_messages_total",
				Help: "Ingested change notifications by source (kafka, watcher) and status.",
			},
			[]string{"source", "status"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fsearch_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		gatherer: gatherer,
	}

	reg.MustRegister(
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.StaleReferencesTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.EventsTotal,
		m.MaintenanceRetries,
		m.RepairQueueDepth,
		m.IndexedItems,
		m.IndexTerms,
		m.CheckpointsTotal,
		m.IngestMessagesTotal,
		m.CircuitBreakerState,
	)
	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveSearch(outcome, cacheStatus string, candidates int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.SearchQueriesTotal.WithLabelValues(outcome).Inc()
	m.SearchLatency.WithLabelValues(cacheStatus).Observe(elapsed.Seconds())
	if outcome == "ok" || outcome == "zero_result" {
		m.SearchResultsCount.Observe(float64(candidates))
	}
}

func (m *Metrics) StaleReference() {
	if m == nil {
		return
	}
	m.StaleReferencesTotal.Inc()
}

func (m *Metrics) CacheResult(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.Inc()
	} else {
		m.CacheMissesTotal.Inc()
	}
}

func (m *Metrics) Event(eventType, outcome string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) RetriesExhausted(store string) {
	if m == nil {
		return
	}
	m.MaintenanceRetries.WithLabelValues(store).Inc()
}

func (m *Metrics) SetRepairQueueDepth(n int) {
	if m == nil {
		return
	}
	m.RepairQueueDepth.Set(float64(n))
}

func (m *Metrics) SetIndexSize(items, terms int) {
	if m == nil {
		return
	}
	m.IndexedItems.Set(float64(items))
	m.IndexTerms.Set(float64(terms))
}

func (m *Metrics) Checkpoint(kind string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.CheckpointsTotal.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) Ingest(source string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.IngestMessagesTotal.WithLabelValues(source, status).Inc()
}

func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}
