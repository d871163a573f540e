// Package metrics defines the Prometheus collectors used across the index and
// exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the index. A nil *Metrics is
// valid and records nothing, so library code never has to check.
type Metrics struct {
	DocsIngestedTotal     prometheus.Counter
	IngestFailuresTotal   *prometheus.CounterVec
	DeltaDocuments        prometheus.Gauge
	SearchQueriesTotal    *prometheus.CounterVec
	SearchLatency         prometheus.Histogram
	SearchResultsCount    prometheus.Histogram
	CompactionsTotal      prometheus.Counter
	DocsCompactedTotal    prometheus.Counter
	CompactionDuration    prometheus.Histogram
	BarrelCacheHitsTotal  prometheus.Counter
	BarrelCacheMissTotal  prometheus.Counter
	BarrelEvictionsTotal  prometheus.Counter
	BarrelReadErrorsTotal prometheus.Counter
	QueryCacheHitsTotal   prometheus.Counter
	QueryCacheMissTotal   prometheus.Counter
}

// New creates all collectors and registers them on reg. A nil reg uses the
// default Prometheus registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		DocsIngestedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "deltasearch_docs_ingested_total",
				Help: "Total documents added through the delta indexer.",
			},
		),
		IngestFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deltasearch_ingest_failures_total",
				Help: "Rejected or failed document ingestions by reason.",
			},
			[]string{"reason"},
		),
		DeltaDocuments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "deltasearch_delta_documents",
				Help: "Documents currently held in the delta index.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deltasearch_search_queries_total",
				Help: "Total search queries by result type (hit, zero_result, empty_query).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "deltasearch_search_latency_seconds",
				Help:    "Search latency in seconds.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "deltasearch_search_results_count",
				Help:    "Number of results returned per search.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		CompactionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "deltasearch_compactions_total",
				Help: "Compactions that folded at least one delta document.",
			},
		),
		DocsCompactedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "deltasearch_docs_compacted_total",
				Help: "Total delta documents folded into the static index.",
			},
		),
		CompactionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "deltasearch_compaction_duration_seconds",
				Help:    "Compaction duration in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
		),
		BarrelCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "deltasearch_barrel_cache_hits_total",
				Help: "Barrel file handle cache hits.",
			},
		),
		BarrelCacheMissTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "deltasearch_barrel_cache_misses_total",
				Help: "Barrel file handle cache misses.",
			},
		),
		BarrelEvictionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "deltasearch_barrel_cache_evictions_total",
				Help: "Barrel file handles evicted from the cache.",
			},
		),
		BarrelReadErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "deltasearch_barrel_read_errors_total",
				Help: "Posting reads that failed on a missing or corrupt barrel.",
			},
		),
		QueryCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "deltasearch_query_cache_hits_total",
				Help: "Query result cache hits.",
			},
		),
		QueryCacheMissTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "deltasearch_query_cache_misses_total",
				Help: "Query result cache misses.",
			},
		),
	}

	reg.MustRegister(
		m.DocsIngestedTotal,
		m.IngestFailuresTotal,
		m.DeltaDocuments,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.CompactionsTotal,
		m.DocsCompactedTotal,
		m.CompactionDuration,
		m.BarrelCacheHitsTotal,
		m.BarrelCacheMissTotal,
		m.BarrelEvictionsTotal,
		m.BarrelReadErrorsTotal,
		m.QueryCacheHitsTotal,
		m.QueryCacheMissTotal,
	)

	return m
}

func (m *Metrics) DocumentIngested(deltaDocs int) {
	if m == nil {
		return
	}
	m.DocsIngestedTotal.Inc()
	m.DeltaDocuments.Set(float64(deltaDocs))
}

func (m *Metrics) SetDeltaDocuments(n int) {
	if m == nil {
		return
	}
	m.DeltaDocuments.Set(float64(n))
}

func (m *Metrics) IngestFailed(reason string) {
	if m == nil {
		return
	}
	m.IngestFailuresTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) SearchServed(resultType string, results int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	m.SearchResultsCount.Observe(float64(results))
	m.SearchLatency.Observe(elapsed.Seconds())
}

func (m *Metrics) Compacted(docs int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.CompactionsTotal.Inc()
	m.DocsCompactedTotal.Add(float64(docs))
	m.CompactionDuration.Observe(elapsed.Seconds())
	m.DeltaDocuments.Set(0)
}

func (m *Metrics) BarrelCacheHit() {
	if m == nil {
		return
	}
	m.BarrelCacheHitsTotal.Inc()
}

func (m *Metrics) BarrelCacheMiss() {
	if m == nil {
		return
	}
	m.BarrelCacheMissTotal.Inc()
}

func (m *Metrics) BarrelEvicted() {
	if m == nil {
		return
	}
	m.BarrelEvictionsTotal.Inc()
}

func (m *Metrics) BarrelReadFailed() {
	if m == nil {
		return
	}
	m.BarrelReadErrorsTotal.Inc()
}

func (m *Metrics) QueryCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.QueryCacheHitsTotal.Inc()
		return
	}
	m.QueryCacheMissTotal.Inc()
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
