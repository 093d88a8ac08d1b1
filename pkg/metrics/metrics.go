// Package metrics defines the Prometheus collectors for the oblivious
// store and the search engine, and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for one engine instance.
// Collectors are registered on an injected registry so that independent
// engine instances can coexist in a single process.
type Metrics struct {
	registry *prometheus.Registry

	OramAccessesTotal   *prometheus.CounterVec
	OramEvictionsTotal  prometheus.Counter
	OramReshufflesTotal prometheus.Counter
	OramStashSize       prometheus.Gauge
	BucketReadsTotal    prometheus.Counter
	BucketWritesTotal   prometheus.Counter

	SearchQueriesTotal *prometheus.CounterVec
	SearchLatency      prometheus.Histogram
	SearchNodesVisited prometheus.Histogram
	DocsIndexedTotal   prometheus.Counter
}

// New creates all collectors and registers them on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		OramAccessesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oram_accesses_total",
				Help: "Total ORAM block accesses by operation (read, write).",
			},
			[]string{"op"},
		),
		OramEvictionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "oram_evictions_total",
				Help: "Total evict-path rounds.",
			},
		),
		OramReshufflesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "oram_reshuffles_total",
				Help: "Total early-reshuffle bucket rewrites.",
			},
		),
		OramStashSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "oram_stash_size",
				Help: "Plaintext blocks currently held in the stash.",
			},
		),
		BucketReadsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "oram_bucket_reads_total",
				Help: "Total read_bucket calls issued to the untrusted host.",
			},
		),
		BucketWritesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "oram_bucket_writes_total",
				Help: "Total write_bucket calls issued to the untrusted host.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by outcome (hit, zero_result, error).",
			},
			[]string{"outcome"},
		),
		SearchLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
		),
		SearchNodesVisited: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_nodes_visited",
				Help:    "Tree nodes visited per search query.",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
			},
		),
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_indexed_total",
				Help: "Total documents inserted into the tree.",
			},
		),
	}

	reg.MustRegister(
		m.OramAccessesTotal,
		m.OramEvictionsTotal,
		m.OramReshufflesTotal,
		m.OramStashSize,
		m.BucketReadsTotal,
		m.BucketWritesTotal,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchNodesVisited,
		m.DocsIndexedTotal,
	)

	return m
}

// Handler returns an HTTP handler serving this instance's metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts a metrics server on addr. Blocks until the server stops.
func (m *Metrics) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
