package search

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Searches counts image searches by outcome.
	Searches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mediasearch",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total number of image searches by result",
		},
		[]string{"result"},
	)

	// SearchDuration tracks end-to-end image search latency.
	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mediasearch",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Duration of image searches in seconds, embedding included",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// Dropped counts ranked hits excluded during enrichment.
	Dropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mediasearch",
			Subsystem: "search",
			Name:      "enrich_dropped_total",
			Help:      "Total number of search hits dropped during enrichment by reason",
		},
		[]string{"reason"},
	)

	// URLCacheLookups counts signed URL cache hits and misses.
	URLCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mediasearch",
			Subsystem: "search",
			Name:      "url_cache_lookups_total",
			Help:      "Signed URL cache lookups by result",
		},
		[]string{"result"},
	)
)
