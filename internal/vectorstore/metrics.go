package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SearchDuration tracks nearest-neighbour query latency.
	// Labels: provider, result (success, error)
	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mediasearch",
			Subsystem: "vectorstore",
			Name:      "search_duration_seconds",
			Help:      "Duration of vector searches in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "result"},
	)

	// SearchHits tracks how many hits a search returned.
	SearchHits = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mediasearch",
			Subsystem: "vectorstore",
			Name:      "search_hits",
			Help:      "Number of hits returned per vector search",
			Buckets:   []float64{0, 1, 5, 10, 24, 50, 100},
		},
		[]string{"provider"},
	)

	// UpsertedEntries counts indexed vectors.
	// Labels: provider, result (success, error)
	UpsertedEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mediasearch",
			Subsystem: "vectorstore",
			Name:      "upserted_entries_total",
			Help:      "Total number of vectors written to the index",
		},
		[]string{"provider", "result"},
	)

	// QuarantineOperations counts unreadable chromem directories moved aside.
	QuarantineOperations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mediasearch",
			Subsystem: "vectorstore",
			Name:      "quarantine_operations_total",
			Help:      "Total number of chromem databases quarantined at startup",
		},
	)
)

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func observeSearch(provider string, start time.Time, hits int, err error) {
	SearchDuration.WithLabelValues(provider, resultLabel(err)).Observe(time.Since(start).Seconds())
	if err == nil {
		SearchHits.WithLabelValues(provider).Observe(float64(hits))
	}
}

func observeUpsert(provider string, n int, err error) {
	UpsertedEntries.WithLabelValues(provider, resultLabel(err)).Add(float64(n))
}

// RecordQuarantine counts a quarantined chromem database.
func RecordQuarantine() {
	QuarantineOperations.Inc()
}
