package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal counts finished jobs.
	// Labels: result (completed, failed, dropped)
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mediasearch",
			Subsystem: "dispatch",
			Name:      "jobs_total",
			Help:      "Total number of embedding jobs by outcome",
		},
		[]string{"result"},
	)

	// JobDuration tracks end-to-end job latency.
	JobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mediasearch",
			Subsystem: "dispatch",
			Name:      "job_duration_seconds",
			Help:      "Duration of embedding jobs in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// EnqueueErrors counts jobs that could not be queued.
	// Labels: queue (local, nats)
	EnqueueErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mediasearch",
			Subsystem: "dispatch",
			Name:      "enqueue_errors_total",
			Help:      "Total number of jobs rejected by the queue",
		},
		[]string{"queue"},
	)

	// QueueDepth is the number of jobs waiting in the local worker pool.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mediasearch",
			Subsystem: "dispatch",
			Name:      "queue_depth",
			Help:      "Jobs buffered in the in-process worker pool",
		},
	)
)
