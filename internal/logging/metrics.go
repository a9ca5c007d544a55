package logging

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SampledOut counts entries the sampler dropped, by level. A climbing
// warn series usually means a dependency is flapping.
var SampledOut = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "mediasearch",
		Subsystem: "log",
		Name:      "sampled_out_total",
		Help:      "Log entries dropped by sampling, by level.",
	},
	[]string{"level"},
)
