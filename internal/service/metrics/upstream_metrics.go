package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	UpstreamLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "glm",
			Subsystem: "upstream",
			Name:      "latency_seconds",
			Help:      "Latency of calls to upstream feeds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	UpstreamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "glm",
			Subsystem: "upstream",
			Name:      "errors_total",
			Help:      "Failed or rate-limited upstream calls by source",
		},
		[]string{"source", "reason"},
	)
)

// Register adds the upstream collectors to the default registry once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(UpstreamLatency, UpstreamErrors)
	})
}
