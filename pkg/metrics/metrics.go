// pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Turns counts completed chat turns by terminal outcome (fault code or "ok").
	Turns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "botgate_turns_total",
		Help: "Chat turns by outcome.",
	}, []string{"outcome"})

	// CacheHits counts response cache lookups by result.
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "botgate_cache_lookups_total",
		Help: "Response cache lookups by result (hit|miss).",
	}, []string{"result"})

	// Dispatches counts upstream action calls by upstream status class.
	Dispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "botgate_dispatch_total",
		Help: "Forwarded actions by upstream status class (2xx|4xx|5xx|error).",
	}, []string{"class"})

	// ModelLatency tracks structured-generation latency.
	ModelLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "botgate_model_latency_seconds",
		Help:    "Language model call latency.",
		Buckets: prometheus.DefBuckets,
	})
)
