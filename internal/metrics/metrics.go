// Package metrics provides Prometheus instrumentation for ClickShield.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LookupsTotal counts external geo/VPN lookups by outcome.
	LookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clickshield",
			Name:      "lookups_total",
			Help:      "External IP lookups by outcome (provider or fallback).",
		},
		[]string{"outcome"},
	)

	// QueryCacheHits counts cache-aside hits by query shape.
	QueryCacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clickshield",
			Name:      "query_cache_hits_total",
			Help:      "Cache-aside read hits by query shape.",
		},
		[]string{"shape"},
	)

	// QueryCacheMisses counts cache-aside misses by query shape.
	QueryCacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clickshield",
			Name:      "query_cache_misses_total",
			Help:      "Cache-aside read misses by query shape.",
		},
		[]string{"shape"},
	)

	// QueryComputeDuration observes compute-function latency on cache miss.
	QueryComputeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clickshield",
			Name:      "query_compute_duration_seconds",
			Help:      "Latency of compute functions invoked on cache miss.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"shape"},
	)

	// ScoresTotal counts click scorings by the scorer that produced them.
	ScoresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clickshield",
			Name:      "scores_total",
			Help:      "Click scorings by model used (trained or heuristic).",
		},
		[]string{"model"},
	)

	// TrainingsTotal counts completed model training runs.
	TrainingsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clickshield",
			Name:      "trainings_total",
			Help:      "Completed model training runs.",
		},
	)

	// AlertsFired counts alerts published by pattern.
	AlertsFired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clickshield",
			Name:      "alerts_fired_total",
			Help:      "Alerts fired by fraud pattern.",
		},
		[]string{"pattern"},
	)
)

// Register registers all collectors with the default registry.
// Call once at startup.
func Register() {
	prometheus.MustRegister(
		LookupsTotal,
		QueryCacheHits,
		QueryCacheMisses,
		QueryComputeDuration,
		ScoresTotal,
		TrainingsTotal,
		AlertsFired,
	)
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
