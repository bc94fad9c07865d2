package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "listingsearch"

// Search Prometheus metrics.
var (
	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_requests_total",
			Help:      "Total number of search requests by execution path",
		},
		[]string{"path", "result"}, // path: index / fallback / none
	)

	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Backend search duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"path"},
	)

	SearchCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_cache_total",
			Help:      "Result cache hits, misses and stores rejected as stale",
		},
		[]string{"result"}, // "hit" / "miss" / "stale"
	)

	SearchFallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_fallback_total",
			Help:      "Requests served by the fallback path, by reason",
		},
		[]string{"reason"}, // "unhealthy" / "error"
	)
)

var searchMetricsRegistered bool

// RegisterSearchMetrics registers Prometheus search metrics. Must be called once from main.
func RegisterSearchMetrics() {
	if searchMetricsRegistered {
		return
	}
	prometheus.MustRegister(SearchRequestsTotal)
	prometheus.MustRegister(SearchDuration)
	prometheus.MustRegister(SearchCacheTotal)
	prometheus.MustRegister(SearchFallbackTotal)
	searchMetricsRegistered = true
}
