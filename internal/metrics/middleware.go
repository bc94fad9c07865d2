package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTP Prometheus metrics.
var (
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 30},
		},
		[]string{"method", "route", "class"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "class"}, // class: 2xx / 4xx / 5xx
	)

	HTTPInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "HTTP requests currently being served",
		},
	)
)

var httpMetricsRegistered bool

// RegisterHTTPMetrics registers Prometheus HTTP metrics. Must be called once from main.
func RegisterHTTPMetrics() {
	if httpMetricsRegistered {
		return
	}
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPInFlight)
	httpMetricsRegistered = true
}

// Middleware records duration, count and concurrency of HTTP requests,
// labelled by chi route pattern. Scrapes of the metrics endpoint are not counted.
func Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}
			HTTPInFlight.Inc()
			defer HTTPInFlight.Dec()

			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil {
				route = routeLabel(rc.RoutePattern())
			}
			class := statusClass(sw.status)
			HTTPRequestDuration.WithLabelValues(r.Method, route, class).Observe(time.Since(start).Seconds())
			HTTPRequestsTotal.WithLabelValues(r.Method, route, class).Inc()
		})
	}
}

// routeLabel keeps label cardinality bounded: unmatched requests share one label.
func routeLabel(pattern string) string {
	if pattern == "" || pattern == "/*" {
		return "unmatched"
	}
	return strings.TrimSuffix(pattern, "/")
}

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b) //nolint:wrapcheck // delegating to underlying ResponseWriter
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
