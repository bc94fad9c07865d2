package metrics

import "github.com/prometheus/client_golang/prometheus"

// Synchronization Prometheus metrics.
var (
	SyncEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_events_total",
			Help:      "Change notifications processed",
		},
		[]string{"operation", "result"}, // result: applied / dead_lettered
	)

	SyncRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_retries_total",
			Help:      "Retried change applications",
		},
	)

	SyncDeadLettersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_dead_letters_total",
			Help:      "Change notifications set aside after failing",
		},
	)

	SyncDeadLettersPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_dead_letters_pending",
			Help:      "Dead letters not yet replayed",
		},
	)

	SyncLagSeq = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_pending_notifications",
			Help:      "Delivered but not yet committed change notifications",
		},
	)

	SyncDriftIDs = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_drift_ids",
			Help:      "Listing ids present in only one store at the last drift check",
		},
		[]string{"side"}, // "missing_in_index" / "missing_in_store"
	)

	ReindexDocumentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reindex_documents_total",
			Help:      "Documents processed by reindex runs",
		},
		[]string{"result"}, // indexed / skipped / failed / removed
	)
)

var syncMetricsRegistered bool

// RegisterSyncMetrics registers Prometheus synchronization metrics. Must be called once from main.
func RegisterSyncMetrics() {
	if syncMetricsRegistered {
		return
	}
	prometheus.MustRegister(SyncEventsTotal)
	prometheus.MustRegister(SyncRetriesTotal)
	prometheus.MustRegister(SyncDeadLettersTotal)
	prometheus.MustRegister(SyncDeadLettersPending)
	prometheus.MustRegister(SyncLagSeq)
	prometheus.MustRegister(SyncDriftIDs)
	prometheus.MustRegister(ReindexDocumentsTotal)
	syncMetricsRegistered = true
}
