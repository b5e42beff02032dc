package metrics

import "github.com/prometheus/client_golang/prometheus"

// Ingestion and retrieval Prometheus metrics.
var (
	IngestionProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knowd",
			Name:      "ingestion_processed_total",
			Help:      "Documents processed by the ingestion pipeline",
		},
		[]string{"result"}, // "completed" / "failed" / "inconsistent"
	)

	IngestionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "knowd",
			Name:      "ingestion_duration_seconds",
			Help:      "End-to-end duration of one ingestion attempt",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	RetrievalQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knowd",
			Name:      "retrieval_queries_total",
			Help:      "Retrieval queries by outcome",
		},
		[]string{"outcome"}, // "matched" / "empty" / "no_access"
	)

	RetrievalLeakDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "knowd",
			Name:      "retrieval_leak_dropped_total",
			Help:      "Candidates dropped by the post-search access re-check",
		},
	)
)

var pipelineMetricsRegistered bool

// RegisterPipelineMetrics registers ingestion and retrieval metrics. Must be called once from main.
func RegisterPipelineMetrics() {
	if pipelineMetricsRegistered {
		return
	}
	prometheus.MustRegister(IngestionProcessedTotal)
	prometheus.MustRegister(IngestionDuration)
	prometheus.MustRegister(RetrievalQueriesTotal)
	prometheus.MustRegister(RetrievalLeakDroppedTotal)
	pipelineMetricsRegistered = true
}
