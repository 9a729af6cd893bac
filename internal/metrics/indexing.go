package metrics

import "github.com/prometheus/client_golang/prometheus"

// Indexing pipeline Prometheus metrics.
var (
	IndexJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "repodex",
			Name:      "index_jobs_total",
			Help:      "Index jobs by final status",
		},
		[]string{"status"},
	)

	IndexFilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "repodex",
			Name:      "index_files_total",
			Help:      "Files processed by outcome",
		},
		[]string{"status"}, // "success" / "error" / "skipped"
	)

	IndexFileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "repodex",
			Name:      "index_file_duration_seconds",
			Help:      "Per-file processing duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	IndexUnitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "repodex",
			Name:      "index_units_total",
			Help:      "Total semantic units written to the index",
		},
	)

	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "repodex",
			Name:      "search_requests_total",
			Help:      "Search requests by mode and status",
		},
		[]string{"mode", "status"}, // mode: "hybrid" / "degraded"
	)

	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "repodex",
			Name:      "search_duration_seconds",
			Help:      "Hybrid search duration in seconds by branch",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"branch"}, // "lexical" / "vector" / "total"
	)
)

var indexingMetricsRegistered bool

// RegisterIndexingMetrics registers pipeline and search metrics. Must be called once from main.
func RegisterIndexingMetrics() {
	if indexingMetricsRegistered {
		return
	}
	prometheus.MustRegister(IndexJobsTotal)
	prometheus.MustRegister(IndexFilesTotal)
	prometheus.MustRegister(IndexFileDuration)
	prometheus.MustRegister(IndexUnitsTotal)
	prometheus.MustRegister(SearchRequestsTotal)
	prometheus.MustRegister(SearchDuration)
	indexingMetricsRegistered = true
}
