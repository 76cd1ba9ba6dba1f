package metrics

import "github.com/prometheus/client_golang/prometheus"

// Store Prometheus metrics.
var (
	DocumentInsertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "muninn",
			Name:      "documents_inserted_total",
			Help:      "Total number of document state inserts",
		},
		[]string{"schema"},
	)

	DocumentViewInsertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "muninn",
			Name:      "document_views_inserted_total",
			Help:      "Total number of pinned document view inserts",
		},
		[]string{"schema"},
	)

	OperationInsertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "muninn",
			Name:      "operations_inserted_total",
			Help:      "Total number of operation inserts",
		},
		[]string{"schema"},
	)

	DocumentReadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "muninn",
			Name:      "document_reads_total",
			Help:      "Document reads by method and outcome",
		},
		[]string{"method", "result"}, // "hit" / "miss" / "error"
	)

	BlobAssembliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "muninn",
			Name:      "blob_assemblies_total",
			Help:      "Blob assembly attempts by outcome",
		},
		[]string{"status"},
	)

	StoreOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "muninn",
			Name:      "store_operation_duration_seconds",
			Help:      "Store operation duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"operation"},
	)
)

var registered bool

// Register registers the store metrics with the default registry. Must be
// called once from main.
func Register() {
	if registered {
		return
	}
	prometheus.MustRegister(DocumentInsertsTotal)
	prometheus.MustRegister(DocumentViewInsertsTotal)
	prometheus.MustRegister(OperationInsertsTotal)
	prometheus.MustRegister(DocumentReadsTotal)
	prometheus.MustRegister(BlobAssembliesTotal)
	prometheus.MustRegister(StoreOperationDuration)
	registered = true
}
