package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "delta_mirror"

var (
	SnapshotsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "snapshots_opened_total",
		Help:      "Transaction log snapshots opened by the scan engine.",
	})

	VisitBatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "visit_batches_total",
		Help:      "Scan-file batches pulled from the log engine.",
	})

	FilesResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "files_resolved_total",
		Help:      "Data files resolved by lazy file lists.",
	}, []string{"filtered"})

	DeletionVectorsResolved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deletion_vectors_resolved_total",
		Help:      "Deletion vectors loaded from storage or inline descriptors.",
	})

	RowsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rows_deleted_total",
		Help:      "Rows removed from chunks by deletion vectors.",
	})

	RowsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rows_emitted_total",
		Help:      "Rows handed to scan consumers.",
	})

	ExplainFiles = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "explain_files",
		Help:      "File counts of the last analysed pushdown, before and after pruning.",
	}, []string{"stage"})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
