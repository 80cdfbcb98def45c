package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// syncsTotal counts sync cycles.
	// Labels: result (ok, fetch_error, push_error, error)
	syncsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "confsync",
		Name:      "syncs_total",
		Help:      "Sync cycles by result",
	}, []string{"result"})

	// pushesTotal counts diff pushes and compactions sent to the adapter.
	// Labels: result (ok, error)
	pushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "confsync",
		Name:      "pushes_total",
		Help:      "Pushes to the store adapter by result",
	}, []string{"result"})

	// decodeFailures counts fetched blobs that were discarded.
	// Labels: reason (envelope, namespace, decrypt, decompress, decode, owner)
	decodeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "confsync",
		Name:      "blob_decode_failures_total",
		Help:      "Fetched blobs discarded as unreadable",
	}, []string{"reason"})

	mergeConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "confsync",
		Name:      "merge_conflicts_total",
		Help:      "Fields where two writes claimed the same stamp with different content",
	})

	mergeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "confsync",
		Name:      "merge_duration_seconds",
		Help:      "Time spent merging fetched snapshots under the slot lock",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	})

	// compactionsTotal counts compactions.
	// Labels: result (ok, error)
	compactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "confsync",
		Name:      "compactions_total",
		Help:      "Compactions of a pair's blobs into one snapshot",
	}, []string{"result"})

	openSlots = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "confsync",
		Name:      "open_slots",
		Help:      "Namespace and owner pairs held in memory",
	})
)
