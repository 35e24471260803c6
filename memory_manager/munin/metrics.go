package munin

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	captureTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workmem_capture_total",
		Help: "Captured turns by classifier action",
	}, []string{"action"})

	captureFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "workmem_capture_fallback_total",
		Help: "Captures summarized by the rule-based fallback",
	})

	captureDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "workmem_capture_dropped_total",
		Help: "Captures that could not be persisted",
	})

	recallEntries = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "workmem_recall_entries",
		Help:    "Entries injected per recall",
		Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
	})

	recallDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "workmem_recall_degraded_total",
		Help: "Recalls that returned nothing because a dependency failed",
	})

	consolidationMerges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "workmem_consolidation_merges_total",
		Help: "Clusters merged into a single entry",
	})

	consolidationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "workmem_consolidation_failures_total",
		Help: "Clusters left unmerged or partially merged after an error",
	})

	prunedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "workmem_pruned_total",
		Help: "Entries deleted for falling outside the window",
	})
)
