// Package metrics defines the Prometheus instrumentation for the controller.
// All collectors register on the default registry; main exposes them via
// promhttp on the metrics bind address.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReconcilePasses counts completed reconciliation ticks, successful or not.
	ReconcilePasses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kubescaler_reconcile_passes_total",
		Help: "Total number of reconciliation passes executed.",
	})

	// ReconcileDuration observes wall-clock duration of one full pass.
	ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kubescaler_reconcile_duration_seconds",
		Help:    "Duration of a full reconciliation pass over all namespaces.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	// ScaleOperations counts scale mutations applied, by kind and direction.
	ScaleOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kubescaler_scale_operations_total",
		Help: "Total number of successful scale operations.",
	}, []string{"kind", "direction"})

	// ScaleErrors counts scale mutations that failed, by kind and direction.
	ScaleErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kubescaler_scale_errors_total",
		Help: "Total number of failed scale operations.",
	}, []string{"kind", "direction"})

	// SnapshotsCreated counts backup snapshots written before scale-down.
	SnapshotsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kubescaler_snapshots_created_total",
		Help: "Total number of backup snapshots created.",
	})

	// SnapshotsPruned counts snapshots deleted by retention pruning.
	SnapshotsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kubescaler_snapshots_pruned_total",
		Help: "Total number of backup snapshots deleted by retention pruning.",
	})
)
