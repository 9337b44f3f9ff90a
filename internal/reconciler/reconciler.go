// Package reconciler drives scheduled hibernation. A Reconciler performs
// one full sweep over all eligible namespaces: for every workload of a
// supported kind it evaluates the scale-down and scale-up schedule
// annotations and applies at most one direction, backing up state before
// every scale-down and restoring the latest snapshot on scale-up. A Loop
// runs sweeps on a fixed cadence with cooperative shutdown.
//
// Failure isolation is strict: a single resource's failure never aborts
// its kind, a kind's failure never aborts the namespace, and a sweep's
// failure never stops the loop. Nothing is retried within a sweep; the
// next tick is the retry.
package reconciler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/kubescaler-io/kubescaler/internal/backup"
	"github.com/kubescaler-io/kubescaler/internal/logging"
	"github.com/kubescaler-io/kubescaler/internal/metrics"
	"github.com/kubescaler-io/kubescaler/internal/scaler"
	"github.com/kubescaler-io/kubescaler/internal/schedule"
)

// Reconciler performs one reconciliation sweep at a time. It holds no
// state between sweeps; everything is recomputed from the cluster's
// current data on every tick.
type Reconciler struct {
	client  client.Client
	store   *backup.Store
	scalers []scaler.Scaler
	now     func() time.Time
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithClock substitutes the time source used for schedule evaluation.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// New returns a Reconciler using the given client for namespace listing
// and the store for snapshots.
func New(c client.Client, store *backup.Store, opts ...Option) *Reconciler {
	r := &Reconciler{
		client:  c,
		store:   store,
		scalers: scaler.All(c),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunOnce executes one full sweep. The returned error is non-nil only when
// the namespace listing itself fails; everything below that level is
// logged and isolated.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	logger := ctrl.LoggerFrom(ctx)
	now := r.now().UTC()
	logger.V(logging.DEBUG).Info("Reconciliation sweep starting", "now", now.Format("2006-01-02 15:04:05 MST"))

	namespaces, err := r.eligibleNamespaces(ctx)
	if err != nil {
		return err
	}

	for _, ns := range namespaces {
		logger.V(logging.DEBUG).Info("Processing namespace", "namespace", ns)
		r.processNamespace(ctx, ns, now)
	}
	return nil
}

// eligibleNamespaces lists all namespaces and filters out cluster-system
// ones and those opted out via the control annotation. Everything else is
// eligible: processing is opt-out, not opt-in.
func (r *Reconciler) eligibleNamespaces(ctx context.Context) ([]string, error) {
	logger := ctrl.LoggerFrom(ctx)

	list := &corev1.NamespaceList{}
	if err := r.client.List(ctx, list); err != nil {
		if apierrors.IsForbidden(err) {
			return nil, fmt.Errorf("permission denied listing namespaces, "+
				"ensure the kubescaler service account has 'list' and 'watch' on namespaces: %w", err)
		}
		return nil, fmt.Errorf("listing namespaces: %w", err)
	}

	eligible := make([]string, 0, len(list.Items))
	for _, ns := range list.Items {
		if strings.HasPrefix(ns.Name, systemNamespacePrefix) {
			logger.V(logging.DEBUG).Info("Skipping system namespace", "namespace", ns.Name)
			continue
		}
		if ns.Annotations[ControlAnnotation] == DisableValue {
			logger.V(logging.DEBUG).Info("Skipping disabled namespace", "namespace", ns.Name)
			continue
		}
		eligible = append(eligible, ns.Name)
	}
	return eligible, nil
}

// processNamespace sweeps all supported kinds in one namespace. A listing
// failure for one kind is logged and skips only that kind.
func (r *Reconciler) processNamespace(ctx context.Context, namespace string, now time.Time) {
	logger := ctrl.LoggerFrom(ctx)

	for _, sc := range r.scalers {
		targets, err := sc.List(ctx, namespace)
		if err != nil {
			if apierrors.IsForbidden(err) {
				logger.Info("Permission denied listing resources, skipping kind in this namespace; "+
					"ensure the kubescaler service account has 'get', 'list' and 'watch' for this kind",
					"kind", sc.Kind(), "namespace", namespace, "error", err.Error())
			} else {
				logger.Error(err, "Failed to list resources", "kind", sc.Kind(), "namespace", namespace)
			}
			continue
		}
		for _, target := range targets {
			r.processResource(ctx, sc, namespace, target, now)
		}
	}
}

// processResource applies at most one scale direction to a single
// resource. Scale-down is evaluated first; when both schedules match the
// current minute, scale-down wins and scale-up is skipped for this tick.
func (r *Reconciler) processResource(ctx context.Context, sc scaler.Scaler, namespace string, target scaler.Target, now time.Time) {
	logger := ctrl.LoggerFrom(ctx)

	if target.Annotations[ControlAnnotation] == DisableValue {
		logger.V(logging.DEBUG).Info("Skipping disabled resource",
			"kind", sc.Kind(), "namespace", namespace, "name", target.Name)
		return
	}

	downAnnotation := target.Annotations[ScaleDownAnnotation]
	upAnnotation := target.Annotations[ScaleUpAnnotation]

	switch {
	case scheduleActive(downAnnotation, now):
		logger.Info("Scaling down per schedule",
			"kind", sc.Kind(), "namespace", namespace, "name", target.Name, "schedule", downAnnotation)
		r.scaleDown(ctx, sc, namespace, target.Name)

	case scheduleActive(upAnnotation, now):
		logger.Info("Scaling up per schedule",
			"kind", sc.Kind(), "namespace", namespace, "name", target.Name, "schedule", upAnnotation)
		r.scaleUp(ctx, sc, namespace, target.Name)
	}
}

// scaleDown snapshots the resource's current state, then applies the down
// direction. The snapshot is written before the mutation so state is never
// lost mid-transition; if the snapshot write fails, the scale is skipped
// and the next tick retries.
func (r *Reconciler) scaleDown(ctx context.Context, sc scaler.Scaler, namespace, name string) {
	logger := ctrl.LoggerFrom(ctx)

	state, found, err := sc.ReadState(ctx, namespace, name)
	if err != nil {
		logger.Error(err, "Failed to read current state, skipping scale-down",
			"kind", sc.Kind(), "namespace", namespace, "name", name)
		metrics.ScaleErrors.WithLabelValues(sc.Kind(), "down").Inc()
		return
	}
	if !found {
		logger.V(logging.DEBUG).Info("Resource vanished before scale-down",
			"kind", sc.Kind(), "namespace", namespace, "name", name)
		return
	}

	if err := r.store.Save(ctx, namespace, sc.Kind(), name, state); err != nil {
		logger.Error(err, "Failed to save snapshot, skipping scale-down to preserve state",
			"kind", sc.Kind(), "namespace", namespace, "name", name)
		metrics.ScaleErrors.WithLabelValues(sc.Kind(), "down").Inc()
		return
	}

	if err := sc.ScaleDown(ctx, namespace, name); err != nil {
		logScaleError(logger, err, sc.Kind(), namespace, name, "down")
		metrics.ScaleErrors.WithLabelValues(sc.Kind(), "down").Inc()
		return
	}
	metrics.ScaleOperations.WithLabelValues(sc.Kind(), "down").Inc()
}

// scaleUp restores the latest snapshot and applies the up direction. When
// no snapshot exists nothing is scaled: the controller never guesses a
// target state without an explicit backup.
func (r *Reconciler) scaleUp(ctx context.Context, sc scaler.Scaler, namespace, name string) {
	logger := ctrl.LoggerFrom(ctx)

	payload, found, err := r.store.Latest(ctx, namespace, sc.Kind(), name)
	if err != nil {
		logger.Error(err, "Failed to look up snapshot, skipping scale-up",
			"kind", sc.Kind(), "namespace", namespace, "name", name)
		metrics.ScaleErrors.WithLabelValues(sc.Kind(), "up").Inc()
		return
	}
	if !found {
		logger.Info("No backup state found, cannot scale up",
			"kind", sc.Kind(), "namespace", namespace, "name", name)
		return
	}

	if err := sc.ScaleUp(ctx, namespace, name, payload); err != nil {
		logScaleError(logger, err, sc.Kind(), namespace, name, "up")
		metrics.ScaleErrors.WithLabelValues(sc.Kind(), "up").Inc()
		return
	}
	metrics.ScaleOperations.WithLabelValues(sc.Kind(), "up").Inc()
}

// scheduleActive parses the annotation and evaluates it at now. An absent
// annotation never fires.
func scheduleActive(annotation string, now time.Time) bool {
	if annotation == "" {
		return false
	}
	return schedule.Parse(annotation).IsActive(now)
}

func logScaleError(logger logr.Logger, err error, kind, namespace, name, direction string) {
	if apierrors.IsForbidden(err) {
		logger.Info("Permission denied applying scale operation; "+
			"ensure the kubescaler service account has 'patch' and 'update' (or 'create' and 'delete' for autoscalers) for this kind",
			"kind", kind, "namespace", namespace, "name", name, "direction", direction, "error", err.Error())
		return
	}
	logger.Error(err, "Failed to apply scale operation",
		"kind", kind, "namespace", namespace, "name", name, "direction", direction)
}
