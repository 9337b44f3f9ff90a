// Package backup persists scaling state as versioned ConfigMap snapshots.
// One snapshot is written immediately before every scale-down; scale-up
// reads back the most recent one. Snapshots for a resource are identified
// by labels and ordered by creation time; a configurable retention limit
// prunes the oldest after each save.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/kubescaler-io/kubescaler/internal/logging"
	"github.com/kubescaler-io/kubescaler/internal/metrics"
)

const (
	// NamePrefix prefixes every snapshot ConfigMap name.
	NamePrefix = "ks-backup"

	// ManagedByLabel / ManagedByValue mark snapshots owned by this controller.
	ManagedByLabel = "app.kubernetes.io/managed-by"
	ManagedByValue = "kubescaler"

	// KindLabel and NameLabel identify the resource a snapshot belongs to.
	KindLabel = "resource-kind"
	NameLabel = "resource-name"

	// timestampLayout is second-resolution and sorts lexicographically in
	// chronological order, which keeps snapshot names unique per resource
	// and usable as a creation-time tie breaker.
	timestampLayout = "20060102-150405"
)

// Store reads and writes snapshot ConfigMaps through the cluster API.
type Store struct {
	client       client.Client
	maxSnapshots int
	now          func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock substitutes the time source used to stamp snapshot names.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore returns a Store keeping at most maxSnapshots snapshots per
// resource. A limit of zero or less disables pruning entirely.
func NewStore(c client.Client, maxSnapshots int, opts ...Option) *Store {
	s := &Store{
		client:       c,
		maxSnapshots: maxSnapshots,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save serializes state to JSON and writes it as a new snapshot ConfigMap
// for the given resource. On success the retention pruner runs for that
// resource; pruning failures are logged, never returned.
func (s *Store) Save(ctx context.Context, namespace, kind, name string, state any) error {
	logger := ctrl.LoggerFrom(ctx)

	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding %s %s/%s state: %w", kind, namespace, name, err)
	}

	stamp := s.now().UTC().Format(timestampLayout)
	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      fmt.Sprintf("%s-%s-%s-%s", NamePrefix, strings.ToLower(kind), name, stamp),
			Namespace: namespace,
			Labels:    snapshotLabels(kind, name),
		},
		Data: map[string]string{
			dataKey(kind, name): string(payload),
		},
	}

	if err := s.client.Create(ctx, cm); err != nil {
		return fmt.Errorf("creating backup ConfigMap for %s %s/%s: %w", kind, namespace, name, err)
	}
	metrics.SnapshotsCreated.Inc()
	logger.Info("Saved state snapshot", "kind", kind, "namespace", namespace, "name", name, "configMap", cm.Name)

	if err := s.prune(ctx, namespace, kind, name); err != nil {
		logger.Error(err, "Failed to prune old snapshots", "kind", kind, "namespace", namespace, "name", name)
	}
	return nil
}

// Latest returns the JSON payload of the most recent snapshot for the
// resource. found is false when no snapshot exists or the newest one is
// unusable (missing data key or malformed JSON); both cases are logged and
// are not errors. The error return is reserved for API failures.
func (s *Store) Latest(ctx context.Context, namespace, kind, name string) (payload json.RawMessage, found bool, err error) {
	logger := ctrl.LoggerFrom(ctx)

	items, err := s.list(ctx, namespace, kind, name)
	if err != nil {
		return nil, false, fmt.Errorf("listing backup ConfigMaps for %s %s/%s: %w", kind, namespace, name, err)
	}
	if len(items) == 0 {
		logger.V(logging.DEBUG).Info("No snapshots found", "kind", kind, "namespace", namespace, "name", name)
		return nil, false, nil
	}

	sortByCreation(items)
	latest := items[len(items)-1]

	raw, ok := latest.Data[dataKey(kind, name)]
	if !ok {
		logger.Info("Snapshot ConfigMap has no data for expected key, treating as no usable backup",
			"configMap", latest.Name, "key", dataKey(kind, name))
		return nil, false, nil
	}
	if !json.Valid([]byte(raw)) {
		logger.Info("Snapshot payload is not valid JSON, treating as no usable backup",
			"configMap", latest.Name)
		return nil, false, nil
	}

	logger.V(logging.DEBUG).Info("Found latest snapshot",
		"kind", kind, "namespace", namespace, "name", name, "configMap", latest.Name)
	return json.RawMessage(raw), true, nil
}

// prune deletes the oldest snapshots for a resource until at most
// maxSnapshots remain. Individual deletion failures are logged and do not
// stop deletion of the remaining surplus.
func (s *Store) prune(ctx context.Context, namespace, kind, name string) error {
	if s.maxSnapshots <= 0 {
		return nil
	}
	logger := ctrl.LoggerFrom(ctx)

	items, err := s.list(ctx, namespace, kind, name)
	if err != nil {
		return fmt.Errorf("listing snapshots of %s %s/%s for pruning: %w", kind, namespace, name, err)
	}
	if len(items) <= s.maxSnapshots {
		return nil
	}

	sortByCreation(items)
	for _, cm := range items[:len(items)-s.maxSnapshots] {
		logger.Info("Pruning old snapshot", "configMap", cm.Name, "namespace", namespace)
		if err := s.client.Delete(ctx, &cm); err != nil {
			logger.Error(err, "Failed to delete snapshot ConfigMap", "configMap", cm.Name)
			continue
		}
		metrics.SnapshotsPruned.Inc()
	}
	return nil
}

func (s *Store) list(ctx context.Context, namespace, kind, name string) ([]corev1.ConfigMap, error) {
	cms := &corev1.ConfigMapList{}
	err := s.client.List(ctx, cms,
		client.InNamespace(namespace),
		client.MatchingLabels(snapshotLabels(kind, name)),
	)
	if err != nil {
		return nil, err
	}
	return cms.Items, nil
}

// sortByCreation orders snapshots oldest first. Names embed a
// second-resolution timestamp, so they break ties between snapshots the
// API server stamped with the same creation time.
func sortByCreation(items []corev1.ConfigMap) {
	sort.Slice(items, func(i, j int) bool {
		ti, tj := items[i].CreationTimestamp, items[j].CreationTimestamp
		if ti.Equal(&tj) {
			return items[i].Name < items[j].Name
		}
		return ti.Before(&tj)
	})
}

func snapshotLabels(kind, name string) map[string]string {
	return map[string]string{
		ManagedByLabel: ManagedByValue,
		KindLabel:      kind,
		NameLabel:      name,
	}
}

func dataKey(kind, name string) string {
	return fmt.Sprintf("%s-%s", strings.ToLower(kind), name)
}
