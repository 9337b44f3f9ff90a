// Package scaler implements the per-kind scaling engine. Each supported
// workload kind (Deployment, StatefulSet, HorizontalPodAutoscaler, CronJob)
// is one variant of the Scaler interface: it lists instances in a
// namespace, reads the scaling-relevant state for backup, and applies the
// up or down direction. Adding a kind means adding a variant, not touching
// call sites.
package scaler

import (
	"context"
	"encoding/json"

	"sigs.k8s.io/controller-runtime/pkg/client"
)

// Supported resource kinds, spelled the way the cluster API spells them.
const (
	KindDeployment  = "Deployment"
	KindStatefulSet = "StatefulSet"
	KindHPA         = "HorizontalPodAutoscaler"
	KindCronJob     = "CronJob"
)

// Target is a read-only view of one workload instance: just enough for the
// orchestrator to evaluate its schedule annotations.
type Target struct {
	Name        string
	Annotations map[string]string
}

// Scaler is the capability set one resource kind exposes to the
// reconciler.
type Scaler interface {
	// Kind returns the resource kind this scaler handles.
	Kind() string

	// List returns all instances of the kind in the namespace.
	List(ctx context.Context, namespace string) ([]Target, error)

	// ReadState returns the scaling-relevant state of one instance as a
	// JSON-serializable value, or found=false when the instance does not
	// exist. The returned value is what the backup store persists.
	ReadState(ctx context.Context, namespace, name string) (state any, found bool, err error)

	// ScaleDown hibernates the instance: zero replicas, suspended job, or
	// deleted autoscaler depending on the kind.
	ScaleDown(ctx context.Context, namespace, name string) error

	// ScaleUp restores the instance from a snapshot payload previously
	// produced by ReadState. A nil payload falls back to the kind's
	// documented default where one exists.
	ScaleUp(ctx context.Context, namespace, name string, payload json.RawMessage) error
}

// All returns the closed set of scalers, in the order resources are
// processed within a namespace.
func All(c client.Client) []Scaler {
	return []Scaler{
		&deploymentScaler{client: c},
		&statefulSetScaler{client: c},
		&hpaScaler{client: c},
		&cronJobScaler{client: c},
	}
}

// ReplicaState is the snapshot payload for Deployments and StatefulSets.
// Replicas is a pointer so a snapshot missing the field can fall back to
// the default of one replica on restore.
type ReplicaState struct {
	Replicas *int32 `json:"replicas,omitempty"`
}

// SuspendState is the snapshot payload for CronJobs.
type SuspendState struct {
	Suspend *bool `json:"suspend,omitempty"`
}
