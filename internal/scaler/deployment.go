package scaler

import (
	"context"
	"encoding/json"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/ptr"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

type deploymentScaler struct {
	client client.Client
}

func (s *deploymentScaler) Kind() string { return KindDeployment }

func (s *deploymentScaler) List(ctx context.Context, namespace string) ([]Target, error) {
	list := &appsv1.DeploymentList{}
	if err := s.client.List(ctx, list, client.InNamespace(namespace)); err != nil {
		return nil, err
	}
	targets := make([]Target, 0, len(list.Items))
	for _, d := range list.Items {
		targets = append(targets, Target{Name: d.Name, Annotations: d.Annotations})
	}
	return targets, nil
}

func (s *deploymentScaler) ReadState(ctx context.Context, namespace, name string) (any, bool, error) {
	d := &appsv1.Deployment{}
	if err := s.client.Get(ctx, client.ObjectKey{Namespace: namespace, Name: name}, d); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return ReplicaState{Replicas: ptr.To(effectiveReplicas(d.Spec.Replicas))}, true, nil
}

func (s *deploymentScaler) ScaleDown(ctx context.Context, namespace, name string) error {
	return s.patchReplicas(ctx, namespace, name, 0)
}

func (s *deploymentScaler) ScaleUp(ctx context.Context, namespace, name string, payload json.RawMessage) error {
	replicas, err := restoredReplicas(payload)
	if err != nil {
		return fmt.Errorf("decoding Deployment %s/%s snapshot: %w", namespace, name, err)
	}
	return s.patchReplicas(ctx, namespace, name, replicas)
}

func (s *deploymentScaler) patchReplicas(ctx context.Context, namespace, name string, replicas int32) error {
	d := &appsv1.Deployment{ObjectMeta: metav1.ObjectMeta{Namespace: namespace, Name: name}}
	patch := client.RawPatch(types.MergePatchType, replicasPatch(replicas))
	if err := s.client.Patch(ctx, d, patch); err != nil {
		return fmt.Errorf("patching Deployment %s/%s replicas to %d: %w", namespace, name, replicas, err)
	}
	ctrl.LoggerFrom(ctx).Info("Patched Deployment replicas",
		"namespace", namespace, "name", name, "replicas", replicas)
	return nil
}

// replicasPatch is a merge patch setting spec.replicas.
func replicasPatch(replicas int32) []byte {
	return fmt.Appendf(nil, `{"spec":{"replicas":%d}}`, replicas)
}

// effectiveReplicas mirrors the backup rule for replica-based kinds: an
// unset or zero replica count is recorded as one, so a later restore never
// re-hibernates the workload.
func effectiveReplicas(replicas *int32) int32 {
	if r := ptr.Deref(replicas, 1); r != 0 {
		return r
	}
	return 1
}

// restoredReplicas decodes the replica count from a snapshot payload,
// defaulting to one replica when the payload is absent or lacks the field.
func restoredReplicas(payload json.RawMessage) (int32, error) {
	if payload == nil {
		return 1, nil
	}
	var st ReplicaState
	if err := json.Unmarshal(payload, &st); err != nil {
		return 0, err
	}
	return ptr.Deref(st.Replicas, 1), nil
}
