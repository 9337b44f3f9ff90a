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

type statefulSetScaler struct {
	client client.Client
}

func (s *statefulSetScaler) Kind() string { return KindStatefulSet }

func (s *statefulSetScaler) List(ctx context.Context, namespace string) ([]Target, error) {
	list := &appsv1.StatefulSetList{}
	if err := s.client.List(ctx, list, client.InNamespace(namespace)); err != nil {
		return nil, err
	}
	targets := make([]Target, 0, len(list.Items))
	for _, sts := range list.Items {
		targets = append(targets, Target{Name: sts.Name, Annotations: sts.Annotations})
	}
	return targets, nil
}

func (s *statefulSetScaler) ReadState(ctx context.Context, namespace, name string) (any, bool, error) {
	sts := &appsv1.StatefulSet{}
	if err := s.client.Get(ctx, client.ObjectKey{Namespace: namespace, Name: name}, sts); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return ReplicaState{Replicas: ptr.To(effectiveReplicas(sts.Spec.Replicas))}, true, nil
}

func (s *statefulSetScaler) ScaleDown(ctx context.Context, namespace, name string) error {
	return s.patchReplicas(ctx, namespace, name, 0)
}

func (s *statefulSetScaler) ScaleUp(ctx context.Context, namespace, name string, payload json.RawMessage) error {
	replicas, err := restoredReplicas(payload)
	if err != nil {
		return fmt.Errorf("decoding StatefulSet %s/%s snapshot: %w", namespace, name, err)
	}
	return s.patchReplicas(ctx, namespace, name, replicas)
}

func (s *statefulSetScaler) patchReplicas(ctx context.Context, namespace, name string, replicas int32) error {
	sts := &appsv1.StatefulSet{ObjectMeta: metav1.ObjectMeta{Namespace: namespace, Name: name}}
	patch := client.RawPatch(types.MergePatchType, replicasPatch(replicas))
	if err := s.client.Patch(ctx, sts, patch); err != nil {
		return fmt.Errorf("patching StatefulSet %s/%s replicas to %d: %w", namespace, name, replicas, err)
	}
	ctrl.LoggerFrom(ctx).Info("Patched StatefulSet replicas",
		"namespace", namespace, "name", name, "replicas", replicas)
	return nil
}
