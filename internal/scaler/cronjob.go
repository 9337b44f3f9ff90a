package scaler

import (
	"context"
	"encoding/json"
	"fmt"

	batchv1 "k8s.io/api/batch/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/ptr"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

type cronJobScaler struct {
	client client.Client
}

func (s *cronJobScaler) Kind() string { return KindCronJob }

func (s *cronJobScaler) List(ctx context.Context, namespace string) ([]Target, error) {
	list := &batchv1.CronJobList{}
	if err := s.client.List(ctx, list, client.InNamespace(namespace)); err != nil {
		return nil, err
	}
	targets := make([]Target, 0, len(list.Items))
	for _, cj := range list.Items {
		targets = append(targets, Target{Name: cj.Name, Annotations: cj.Annotations})
	}
	return targets, nil
}

func (s *cronJobScaler) ReadState(ctx context.Context, namespace, name string) (any, bool, error) {
	cj := &batchv1.CronJob{}
	if err := s.client.Get(ctx, client.ObjectKey{Namespace: namespace, Name: name}, cj); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return SuspendState{Suspend: ptr.To(ptr.Deref(cj.Spec.Suspend, false))}, true, nil
}

func (s *cronJobScaler) ScaleDown(ctx context.Context, namespace, name string) error {
	return s.patchSuspend(ctx, namespace, name, true)
}

func (s *cronJobScaler) ScaleUp(ctx context.Context, namespace, name string, payload json.RawMessage) error {
	suspend := false
	if payload != nil {
		var st SuspendState
		if err := json.Unmarshal(payload, &st); err != nil {
			return fmt.Errorf("decoding CronJob %s/%s snapshot: %w", namespace, name, err)
		}
		suspend = ptr.Deref(st.Suspend, false)
	}
	return s.patchSuspend(ctx, namespace, name, suspend)
}

func (s *cronJobScaler) patchSuspend(ctx context.Context, namespace, name string, suspend bool) error {
	cj := &batchv1.CronJob{ObjectMeta: metav1.ObjectMeta{Namespace: namespace, Name: name}}
	patch := client.RawPatch(types.MergePatchType, fmt.Appendf(nil, `{"spec":{"suspend":%t}}`, suspend))
	if err := s.client.Patch(ctx, cj, patch); err != nil {
		return fmt.Errorf("patching CronJob %s/%s suspend to %t: %w", namespace, name, suspend, err)
	}
	ctrl.LoggerFrom(ctx).Info("Patched CronJob suspend",
		"namespace", namespace, "name", name, "suspend", suspend)
	return nil
}
