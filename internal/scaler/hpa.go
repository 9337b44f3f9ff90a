package scaler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	autoscalingv2 "k8s.io/api/autoscaling/v2"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

var errNoHPASpec = errors.New("snapshot contains no autoscaler spec")

// HPAState is the snapshot payload for HorizontalPodAutoscalers. The full
// spec is kept so the object can be re-created verbatim after a scale-down
// deleted it.
type HPAState struct {
	Spec *autoscalingv2.HorizontalPodAutoscalerSpec `json:"spec,omitempty"`
}

// hpaScaler hibernates autoscalers by deleting them outright. A mere
// min/max patch would leave the autoscaler free to fight the replica
// patches applied to its scale target; an absent object cannot.
type hpaScaler struct {
	client client.Client
}

func (s *hpaScaler) Kind() string { return KindHPA }

func (s *hpaScaler) List(ctx context.Context, namespace string) ([]Target, error) {
	list := &autoscalingv2.HorizontalPodAutoscalerList{}
	if err := s.client.List(ctx, list, client.InNamespace(namespace)); err != nil {
		return nil, err
	}
	targets := make([]Target, 0, len(list.Items))
	for _, hpa := range list.Items {
		targets = append(targets, Target{Name: hpa.Name, Annotations: hpa.Annotations})
	}
	return targets, nil
}

func (s *hpaScaler) ReadState(ctx context.Context, namespace, name string) (any, bool, error) {
	hpa := &autoscalingv2.HorizontalPodAutoscaler{}
	if err := s.client.Get(ctx, client.ObjectKey{Namespace: namespace, Name: name}, hpa); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return HPAState{Spec: &hpa.Spec}, true, nil
}

// ScaleDown deletes the autoscaler. Not-found means a previous tick
// already deleted it, which is the desired end state, not an error.
func (s *hpaScaler) ScaleDown(ctx context.Context, namespace, name string) error {
	logger := ctrl.LoggerFrom(ctx)

	hpa := &autoscalingv2.HorizontalPodAutoscaler{
		ObjectMeta: metav1.ObjectMeta{Namespace: namespace, Name: name},
	}
	if err := s.client.Delete(ctx, hpa); err != nil {
		if apierrors.IsNotFound(err) {
			logger.Info("HorizontalPodAutoscaler already deleted",
				"namespace", namespace, "name", name)
			return nil
		}
		return fmt.Errorf("deleting HorizontalPodAutoscaler %s/%s: %w", namespace, name, err)
	}
	logger.Info("Deleted HorizontalPodAutoscaler", "namespace", namespace, "name", name)
	return nil
}

// ScaleUp re-creates the autoscaler from its snapshot. An already-exists
// conflict means a previous tick restored it, treated as success.
func (s *hpaScaler) ScaleUp(ctx context.Context, namespace, name string, payload json.RawMessage) error {
	logger := ctrl.LoggerFrom(ctx)

	var st HPAState
	if payload != nil {
		if err := json.Unmarshal(payload, &st); err != nil {
			return fmt.Errorf("decoding HorizontalPodAutoscaler %s/%s snapshot: %w", namespace, name, err)
		}
	}
	if st.Spec == nil {
		return fmt.Errorf("re-creating HorizontalPodAutoscaler %s/%s: %w", namespace, name, errNoHPASpec)
	}

	hpa := &autoscalingv2.HorizontalPodAutoscaler{
		ObjectMeta: metav1.ObjectMeta{Namespace: namespace, Name: name},
		Spec:       *st.Spec,
	}
	if err := s.client.Create(ctx, hpa); err != nil {
		if apierrors.IsAlreadyExists(err) || apierrors.IsConflict(err) {
			logger.Info("HorizontalPodAutoscaler already exists, skipping re-creation",
				"namespace", namespace, "name", name)
			return nil
		}
		return fmt.Errorf("re-creating HorizontalPodAutoscaler %s/%s: %w", namespace, name, err)
	}
	logger.Info("Re-created HorizontalPodAutoscaler", "namespace", namespace, "name", name)
	return nil
}
