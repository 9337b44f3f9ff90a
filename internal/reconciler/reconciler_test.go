package reconciler

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	appsv1 "k8s.io/api/apps/v1"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	"github.com/kubescaler-io/kubescaler/internal/backup"
)

const testNamespace = "team-a"

// downAt09 fires 2026-12-11 (a Friday) at 09:00 UTC; upAt17 the same day
// at 17:00.
const (
	downAt09 = "2026;Dec;Fri;11;09:00"
	upAt17   = "2026;Dec;Fri;11;17:00"
)

var (
	nineAM   = time.Date(2026, time.December, 11, 9, 0, 0, 0, time.UTC)
	fivePM   = time.Date(2026, time.December, 11, 17, 0, 0, 0, time.UTC)
	elevenAM = time.Date(2026, time.December, 11, 11, 0, 0, 0, time.UTC)
)

func newScheme() *runtime.Scheme {
	scheme := runtime.NewScheme()
	_ = clientgoscheme.AddToScheme(scheme)
	return scheme
}

func namespaceObj(name string, annotations map[string]string) *corev1.Namespace {
	return &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{Name: name, Annotations: annotations},
	}
}

func deploymentObj(name string, replicas int32, annotations map[string]string) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:        name,
			Namespace:   testNamespace,
			Annotations: annotations,
		},
		Spec: appsv1.DeploymentSpec{Replicas: ptr.To(replicas)},
	}
}

func hpaObj(name string, annotations map[string]string) *autoscalingv2.HorizontalPodAutoscaler {
	return &autoscalingv2.HorizontalPodAutoscaler{
		ObjectMeta: metav1.ObjectMeta{
			Name:        name,
			Namespace:   testNamespace,
			Annotations: annotations,
		},
		Spec: autoscalingv2.HorizontalPodAutoscalerSpec{
			ScaleTargetRef: autoscalingv2.CrossVersionObjectReference{
				Kind: "Deployment", Name: name, APIVersion: "apps/v1",
			},
			MinReplicas: ptr.To(int32(2)),
			MaxReplicas: 8,
		},
	}
}

// newReconciler wires a Reconciler against the fake client with a frozen
// clock.
func newReconciler(c client.Client, now time.Time) *Reconciler {
	return New(c, backup.NewStore(c, 5), WithClock(func() time.Time { return now }))
}

func getDeployment(ctx context.Context, c client.Client, name string) *appsv1.Deployment {
	d := &appsv1.Deployment{}
	Expect(c.Get(ctx, client.ObjectKey{Namespace: testNamespace, Name: name}, d)).To(Succeed())
	return d
}

var _ = Describe("eligibleNamespaces", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("excludes system namespaces regardless of annotations", func() {
		c := fake.NewClientBuilder().WithScheme(newScheme()).WithObjects(
			namespaceObj("kube-system", nil),
			namespaceObj("kube-public", map[string]string{ControlAnnotation: "Enable"}),
			namespaceObj("team-a", nil),
		).Build()

		namespaces, err := newReconciler(c, nineAM).eligibleNamespaces(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(namespaces).To(Equal([]string{"team-a"}))
	})

	It("excludes namespaces opted out via the control annotation", func() {
		c := fake.NewClientBuilder().WithScheme(newScheme()).WithObjects(
			namespaceObj("team-a", map[string]string{ControlAnnotation: DisableValue}),
			namespaceObj("team-b", map[string]string{ControlAnnotation: "disable"}),
			namespaceObj("team-c", nil),
		).Build()

		namespaces, err := newReconciler(c, nineAM).eligibleNamespaces(ctx)
		Expect(err).NotTo(HaveOccurred())
		// The opt-out value is case sensitive; "disable" does not count.
		Expect(namespaces).To(ConsistOf("team-b", "team-c"))
	})
})

var _ = Describe("RunOnce", func() {
	var (
		ctx context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
	})

	Context("Deployment hibernation", func() {
		var c client.Client

		BeforeEach(func() {
			c = fake.NewClientBuilder().WithScheme(newScheme()).WithObjects(
				namespaceObj(testNamespace, nil),
				deploymentObj("web", 4, map[string]string{
					ScaleDownAnnotation: downAt09,
					ScaleUpAnnotation:   upAt17,
				}),
			).Build()
		})

		It("backs up and scales down when the down schedule fires", func() {
			Expect(newReconciler(c, nineAM).RunOnce(ctx)).To(Succeed())

			Expect(getDeployment(ctx, c, "web").Spec.Replicas).To(HaveValue(Equal(int32(0))))

			cms := &corev1.ConfigMapList{}
			Expect(c.List(ctx, cms, client.InNamespace(testNamespace), client.MatchingLabels(map[string]string{
				backup.ManagedByLabel: backup.ManagedByValue,
				backup.KindLabel:      "Deployment",
				backup.NameLabel:      "web",
			}))).To(Succeed())
			Expect(cms.Items).To(HaveLen(1))
			Expect(cms.Items[0].Data).To(HaveKeyWithValue("deployment-web", `{"replicas":4}`))
		})

		It("restores the backed up replica count when the up schedule fires", func() {
			Expect(newReconciler(c, nineAM).RunOnce(ctx)).To(Succeed())
			Expect(getDeployment(ctx, c, "web").Spec.Replicas).To(HaveValue(Equal(int32(0))))

			Expect(newReconciler(c, fivePM).RunOnce(ctx)).To(Succeed())
			Expect(getDeployment(ctx, c, "web").Spec.Replicas).To(HaveValue(Equal(int32(4))))
		})

		It("does nothing between scheduled minutes", func() {
			Expect(newReconciler(c, elevenAM).RunOnce(ctx)).To(Succeed())
			Expect(getDeployment(ctx, c, "web").Spec.Replicas).To(HaveValue(Equal(int32(4))))
		})

		It("takes no scaling action on scale-up without a backup", func() {
			Expect(newReconciler(c, fivePM).RunOnce(ctx)).To(Succeed())
			Expect(getDeployment(ctx, c, "web").Spec.Replicas).To(HaveValue(Equal(int32(4))))
		})

		It("is idempotent across repeated scale-up ticks", func() {
			Expect(newReconciler(c, nineAM).RunOnce(ctx)).To(Succeed())
			Expect(newReconciler(c, fivePM).RunOnce(ctx)).To(Succeed())
			Expect(newReconciler(c, fivePM).RunOnce(ctx)).To(Succeed())
			Expect(getDeployment(ctx, c, "web").Spec.Replicas).To(HaveValue(Equal(int32(4))))
		})
	})

	Context("direction precedence", func() {
		It("lets scale-down win when both schedules match the same minute", func() {
			c := fake.NewClientBuilder().WithScheme(newScheme()).WithObjects(
				namespaceObj(testNamespace, nil),
				deploymentObj("web", 4, map[string]string{
					ScaleDownAnnotation: downAt09,
					ScaleUpAnnotation:   downAt09,
				}),
			).Build()

			Expect(newReconciler(c, nineAM).RunOnce(ctx)).To(Succeed())
			Expect(getDeployment(ctx, c, "web").Spec.Replicas).To(HaveValue(Equal(int32(0))))
		})
	})

	Context("opt-out", func() {
		It("skips resources carrying the control annotation", func() {
			c := fake.NewClientBuilder().WithScheme(newScheme()).WithObjects(
				namespaceObj(testNamespace, nil),
				deploymentObj("web", 4, map[string]string{
					ControlAnnotation:   DisableValue,
					ScaleDownAnnotation: downAt09,
				}),
			).Build()

			Expect(newReconciler(c, nineAM).RunOnce(ctx)).To(Succeed())
			Expect(getDeployment(ctx, c, "web").Spec.Replicas).To(HaveValue(Equal(int32(4))))
		})

		It("skips every resource in a disabled namespace", func() {
			c := fake.NewClientBuilder().WithScheme(newScheme()).WithObjects(
				namespaceObj(testNamespace, map[string]string{ControlAnnotation: DisableValue}),
				deploymentObj("web", 4, map[string]string{ScaleDownAnnotation: downAt09}),
			).Build()

			Expect(newReconciler(c, nineAM).RunOnce(ctx)).To(Succeed())
			Expect(getDeployment(ctx, c, "web").Spec.Replicas).To(HaveValue(Equal(int32(4))))
		})
	})

	Context("HorizontalPodAutoscaler hibernation", func() {
		var c client.Client

		BeforeEach(func() {
			c = fake.NewClientBuilder().WithScheme(newScheme()).WithObjects(
				namespaceObj(testNamespace, nil),
				hpaObj("web", map[string]string{
					ScaleDownAnnotation: downAt09,
					ScaleUpAnnotation:   upAt17,
				}),
			).Build()
		})

		It("deletes the autoscaler on scale-down and re-creates it on scale-up", func() {
			Expect(newReconciler(c, nineAM).RunOnce(ctx)).To(Succeed())

			hpa := &autoscalingv2.HorizontalPodAutoscaler{}
			err := c.Get(ctx, client.ObjectKey{Namespace: testNamespace, Name: "web"}, hpa)
			Expect(apierrors.IsNotFound(err)).To(BeTrue())

			Expect(newReconciler(c, fivePM).RunOnce(ctx)).To(Succeed())
			Expect(c.Get(ctx, client.ObjectKey{Namespace: testNamespace, Name: "web"}, hpa)).To(Succeed())
			Expect(hpa.Spec.MaxReplicas).To(Equal(int32(8)))
			Expect(hpa.Spec.MinReplicas).To(HaveValue(Equal(int32(2))))
		})

		It("treats a second scale-down tick with the autoscaler gone as success", func() {
			Expect(newReconciler(c, nineAM).RunOnce(ctx)).To(Succeed())
			// The autoscaler is gone now; the second tick finds nothing to
			// list, so the sweep stays clean.
			Expect(newReconciler(c, nineAM).RunOnce(ctx)).To(Succeed())
		})
	})

	Context("failure isolation", func() {
		It("continues with other kinds when one kind cannot be listed", func() {
			forbidden := apierrors.NewForbidden(
				schema.GroupResource{Group: "apps", Resource: "deployments"}, "", fmt.Errorf("rbac denied"))

			c := fake.NewClientBuilder().WithScheme(newScheme()).
				WithObjects(
					namespaceObj(testNamespace, nil),
					hpaObj("web", map[string]string{ScaleDownAnnotation: downAt09}),
				).
				WithInterceptorFuncs(interceptor.Funcs{
					List: func(ctx context.Context, cl client.WithWatch, list client.ObjectList, opts ...client.ListOption) error {
						if _, ok := list.(*appsv1.DeploymentList); ok {
							return forbidden
						}
						return cl.List(ctx, list, opts...)
					},
				}).
				Build()

			Expect(newReconciler(c, nineAM).RunOnce(ctx)).To(Succeed())

			// The HPA was still processed despite deployments being forbidden.
			hpa := &autoscalingv2.HorizontalPodAutoscaler{}
			err := c.Get(ctx, client.ObjectKey{Namespace: testNamespace, Name: "web"}, hpa)
			Expect(apierrors.IsNotFound(err)).To(BeTrue())
		})

		It("returns an error only when namespaces cannot be listed", func() {
			boom := fmt.Errorf("connection refused")
			c := fake.NewClientBuilder().WithScheme(newScheme()).
				WithInterceptorFuncs(interceptor.Funcs{
					List: func(ctx context.Context, cl client.WithWatch, list client.ObjectList, opts ...client.ListOption) error {
						if _, ok := list.(*corev1.NamespaceList); ok {
							return boom
						}
						return cl.List(ctx, list, opts...)
					},
				}).
				Build()

			Expect(newReconciler(c, nineAM).RunOnce(ctx)).NotTo(Succeed())
		})
	})
})
