package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	appsv1 "k8s.io/api/apps/v1"
	autoscalingv1 "k8s.io/api/autoscaling/v1"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	"k8s.io/client-go/kubernetes/fake"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	k8stesting "k8s.io/client-go/testing"
	"k8s.io/utils/ptr"

	"github.com/splax/kubehost/internal/domain"
	"github.com/splax/kubehost/internal/kube"
	"github.com/splax/kubehost/internal/manifest"
)

func newManager(typed *fake.Clientset, objs ...runtime.Object) *Manager {
	clients := &kube.Clients{Typed: typed, Dynamic: dynamicfake.NewSimpleDynamicClient(clientgoscheme.Scheme, objs...)}
	return New(kube.Static(clients), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func managedNamespace(name, app, source string) *corev1.Namespace {
	labels := map[string]string{manifest.LabelManagedBy: manifest.ManagedByValue}
	if app != "" {
		labels[manifest.LabelApp] = app
	}
	return &corev1.Namespace{
		TypeMeta: metav1.TypeMeta{APIVersion: "v1", Kind: "Namespace"},
		ObjectMeta: metav1.ObjectMeta{
			Name:        name,
			Labels:      labels,
			Annotations: map[string]string{manifest.AnnotationSourceName: source},
		},
		Status: corev1.NamespaceStatus{Phase: corev1.NamespaceActive},
	}
}

func TestDeleteMissingNamespaceSucceeds(t *testing.T) {
	m := newManager(fake.NewSimpleClientset())
	if err := m.Delete(context.Background(), "Nope"); err != nil {
		t.Fatalf("expected nil for missing namespace, got %v", err)
	}
}

func TestDeleteRemovesNamespace(t *testing.T) {
	cs := fake.NewSimpleClientset(managedNamespace("app-demo", "demo", "Demo"))
	m := newManager(cs)
	if err := m.Delete(context.Background(), "Demo"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err := cs.CoreV1().Namespaces().Get(context.Background(), "app-demo", metav1.GetOptions{})
	if !apierrors.IsNotFound(err) {
		t.Fatalf("expected namespace gone, got %v", err)
	}
}

func TestDeleteSurfacesAPIErrors(t *testing.T) {
	cs := fake.NewSimpleClientset()
	cs.PrependReactor("delete", "namespaces", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, apierrors.NewForbidden(schema.GroupResource{Resource: "namespaces"}, "app-demo", errors.New("denied"))
	})
	if err := newManager(cs).Delete(context.Background(), "demo"); err == nil {
		t.Fatalf("expected forbidden error")
	}
}

func TestDeleteInvalidName(t *testing.T) {
	err := newManager(fake.NewSimpleClientset()).Delete(context.Background(), "!!!")
	if !errors.Is(err, domain.ErrAppNameInvalid) {
		t.Fatalf("expected ErrAppNameInvalid, got %v", err)
	}
}

func TestListManagedNamespaces(t *testing.T) {
	cs := fake.NewSimpleClientset(
		managedNamespace("app-zeta", "zeta", "Zeta"),
		managedNamespace("app-alpha", "", "Alpha App"),
		&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "kube-system"}},
	)
	entries, err := newManager(cs).List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 managed apps, got %+v", entries)
	}
	if entries[0].Name != "alpha" || entries[0].SourceName != "Alpha App" {
		t.Fatalf("expected prefix-stripped alpha first, got %+v", entries[0])
	}
	if entries[1].Name != "zeta" || entries[1].Namespace != "app-zeta" || entries[1].Phase != "Active" {
		t.Fatalf("unexpected second entry %+v", entries[1])
	}
}

func scaleReactors(cs *fake.Clientset, current int32, updated *int32) {
	cs.PrependReactor("get", "deployments", func(a k8stesting.Action) (bool, runtime.Object, error) {
		if a.GetSubresource() != "scale" {
			return false, nil, nil
		}
		name := a.(k8stesting.GetAction).GetName()
		if name != "demo" {
			return true, nil, apierrors.NewNotFound(schema.GroupResource{Group: "apps", Resource: "deployments"}, name)
		}
		return true, &autoscalingv1.Scale{
			ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: a.GetNamespace(), ResourceVersion: "7"},
			Spec:       autoscalingv1.ScaleSpec{Replicas: current},
		}, nil
	})
	cs.PrependReactor("update", "deployments", func(a k8stesting.Action) (bool, runtime.Object, error) {
		if a.GetSubresource() != "scale" {
			return false, nil, nil
		}
		scale := a.(k8stesting.UpdateAction).GetObject().(*autoscalingv1.Scale)
		*updated = scale.Spec.Replicas
		return true, scale, nil
	})
}

func TestScale(t *testing.T) {
	cs := fake.NewSimpleClientset()
	var updated int32 = -1
	scaleReactors(cs, 1, &updated)

	res, err := newManager(cs).Scale(context.Background(), "Demo", 3)
	if err != nil {
		t.Fatalf("scale: %v", err)
	}
	if updated != 3 || res.Previous != 1 || res.Replicas != 3 {
		t.Fatalf("unexpected scale result %+v (update saw %d)", res, updated)
	}
	if res.AutoscalerManaged || res.Warning != "" {
		t.Fatalf("expected no autoscaler, got %+v", res)
	}
}

func TestScaleReportsAutoscaler(t *testing.T) {
	hpa := &autoscalingv2.HorizontalPodAutoscaler{
		ObjectMeta: metav1.ObjectMeta{Name: "demo-hpa", Namespace: "app-demo"},
		Spec: autoscalingv2.HorizontalPodAutoscalerSpec{
			ScaleTargetRef: autoscalingv2.CrossVersionObjectReference{APIVersion: "apps/v1", Kind: "Deployment", Name: "demo"},
			MinReplicas:    ptr.To[int32](2),
			MaxReplicas:    5,
		},
	}
	cs := fake.NewSimpleClientset(hpa)
	var updated int32
	scaleReactors(cs, 2, &updated)

	res, err := newManager(cs).Scale(context.Background(), "demo", 0)
	if err != nil {
		t.Fatalf("scale: %v", err)
	}
	if !res.AutoscalerManaged || res.AutoscalerMin != 2 || res.AutoscalerMax != 5 {
		t.Fatalf("expected autoscaler details, got %+v", res)
	}
	if !strings.Contains(res.Warning, "demo-hpa") {
		t.Fatalf("expected warning naming the autoscaler, got %q", res.Warning)
	}
}

func TestScaleRejectsNegative(t *testing.T) {
	_, err := newManager(fake.NewSimpleClientset()).Scale(context.Background(), "demo", -1)
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestScaleNotDeployed(t *testing.T) {
	cs := fake.NewSimpleClientset()
	var updated int32
	scaleReactors(cs, 1, &updated)
	_, err := newManager(cs).Scale(context.Background(), "other", 2)
	if !errors.Is(err, ErrNotDeployed) {
		t.Fatalf("expected ErrNotDeployed, got %v", err)
	}
}

func TestStatusSnapshot(t *testing.T) {
	cs := fake.NewSimpleClientset(managedNamespace("app-demo", "demo", "demo"))
	dep := &appsv1.Deployment{
		TypeMeta: metav1.TypeMeta{APIVersion: "apps/v1", Kind: "Deployment"},
		ObjectMeta: metav1.ObjectMeta{
			Name:          "demo",
			Namespace:     "app-demo",
			ManagedFields: []metav1.ManagedFieldsEntry{{Manager: "kubectl"}},
		},
	}
	podB := &corev1.Pod{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "Pod"},
		ObjectMeta: metav1.ObjectMeta{Name: "demo-b", Namespace: "app-demo"},
	}
	podA := &corev1.Pod{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "Pod"},
		ObjectMeta: metav1.ObjectMeta{Name: "demo-a", Namespace: "app-demo"},
	}
	stranger := &corev1.Pod{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "Pod"},
		ObjectMeta: metav1.ObjectMeta{Name: "other", Namespace: "default"},
	}
	m := newManager(cs, dep, podB, podA, stranger)

	snap, err := m.Status(context.Background(), "Demo")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if snap.Namespace != "app-demo" || snap.NamespacePhase != "Active" {
		t.Fatalf("unexpected snapshot header %+v", snap)
	}
	if len(snap.Resources) != len(statusResources) {
		t.Fatalf("expected every kind listed, got %d groups", len(snap.Resources))
	}
	if snap.Count("Deployment") != 1 || snap.Count("Pod") != 2 || snap.Count("Service") != 0 {
		t.Fatalf("unexpected counts: deployments=%d pods=%d services=%d", snap.Count("Deployment"), snap.Count("Pod"), snap.Count("Service"))
	}
	for _, g := range snap.Resources {
		if g.Kind == "Pod" && g.Items[0].GetName() != "demo-a" {
			t.Fatalf("expected pods sorted by name, got %s first", g.Items[0].GetName())
		}
	}

	out, err := snap.YAML()
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	text := string(out)
	if !strings.Contains(text, "kind: Deployment") || !strings.Contains(text, "name: demo-b") {
		t.Fatalf("expected objects rendered, got:\n%s", text)
	}
	if strings.Contains(text, "managedFields") {
		t.Fatalf("expected managed fields stripped, got:\n%s", text)
	}
}

func TestStatusNotDeployed(t *testing.T) {
	_, err := newManager(fake.NewSimpleClientset()).Status(context.Background(), "ghost")
	if !errors.Is(err, ErrNotDeployed) {
		t.Fatalf("expected ErrNotDeployed, got %v", err)
	}
}
