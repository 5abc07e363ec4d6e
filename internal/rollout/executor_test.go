package rollout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/splax/kubehost/internal/domain"
	"github.com/splax/kubehost/internal/kube"
	"github.com/splax/kubehost/internal/manifest"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSet(t *testing.T) manifest.Set {
	t.Helper()
	set, err := manifest.Synthesize(manifest.Input{AppName: "demo", ImageTag: "gitdeploy/demo:latest", AppType: domain.AppTypeNodeJS})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	return set
}

// markReady makes the synthesized deployment carry ready status so the fake
// clientset stores it that way.
func markReady(t *testing.T, set manifest.Set) {
	t.Helper()
	m, _ := set.Find(manifest.KindDeployment)
	dep := m.Object.(*appsv1.Deployment)
	dep.Status.ReadyReplicas = *dep.Spec.Replicas
	dep.Status.UpdatedReplicas = *dep.Spec.Replicas
}

func fastConfig() Config {
	return Config{PollInterval: 5 * time.Millisecond, Timeout: 80 * time.Millisecond, DiagnosticsInterval: 10 * time.Millisecond}
}

func newExecutor(client *fake.Clientset) *Executor {
	return NewExecutor(kube.Static(&kube.Clients{Typed: client}), fastConfig(), quietLogger())
}

func TestRolloutReadyWithinTwoPolls(t *testing.T) {
	set := testSet(t)
	client := fake.NewSimpleClientset()
	var polls int32
	client.PrependReactor("get", "deployments", func(action k8stesting.Action) (bool, runtime.Object, error) {
		if atomic.AddInt32(&polls, 1) < 2 {
			return false, nil, nil
		}
		m, _ := set.Find(manifest.KindDeployment)
		dep := m.Object.(*appsv1.Deployment).DeepCopy()
		dep.Status.ReadyReplicas = 2
		dep.Status.UpdatedReplicas = 2
		return true, dep, nil
	})

	out, err := newExecutor(client).Rollout(context.Background(), set)
	if err != nil {
		t.Fatalf("rollout: %v", err)
	}
	if !out.Ready || out.ReadyReplicas != 2 || out.DesiredReplicas != 2 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if got := atomic.LoadInt32(&polls); got != 2 {
		t.Fatalf("expected ready on second poll, got %d polls", got)
	}
	if len(out.Applied) != len(set.Items) {
		t.Fatalf("expected all resources applied, got %d", len(out.Applied))
	}
	for i, a := range out.Applied {
		if a.Kind != set.Items[i].Kind || a.Action != ActionCreated {
			t.Fatalf("applied %d: unexpected %+v", i, a)
		}
	}
}

func TestRolloutTimeoutCarriesDiagnostics(t *testing.T) {
	set := testSet(t)
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:          "demo-7d9f8-abcde",
			Namespace:     "app-demo",
			Labels:        map[string]string{"app": "demo"},
			ManagedFields: []metav1.ManagedFieldsEntry{{Manager: "kubelet"}},
		},
		Status: corev1.PodStatus{
			Phase: corev1.PodPending,
			ContainerStatuses: []corev1.ContainerStatus{{
				Name: "demo",
				State: corev1.ContainerState{Waiting: &corev1.ContainerStateWaiting{
					Reason:  "ErrImageNeverPull",
					Message: `Container image "gitdeploy/demo:latest" is not present with pull policy of Never`,
				}},
			}},
		},
	}
	client := fake.NewSimpleClientset(pod)

	out, err := newExecutor(client).Rollout(context.Background(), set)
	if !errors.Is(err, domain.ErrRolloutTimeout) {
		t.Fatalf("expected ErrRolloutTimeout, got %v", err)
	}
	if out.Ready {
		t.Fatalf("expected not ready")
	}
	if len(out.Diagnostics) != 1 {
		t.Fatalf("expected one deduplicated diagnostic, got %+v", out.Diagnostics)
	}
	d := out.Diagnostics[0]
	if d.PodName != pod.Name || d.Reason != "ErrImageNeverPull" || d.Container != "demo" {
		t.Fatalf("unexpected diagnostic %+v", d)
	}
	for _, want := range []string{"# deployment demo", "kind: Deployment", "# pod demo-7d9f8-abcde", "ErrImageNeverPull"} {
		if !strings.Contains(out.StatusDump, want) {
			t.Fatalf("expected %q in status dump:\n%s", want, out.StatusDump)
		}
	}
	if strings.Contains(out.StatusDump, "managedFields") {
		t.Fatalf("expected managed fields stripped from status dump")
	}
}

func TestRolloutReapplyUpdates(t *testing.T) {
	set := testSet(t)
	markReady(t, set)
	client := fake.NewSimpleClientset()
	exec := newExecutor(client)

	if _, err := exec.Rollout(context.Background(), set); err != nil {
		t.Fatalf("first rollout: %v", err)
	}
	out, err := exec.Rollout(context.Background(), set)
	if err != nil {
		t.Fatalf("second rollout: %v", err)
	}
	for _, a := range out.Applied {
		if a.Action != ActionUpdated {
			t.Fatalf("expected update on re-apply, got %+v", a)
		}
	}
	deps, err := client.AppsV1().Deployments("app-demo").List(context.Background(), metav1.ListOptions{})
	if err != nil {
		t.Fatalf("list deployments: %v", err)
	}
	if len(deps.Items) != 1 {
		t.Fatalf("expected one deployment, got %d", len(deps.Items))
	}
	svcs, _ := client.CoreV1().Services("app-demo").List(context.Background(), metav1.ListOptions{})
	if len(svcs.Items) != 1 {
		t.Fatalf("expected one service, got %d", len(svcs.Items))
	}
}

func TestRolloutReapplyKeepsClusterIP(t *testing.T) {
	set := testSet(t)
	markReady(t, set)
	client := fake.NewSimpleClientset()
	exec := newExecutor(client)
	if _, err := exec.Rollout(context.Background(), set); err != nil {
		t.Fatalf("first rollout: %v", err)
	}
	svc, err := client.CoreV1().Services("app-demo").Get(context.Background(), "demo-svc", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("get service: %v", err)
	}
	svc.Spec.ClusterIP = "10.96.0.42"
	if _, err := client.CoreV1().Services("app-demo").Update(context.Background(), svc, metav1.UpdateOptions{}); err != nil {
		t.Fatalf("seed cluster ip: %v", err)
	}
	if _, err := exec.Rollout(context.Background(), set); err != nil {
		t.Fatalf("second rollout: %v", err)
	}
	svc, _ = client.CoreV1().Services("app-demo").Get(context.Background(), "demo-svc", metav1.GetOptions{})
	if svc.Spec.ClusterIP != "10.96.0.42" {
		t.Fatalf("expected cluster ip preserved, got %q", svc.Spec.ClusterIP)
	}
}

func TestRolloutRequiredFailureAborts(t *testing.T) {
	set := testSet(t)
	client := fake.NewSimpleClientset()
	client.PrependReactor("create", "services", func(action k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, apierrors.NewForbidden(schema.GroupResource{Resource: "services"}, "demo-svc", errors.New("quota exceeded"))
	})

	out, err := newExecutor(client).Rollout(context.Background(), set)
	if !errors.Is(err, domain.ErrManifestApplyFailed) {
		t.Fatalf("expected ErrManifestApplyFailed, got %v", err)
	}
	kinds := make([]string, 0, len(out.Applied))
	for _, a := range out.Applied {
		kinds = append(kinds, a.Kind)
	}
	if strings.Join(kinds, ",") != "Namespace,ResourceQuota,LimitRange,Deployment" {
		t.Fatalf("unexpected partial applied set %v", kinds)
	}
	ings, _ := client.NetworkingV1().Ingresses("app-demo").List(context.Background(), metav1.ListOptions{})
	if len(ings.Items) != 0 {
		t.Fatalf("expected nothing applied after the failure")
	}
}

func TestRolloutOptionalFailureWarns(t *testing.T) {
	set := testSet(t)
	markReady(t, set)
	client := fake.NewSimpleClientset()
	client.PrependReactor("create", "horizontalpodautoscalers", func(action k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("the server could not find the requested resource")
	})

	out, err := newExecutor(client).Rollout(context.Background(), set)
	if err != nil {
		t.Fatalf("rollout: %v", err)
	}
	if !out.Ready {
		t.Fatalf("expected ready")
	}
	if len(out.Warnings) != 1 || !strings.HasPrefix(out.Warnings[0], domain.ErrOptionalResourceFailed.Error()) {
		t.Fatalf("expected tagged optional warning, got %v", out.Warnings)
	}
	last := out.Applied[len(out.Applied)-1]
	if last.Kind != manifest.KindNetworkPolicy {
		t.Fatalf("expected network policy applied after optional failure, got %+v", last)
	}
}

func TestRolloutWithoutDeployment(t *testing.T) {
	_, err := newExecutor(fake.NewSimpleClientset()).Rollout(context.Background(), manifest.Set{AppName: "x"})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestRolloutWaitsForUpdatedReplicas(t *testing.T) {
	set := testSet(t)
	client := fake.NewSimpleClientset()
	client.PrependReactor("get", "deployments", func(action k8stesting.Action) (bool, runtime.Object, error) {
		m, _ := set.Find(manifest.KindDeployment)
		dep := m.Object.(*appsv1.Deployment).DeepCopy()
		dep.Generation = 2
		dep.Status.ObservedGeneration = 1
		dep.Status.ReadyReplicas = 2
		dep.Status.UpdatedReplicas = 0
		return true, dep, nil
	})

	out, err := newExecutor(client).Rollout(context.Background(), set)
	if !errors.Is(err, domain.ErrRolloutTimeout) {
		t.Fatalf("expected ErrRolloutTimeout while old pods serve, got %v", err)
	}
	if out.Ready {
		t.Fatalf("expected not ready")
	}
}

func TestRolledOut(t *testing.T) {
	cases := []struct {
		name     string
		gen      int64
		observed int64
		updated  int32
		ready    int32
		want     bool
	}{
		{"complete", 3, 3, 2, 2, true},
		{"stale generation", 3, 2, 2, 2, false},
		{"old replica set ready", 2, 2, 0, 2, false},
		{"updated not ready", 2, 2, 2, 1, false},
		{"partially updated", 2, 2, 1, 2, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dep := &appsv1.Deployment{
				ObjectMeta: metav1.ObjectMeta{Generation: tc.gen},
				Status: appsv1.DeploymentStatus{
					ObservedGeneration: tc.observed,
					UpdatedReplicas:    tc.updated,
					ReadyReplicas:      tc.ready,
				},
			}
			replicas := int32(2)
			dep.Spec.Replicas = &replicas
			if got := rolledOut(dep); got != tc.want {
				t.Fatalf("rolledOut = %v, want %v", got, tc.want)
			}
		})
	}
}
