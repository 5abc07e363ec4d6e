package rollout

import (
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func TestPodDiagnostics(t *testing.T) {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "web-1"},
		Status: corev1.PodStatus{
			Phase: corev1.PodRunning,
			ContainerStatuses: []corev1.ContainerStatus{{
				Name:  "web",
				State: corev1.ContainerState{Waiting: &corev1.ContainerStateWaiting{Reason: "CrashLoopBackOff", Message: "back-off 10s restarting failed container"}},
				LastTerminationState: corev1.ContainerState{Terminated: &corev1.ContainerStateTerminated{
					Reason:   "Error",
					ExitCode: 1,
				}},
			}},
			Conditions: []corev1.PodCondition{
				{Type: corev1.PodReady, Status: corev1.ConditionFalse, Reason: "ContainersNotReady", Message: "containers with unready status: [web]"},
				{Type: corev1.PodScheduled, Status: corev1.ConditionTrue},
				{Type: corev1.ContainersReady, Status: corev1.ConditionFalse},
			},
		},
	}
	diags := PodDiagnostics(pod)
	if len(diags) != 3 {
		t.Fatalf("expected 3 diagnostics, got %+v", diags)
	}
	if diags[0].Reason != "CrashLoopBackOff" || diags[1].Reason != "Error" || diags[1].Message != "exit code 1" {
		t.Fatalf("unexpected container diagnostics %+v", diags[:2])
	}
	if diags[2].Reason != "ContainersNotReady" || diags[2].Container != "" {
		t.Fatalf("unexpected condition diagnostic %+v", diags[2])
	}
}

func TestPodDiagnosticsUnschedulable(t *testing.T) {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "web-2"},
		Status: corev1.PodStatus{
			Phase: corev1.PodPending,
			Conditions: []corev1.PodCondition{
				{Type: corev1.PodScheduled, Status: corev1.ConditionFalse, Reason: "Unschedulable", Message: "0/1 nodes are available: 1 Insufficient cpu."},
			},
		},
	}
	diags := PodDiagnostics(pod)
	if len(diags) != 1 || diags[0].Reason != "Unschedulable" || diags[0].Phase != "Pending" {
		t.Fatalf("unexpected diagnostics %+v", diags)
	}
	if diags[0].String() != "web-2 (Pending): Unschedulable: 0/1 nodes are available: 1 Insufficient cpu." {
		t.Fatalf("unexpected string %q", diags[0].String())
	}
}

func TestDiagnosticSetDedupes(t *testing.T) {
	var s diagnosticSet
	d := PodDiagnostic{PodName: "p", Reason: "r"}
	s.add(d, d)
	s.add(d, PodDiagnostic{PodName: "p", Reason: "other"})
	if len(s.items) != 2 {
		t.Fatalf("expected 2 unique diagnostics, got %+v", s.items)
	}
}
