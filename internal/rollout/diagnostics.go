package rollout

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"sigs.k8s.io/yaml"
)

// PodDiagnostic is one observed reason a pod is not serving.
type PodDiagnostic struct {
	PodName   string `json:"pod_name"`
	Phase     string `json:"phase"`
	Container string `json:"container,omitempty"`
	Reason    string `json:"reason"`
	Message   string `json:"message,omitempty"`
}

func (d PodDiagnostic) String() string {
	subject := d.PodName
	if d.Container != "" {
		subject += "/" + d.Container
	}
	if d.Message == "" {
		return fmt.Sprintf("%s (%s): %s", subject, d.Phase, d.Reason)
	}
	return fmt.Sprintf("%s (%s): %s: %s", subject, d.Phase, d.Reason, d.Message)
}

// diagnosticSet accumulates diagnostics across samples, keeping first-seen order.
type diagnosticSet struct {
	seen  map[PodDiagnostic]struct{}
	items []PodDiagnostic
}

func (s *diagnosticSet) add(diags ...PodDiagnostic) {
	if s.seen == nil {
		s.seen = make(map[PodDiagnostic]struct{})
	}
	for _, d := range diags {
		if _, ok := s.seen[d]; ok {
			continue
		}
		s.seen[d] = struct{}{}
		s.items = append(s.items, d)
	}
}

// PodDiagnostics inspects a pod's container states and failing conditions.
func PodDiagnostics(pod *corev1.Pod) []PodDiagnostic {
	var out []PodDiagnostic
	phase := string(pod.Status.Phase)
	statuses := append(append([]corev1.ContainerStatus{}, pod.Status.InitContainerStatuses...), pod.Status.ContainerStatuses...)
	for _, cs := range statuses {
		if w := cs.State.Waiting; w != nil && w.Reason != "" {
			out = append(out, PodDiagnostic{PodName: pod.Name, Phase: phase, Container: cs.Name, Reason: w.Reason, Message: w.Message})
		}
		if term := cs.State.Terminated; term != nil && (term.ExitCode != 0 || term.Reason != "Completed") {
			out = append(out, terminated(pod.Name, phase, cs.Name, term))
		}
		if term := cs.LastTerminationState.Terminated; term != nil && term.ExitCode != 0 {
			out = append(out, terminated(pod.Name, phase, cs.Name, term))
		}
	}
	for _, cond := range pod.Status.Conditions {
		if cond.Status != corev1.ConditionFalse {
			continue
		}
		if cond.Type != corev1.PodReady && cond.Type != corev1.PodScheduled {
			continue
		}
		reason := cond.Reason
		if reason == "" {
			reason = string(cond.Type) + "=False"
		}
		out = append(out, PodDiagnostic{PodName: pod.Name, Phase: phase, Reason: reason, Message: cond.Message})
	}
	return out
}

func terminated(pod, phase, container string, term *corev1.ContainerStateTerminated) PodDiagnostic {
	reason := term.Reason
	if reason == "" {
		reason = "Terminated"
	}
	msg := term.Message
	if msg == "" {
		msg = fmt.Sprintf("exit code %d", term.ExitCode)
	} else {
		msg = fmt.Sprintf("exit code %d: %s", term.ExitCode, msg)
	}
	return PodDiagnostic{PodName: pod, Phase: phase, Container: container, Reason: reason, Message: msg}
}

func listPods(ctx context.Context, cs kubernetes.Interface, namespace, selector string) ([]corev1.Pod, error) {
	pods, err := cs.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return nil, fmt.Errorf("list pods: %w", err)
	}
	items := pods.Items
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

// statusDump renders the deployment and its pods as YAML without managed fields.
func statusDump(ctx context.Context, cs kubernetes.Interface, namespace, name, selector string) string {
	var buf bytes.Buffer
	dep, err := cs.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		fmt.Fprintf(&buf, "# deployment %s/%s unavailable: %v\n", namespace, name, err)
	} else {
		dep = dep.DeepCopy()
		dep.ManagedFields = nil
		dep.APIVersion, dep.Kind = "apps/v1", "Deployment"
		writeYAML(&buf, "deployment "+name, dep)
	}
	pods, err := listPods(ctx, cs, namespace, selector)
	if err != nil {
		fmt.Fprintf(&buf, "# pods unavailable: %v\n", err)
		return buf.String()
	}
	for i := range pods {
		pod := pods[i].DeepCopy()
		pod.ManagedFields = nil
		pod.APIVersion, pod.Kind = "v1", "Pod"
		writeYAML(&buf, "pod "+pod.Name, pod)
	}
	return buf.String()
}

func writeYAML(buf *bytes.Buffer, label string, obj any) {
	if buf.Len() > 0 {
		buf.WriteString("---\n")
	}
	fmt.Fprintf(buf, "# %s\n", label)
	out, err := yaml.Marshal(obj)
	if err != nil {
		fmt.Fprintf(buf, "# render failed: %v\n", err)
		return
	}
	buf.Write(out)
}
