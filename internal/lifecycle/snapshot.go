package lifecycle

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/yaml"

	"github.com/splax/kubehost/internal/domain"
)

// statusResources are listed, in order, by Status.
var statusResources = []struct {
	kind string
	gvr  schema.GroupVersionResource
}{
	{"Deployment", schema.GroupVersionResource{Group: "apps", Version: "v1", Resource: "deployments"}},
	{"ReplicaSet", schema.GroupVersionResource{Group: "apps", Version: "v1", Resource: "replicasets"}},
	{"Pod", schema.GroupVersionResource{Version: "v1", Resource: "pods"}},
	{"Service", schema.GroupVersionResource{Version: "v1", Resource: "services"}},
	{"Ingress", schema.GroupVersionResource{Group: "networking.k8s.io", Version: "v1", Resource: "ingresses"}},
	{"HorizontalPodAutoscaler", schema.GroupVersionResource{Group: "autoscaling", Version: "v2", Resource: "horizontalpodautoscalers"}},
	{"NetworkPolicy", schema.GroupVersionResource{Group: "networking.k8s.io", Version: "v1", Resource: "networkpolicies"}},
	{"ResourceQuota", schema.GroupVersionResource{Version: "v1", Resource: "resourcequotas"}},
	{"LimitRange", schema.GroupVersionResource{Version: "v1", Resource: "limitranges"}},
}

// ResourceGroup holds every object of one kind found in the namespace.
type ResourceGroup struct {
	Kind  string                      `json:"kind"`
	Items []unstructured.Unstructured `json:"items"`
	Error string                      `json:"error,omitempty"`
}

// Snapshot is the observed state of an app's namespace.
type Snapshot struct {
	App            string          `json:"app"`
	Namespace      string          `json:"namespace"`
	NamespacePhase string          `json:"namespace_phase"`
	Resources      []ResourceGroup `json:"resources"`
}

// Count returns the number of objects of kind.
func (s Snapshot) Count(kind string) int {
	for _, g := range s.Resources {
		if g.Kind == kind {
			return len(g.Items)
		}
	}
	return 0
}

// YAML renders every object as a multi-document stream without managed fields.
func (s Snapshot) YAML() ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# namespace %s (%s)\n", s.Namespace, s.NamespacePhase)
	for _, g := range s.Resources {
		if g.Error != "" {
			fmt.Fprintf(&buf, "# %s: %s\n", g.Kind, g.Error)
			continue
		}
		for _, item := range g.Items {
			obj := item.DeepCopy()
			unstructured.RemoveNestedField(obj.Object, "metadata", "managedFields")
			data, err := yaml.Marshal(obj.Object)
			if err != nil {
				return nil, fmt.Errorf("render %s %s: %w", g.Kind, obj.GetName(), err)
			}
			buf.WriteString("---\n")
			buf.Write(data)
		}
	}
	return buf.Bytes(), nil
}

// Status lists the namespace's resources. A failed list for one kind is
// recorded on its group instead of failing the snapshot.
func (m *Manager) Status(ctx context.Context, appName string) (Snapshot, error) {
	name, ns, err := scope(appName)
	if err != nil {
		return Snapshot{}, err
	}
	clients, err := m.kube.Clients()
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", domain.ErrClusterUnavailable, err)
	}
	namespace, err := clients.Typed.CoreV1().Namespaces().Get(ctx, ns, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return Snapshot{}, fmt.Errorf("%w: %s", ErrNotDeployed, name)
		}
		return Snapshot{}, fmt.Errorf("get namespace %s: %w", ns, err)
	}

	snap := Snapshot{App: name, Namespace: ns, NamespacePhase: string(namespace.Status.Phase)}
	for _, r := range statusResources {
		group := ResourceGroup{Kind: r.kind, Items: []unstructured.Unstructured{}}
		list, err := clients.Dynamic.Resource(r.gvr).Namespace(ns).List(ctx, metav1.ListOptions{})
		if err != nil {
			m.logger.Warn("list resources failed", "app", name, "kind", r.kind, "error", err)
			group.Error = err.Error()
		} else {
			group.Items = list.Items
			sort.Slice(group.Items, func(i, j int) bool { return group.Items[i].GetName() < group.Items[j].GetName() })
		}
		snap.Resources = append(snap.Resources, group)
	}
	return snap, nil
}
