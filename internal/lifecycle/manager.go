// Package lifecycle operates on deployed apps after rollout: delete, status,
// list and scale. Every operation is scoped to the app's namespace.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	autoscalingv1 "k8s.io/api/autoscaling/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/splax/kubehost/internal/domain"
	"github.com/splax/kubehost/internal/kube"
	"github.com/splax/kubehost/internal/manifest"
	"github.com/splax/kubehost/internal/naming"
)

// ErrNotDeployed indicates the app has no namespace or deployment in the cluster.
var ErrNotDeployed = errors.New("lifecycle: app not deployed")

// Manager runs post-deployment operations.
type Manager struct {
	kube   kube.Source
	logger *slog.Logger
}

// New returns a Manager.
func New(source kube.Source, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{kube: source, logger: logger}
}

// Delete removes the app's namespace and with it every resource. A namespace
// that is already gone is not an error.
func (m *Manager) Delete(ctx context.Context, appName string) error {
	name, ns, err := scope(appName)
	if err != nil {
		return err
	}
	clients, err := m.kube.Clients()
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrClusterUnavailable, err)
	}
	policy := metav1.DeletePropagationForeground
	err = clients.Typed.CoreV1().Namespaces().Delete(ctx, ns, metav1.DeleteOptions{PropagationPolicy: &policy})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("delete namespace %s: %w", ns, err)
	}
	m.logger.Info("app deleted", "app", name, "namespace", ns, "existed", err == nil)
	return nil
}

// Entry is one managed app found in the cluster.
type Entry struct {
	Name       string    `json:"name"`
	Namespace  string    `json:"namespace"`
	SourceName string    `json:"source_name,omitempty"`
	Phase      string    `json:"phase"`
	CreatedAt  time.Time `json:"created_at"`
}

// List returns the apps whose namespaces carry the managed-by label, sorted by name.
func (m *Manager) List(ctx context.Context) ([]Entry, error) {
	clients, err := m.kube.Clients()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrClusterUnavailable, err)
	}
	selector := manifest.LabelManagedBy + "=" + manifest.ManagedByValue
	nsList, err := clients.Typed.CoreV1().Namespaces().List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}
	entries := make([]Entry, 0, len(nsList.Items))
	for _, ns := range nsList.Items {
		name := ns.Labels[manifest.LabelApp]
		if name == "" {
			name = naming.NameFromNamespace(ns.Name)
		}
		entries = append(entries, Entry{
			Name:       name,
			Namespace:  ns.Name,
			SourceName: ns.Annotations[manifest.AnnotationSourceName],
			Phase:      string(ns.Status.Phase),
			CreatedAt:  ns.CreationTimestamp.Time,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// ScaleResult reports a completed scale call.
type ScaleResult struct {
	App      string `json:"app"`
	Previous int32  `json:"previous"`
	Replicas int32  `json:"replicas"`
	// AutoscalerManaged means an HPA targets the deployment and will reassert
	// its own replica count at the next evaluation.
	AutoscalerManaged bool   `json:"autoscaler_managed"`
	AutoscalerMin     int32  `json:"autoscaler_min,omitempty"`
	AutoscalerMax     int32  `json:"autoscaler_max,omitempty"`
	Warning           string `json:"warning,omitempty"`
}

// Scale sets the deployment's replica count through the scale subresource.
func (m *Manager) Scale(ctx context.Context, appName string, replicas int32) (ScaleResult, error) {
	if replicas < 0 {
		return ScaleResult{}, fmt.Errorf("%w: replicas must not be negative, got %d", domain.ErrInvalidArgument, replicas)
	}
	name, ns, err := scope(appName)
	if err != nil {
		return ScaleResult{}, err
	}
	clients, err := m.kube.Clients()
	if err != nil {
		return ScaleResult{}, fmt.Errorf("%w: %w", domain.ErrClusterUnavailable, err)
	}
	deployments := clients.Typed.AppsV1().Deployments(ns)
	current, err := deployments.GetScale(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return ScaleResult{}, fmt.Errorf("%w: %s", ErrNotDeployed, name)
		}
		return ScaleResult{}, fmt.Errorf("get scale %s/%s: %w", ns, name, err)
	}
	res := ScaleResult{App: name, Previous: current.Spec.Replicas, Replicas: replicas}

	desired := &autoscalingv1.Scale{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ns, ResourceVersion: current.ResourceVersion},
		Spec:       autoscalingv1.ScaleSpec{Replicas: replicas},
	}
	updated, err := deployments.UpdateScale(ctx, name, desired, metav1.UpdateOptions{})
	if err != nil {
		return ScaleResult{}, fmt.Errorf("update scale %s/%s: %w", ns, name, err)
	}
	if updated != nil {
		res.Replicas = updated.Spec.Replicas
	}

	hpas, err := clients.Typed.AutoscalingV2().HorizontalPodAutoscalers(ns).List(ctx, metav1.ListOptions{})
	if err != nil {
		m.logger.Warn("list autoscalers failed", "app", name, "error", err)
	} else {
		for _, hpa := range hpas.Items {
			if hpa.Spec.ScaleTargetRef.Kind != manifest.KindDeployment || hpa.Spec.ScaleTargetRef.Name != name {
				continue
			}
			res.AutoscalerManaged = true
			res.AutoscalerMax = hpa.Spec.MaxReplicas
			res.AutoscalerMin = 1
			if hpa.Spec.MinReplicas != nil {
				res.AutoscalerMin = *hpa.Spec.MinReplicas
			}
			res.Warning = fmt.Sprintf("autoscaler %s manages this deployment and will reassert %d-%d replicas at its next evaluation", hpa.Name, res.AutoscalerMin, res.AutoscalerMax)
			break
		}
	}
	m.logger.Info("app scaled", "app", name, "from", res.Previous, "to", res.Replicas, "autoscaler_managed", res.AutoscalerManaged)
	return res, nil
}

func scope(appName string) (string, string, error) {
	name, err := naming.Sanitize(appName)
	if err != nil {
		return "", "", err
	}
	return name, naming.NamespacePrefix + name, nil
}
