package rollout

import (
	"context"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/splax/kubehost/internal/manifest"
)

// Apply actions.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
)

// resourceClient is the create/get/update surface shared by typed clients.
type resourceClient[T metav1.Object] interface {
	Create(ctx context.Context, obj T, opts metav1.CreateOptions) (T, error)
	Get(ctx context.Context, name string, opts metav1.GetOptions) (T, error)
	Update(ctx context.Context, obj T, opts metav1.UpdateOptions) (T, error)
}

// createOrUpdate creates desired, or updates the existing object in place of
// it. carry copies server-assigned fields from the existing object.
func createOrUpdate[T metav1.Object](ctx context.Context, client resourceClient[T], desired T, carry func(existing, desired T)) (string, error) {
	_, err := client.Create(ctx, desired, metav1.CreateOptions{})
	if err == nil {
		return ActionCreated, nil
	}
	if !apierrors.IsAlreadyExists(err) {
		return "", fmt.Errorf("create: %w", err)
	}
	existing, err := client.Get(ctx, desired.GetName(), metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("get: %w", err)
	}
	desired.SetResourceVersion(existing.GetResourceVersion())
	if carry != nil {
		carry(existing, desired)
	}
	if _, err := client.Update(ctx, desired, metav1.UpdateOptions{}); err != nil {
		return "", fmt.Errorf("update: %w", err)
	}
	return ActionUpdated, nil
}

// apply dispatches one manifest to its typed client. The manifest's object is
// copied so a Set can be applied more than once.
func apply(ctx context.Context, cs kubernetes.Interface, m manifest.Manifest) (string, error) {
	switch obj := m.Object.(type) {
	case *corev1.Namespace:
		return createOrUpdate(ctx, cs.CoreV1().Namespaces(), obj.DeepCopy(), nil)
	case *corev1.ResourceQuota:
		return createOrUpdate(ctx, cs.CoreV1().ResourceQuotas(obj.Namespace), obj.DeepCopy(), nil)
	case *corev1.LimitRange:
		return createOrUpdate(ctx, cs.CoreV1().LimitRanges(obj.Namespace), obj.DeepCopy(), nil)
	case *appsv1.Deployment:
		return createOrUpdate(ctx, cs.AppsV1().Deployments(obj.Namespace), obj.DeepCopy(), nil)
	case *corev1.Service:
		return createOrUpdate(ctx, cs.CoreV1().Services(obj.Namespace), obj.DeepCopy(), func(existing, desired *corev1.Service) {
			desired.Spec.ClusterIP = existing.Spec.ClusterIP
			desired.Spec.ClusterIPs = existing.Spec.ClusterIPs
		})
	case *networkingv1.Ingress:
		return createOrUpdate(ctx, cs.NetworkingV1().Ingresses(obj.Namespace), obj.DeepCopy(), nil)
	case *autoscalingv2.HorizontalPodAutoscaler:
		return createOrUpdate(ctx, cs.AutoscalingV2().HorizontalPodAutoscalers(obj.Namespace), obj.DeepCopy(), nil)
	case *networkingv1.NetworkPolicy:
		return createOrUpdate(ctx, cs.NetworkingV1().NetworkPolicies(obj.Namespace), obj.DeepCopy(), nil)
	default:
		return "", fmt.Errorf("unsupported object %T", m.Object)
	}
}
