// Package manifest synthesizes the namespace-isolated Kubernetes resources for
// one app. Synthesis is pure: it reads the app's Dockerfile for EXPOSE and
// nothing else.
package manifest

import (
	"fmt"
	"strconv"
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"

	"github.com/splax/kubehost/internal/domain"
	"github.com/splax/kubehost/internal/envfile"
	"github.com/splax/kubehost/internal/naming"
)

// Labels and annotations written on synthesized resources.
const (
	LabelApp                = "app"
	LabelManagedBy          = "managed-by"
	LabelK8sManagedBy       = "app.kubernetes.io/managed-by"
	ManagedByValue          = "kubehost"
	AnnotationSourceName    = "kubehost.dev/source-name"
	AnnotationRevision      = "kubehost.dev/revision"
	AnnotationEgress        = "kubehost.dev/egress"
	AnnotationEgressAllowed = "unrestricted"
)

const (
	servicePort      int32 = 80
	desiredReplicas  int32 = 2
	hpaMinReplicas   int32 = 2
	hpaMaxReplicas   int32 = 10
	hpaCPUTarget     int32 = 70
	hpaMemoryTarget  int32 = 80
	ingressClassName       = "nginx"
	ingressNamespace       = "ingress-nginx"
)

// Input is everything synthesis needs.
type Input struct {
	AppName string
	// SourceName is the name as the user typed it; it defaults to AppName.
	SourceName string
	ImageTag   string
	AppType    domain.AppType
	AppPath    string
	EnvRaw     string
	// Env, when set, is used as parsed and EnvRaw is ignored.
	Env []domain.EnvVar
	// Revision is stamped on the pod template so every deploy attempt rolls
	// new pods even when the image reference is unchanged.
	Revision string
}

// Synthesize builds the ordered Set for in. Only the HorizontalPodAutoscaler is optional.
func Synthesize(in Input) (Set, error) {
	name, err := naming.Sanitize(in.AppName)
	if err != nil {
		return Set{}, err
	}
	if err := naming.Validate(name); err != nil {
		return Set{}, err
	}
	if strings.TrimSpace(in.ImageTag) == "" {
		return Set{}, fmt.Errorf("%w: image tag required", domain.ErrInvalidArgument)
	}
	source := in.SourceName
	if source == "" {
		source = in.AppName
	}

	port, portSource := ResolvePort(in.AppPath, in.AppType)
	health := HealthPath(in.AppType)
	ns := naming.NamespacePrefix + name
	vars := in.Env
	if vars == nil {
		vars = envfile.ParseDotenv(in.EnvRaw)
	}
	env := containerEnv(vars, port)

	set := Set{
		AppName:    name,
		Namespace:  ns,
		Port:       port,
		PortSource: portSource,
		HealthPath: health,
	}
	add := func(kind string, obj object, optional bool) {
		set.Items = append(set.Items, Manifest{Kind: kind, Name: obj.GetName(), Namespace: obj.GetNamespace(), Object: obj, Optional: optional})
	}
	add(KindNamespace, namespace(name, ns, source), false)
	add(KindResourceQuota, quota(name, ns), false)
	add(KindLimitRange, limitRange(name, ns), false)
	add(KindDeployment, deployment(name, ns, in.ImageTag, in.Revision, port, health, env), false)
	add(KindService, service(name, ns, port), false)
	add(KindIngress, ingress(name, ns), false)
	add(KindHorizontalPodAutoscaler, autoscaler(name, ns), true)
	add(KindNetworkPolicy, networkPolicy(name, ns, port), false)
	return set, nil
}

type object interface {
	runtime.Object
	metav1.Object
}

func containerEnv(vars []domain.EnvVar, port int32) []corev1.EnvVar {
	out := make([]corev1.EnvVar, 0, len(vars)+1)
	hasPort := false
	for _, v := range vars {
		if v.Name == "PORT" {
			hasPort = true
		}
		out = append(out, corev1.EnvVar{Name: v.Name, Value: v.Value})
	}
	if !hasPort {
		out = append(out, corev1.EnvVar{Name: "PORT", Value: strconv.Itoa(int(port))})
	}
	return out
}

func appLabels(name string) map[string]string {
	return map[string]string{LabelApp: name}
}

func namespace(name, ns, source string) *corev1.Namespace {
	return &corev1.Namespace{
		TypeMeta: metav1.TypeMeta{APIVersion: "v1", Kind: KindNamespace},
		ObjectMeta: metav1.ObjectMeta{
			Name: ns,
			Labels: map[string]string{
				LabelApp:          name,
				LabelManagedBy:    ManagedByValue,
				LabelK8sManagedBy: ManagedByValue,
			},
			Annotations: map[string]string{AnnotationSourceName: source},
		},
	}
}

func quota(name, ns string) *corev1.ResourceQuota {
	return &corev1.ResourceQuota{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: KindResourceQuota},
		ObjectMeta: metav1.ObjectMeta{Name: name + "-quota", Namespace: ns, Labels: appLabels(name)},
		Spec: corev1.ResourceQuotaSpec{
			Hard: corev1.ResourceList{
				corev1.ResourceRequestsCPU:    resource.MustParse("2"),
				corev1.ResourceRequestsMemory: resource.MustParse("2Gi"),
				corev1.ResourceLimitsCPU:      resource.MustParse("4"),
				corev1.ResourceLimitsMemory:   resource.MustParse("4Gi"),
				corev1.ResourcePods:           resource.MustParse("20"),
			},
		},
	}
}

func limitRange(name, ns string) *corev1.LimitRange {
	return &corev1.LimitRange{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: KindLimitRange},
		ObjectMeta: metav1.ObjectMeta{Name: name + "-limits", Namespace: ns, Labels: appLabels(name)},
		Spec: corev1.LimitRangeSpec{
			Limits: []corev1.LimitRangeItem{{
				Type: corev1.LimitTypeContainer,
				Default: corev1.ResourceList{
					corev1.ResourceCPU:    resource.MustParse("500m"),
					corev1.ResourceMemory: resource.MustParse("512Mi"),
				},
				DefaultRequest: corev1.ResourceList{
					corev1.ResourceCPU:    resource.MustParse("100m"),
					corev1.ResourceMemory: resource.MustParse("128Mi"),
				},
			}},
		},
	}
}

func deployment(name, ns, image, revision string, port int32, health string, env []corev1.EnvVar) *appsv1.Deployment {
	maxSurge := intstr.FromInt32(1)
	maxUnavailable := intstr.FromInt32(0)
	probe := func(initialDelay, period, failures int32) *corev1.Probe {
		return &corev1.Probe{
			ProbeHandler: corev1.ProbeHandler{
				HTTPGet: &corev1.HTTPGetAction{Path: health, Port: intstr.FromInt32(port)},
			},
			InitialDelaySeconds: initialDelay,
			PeriodSeconds:       period,
			TimeoutSeconds:      3,
			FailureThreshold:    failures,
		}
	}
	return &appsv1.Deployment{
		TypeMeta:   metav1.TypeMeta{APIVersion: "apps/v1", Kind: KindDeployment},
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ns, Labels: appLabels(name)},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(desiredReplicas),
			Selector: &metav1.LabelSelector{MatchLabels: appLabels(name)},
			Strategy: appsv1.DeploymentStrategy{
				Type: appsv1.RollingUpdateDeploymentStrategyType,
				RollingUpdate: &appsv1.RollingUpdateDeployment{
					MaxSurge:       &maxSurge,
					MaxUnavailable: &maxUnavailable,
				},
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: podMeta(name, revision),
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:            name,
						Image:           image,
						ImagePullPolicy: corev1.PullNever,
						Ports:           []corev1.ContainerPort{{Name: "http", ContainerPort: port, Protocol: corev1.ProtocolTCP}},
						Env:             env,
						Resources: corev1.ResourceRequirements{
							Requests: corev1.ResourceList{
								corev1.ResourceCPU:    resource.MustParse("100m"),
								corev1.ResourceMemory: resource.MustParse("128Mi"),
							},
							Limits: corev1.ResourceList{
								corev1.ResourceCPU:    resource.MustParse("500m"),
								corev1.ResourceMemory: resource.MustParse("512Mi"),
							},
						},
						ReadinessProbe: probe(10, 5, 6),
						LivenessProbe:  probe(30, 10, 3),
					}},
				},
			},
		},
	}
}

func podMeta(name, revision string) metav1.ObjectMeta {
	meta := metav1.ObjectMeta{Labels: appLabels(name)}
	if revision != "" {
		meta.Annotations = map[string]string{AnnotationRevision: revision}
	}
	return meta
}

func service(name, ns string, port int32) *corev1.Service {
	return &corev1.Service{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: KindService},
		ObjectMeta: metav1.ObjectMeta{Name: naming.ServiceName(name), Namespace: ns, Labels: appLabels(name)},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: appLabels(name),
			Ports: []corev1.ServicePort{{
				Name:       "http",
				Protocol:   corev1.ProtocolTCP,
				Port:       servicePort,
				TargetPort: intstr.FromInt32(port),
			}},
		},
	}
}

func ingress(name, ns string) *networkingv1.Ingress {
	pathType := networkingv1.PathTypePrefix
	return &networkingv1.Ingress{
		TypeMeta: metav1.TypeMeta{APIVersion: "networking.k8s.io/v1", Kind: KindIngress},
		ObjectMeta: metav1.ObjectMeta{
			Name:      name + "-ingress",
			Namespace: ns,
			Labels:    appLabels(name),
			Annotations: map[string]string{
				"nginx.ingress.kubernetes.io/ssl-redirect":       "false",
				"nginx.ingress.kubernetes.io/proxy-body-size":    "50m",
				"nginx.ingress.kubernetes.io/proxy-read-timeout": "60",
				"nginx.ingress.kubernetes.io/proxy-send-timeout": "60",
			},
		},
		Spec: networkingv1.IngressSpec{
			IngressClassName: ptr.To(ingressClassName),
			Rules: []networkingv1.IngressRule{{
				Host: naming.Host(name),
				IngressRuleValue: networkingv1.IngressRuleValue{
					HTTP: &networkingv1.HTTPIngressRuleValue{
						Paths: []networkingv1.HTTPIngressPath{{
							Path:     "/",
							PathType: &pathType,
							Backend: networkingv1.IngressBackend{
								Service: &networkingv1.IngressServiceBackend{
									Name: naming.ServiceName(name),
									Port: networkingv1.ServiceBackendPort{Number: servicePort},
								},
							},
						}},
					},
				},
			}},
		},
	}
}

func autoscaler(name, ns string) *autoscalingv2.HorizontalPodAutoscaler {
	target := func(res corev1.ResourceName, utilization int32) autoscalingv2.MetricSpec {
		return autoscalingv2.MetricSpec{
			Type: autoscalingv2.ResourceMetricSourceType,
			Resource: &autoscalingv2.ResourceMetricSource{
				Name: res,
				Target: autoscalingv2.MetricTarget{
					Type:               autoscalingv2.UtilizationMetricType,
					AverageUtilization: ptr.To(utilization),
				},
			},
		}
	}
	return &autoscalingv2.HorizontalPodAutoscaler{
		TypeMeta:   metav1.TypeMeta{APIVersion: "autoscaling/v2", Kind: KindHorizontalPodAutoscaler},
		ObjectMeta: metav1.ObjectMeta{Name: name + "-hpa", Namespace: ns, Labels: appLabels(name)},
		Spec: autoscalingv2.HorizontalPodAutoscalerSpec{
			ScaleTargetRef: autoscalingv2.CrossVersionObjectReference{APIVersion: "apps/v1", Kind: KindDeployment, Name: name},
			MinReplicas:    ptr.To(hpaMinReplicas),
			MaxReplicas:    hpaMaxReplicas,
			Metrics: []autoscalingv2.MetricSpec{
				target(corev1.ResourceCPU, hpaCPUTarget),
				target(corev1.ResourceMemory, hpaMemoryTarget),
			},
		},
	}
}

// networkPolicy admits traffic only from the ingress controller. Egress stays open.
func networkPolicy(name, ns string, port int32) *networkingv1.NetworkPolicy {
	tcp := corev1.ProtocolTCP
	target := intstr.FromInt32(port)
	return &networkingv1.NetworkPolicy{
		TypeMeta: metav1.TypeMeta{APIVersion: "networking.k8s.io/v1", Kind: KindNetworkPolicy},
		ObjectMeta: metav1.ObjectMeta{
			Name:        name + "-network-policy",
			Namespace:   ns,
			Labels:      appLabels(name),
			Annotations: map[string]string{AnnotationEgress: AnnotationEgressAllowed},
		},
		Spec: networkingv1.NetworkPolicySpec{
			PodSelector: metav1.LabelSelector{MatchLabels: appLabels(name)},
			PolicyTypes: []networkingv1.PolicyType{networkingv1.PolicyTypeIngress, networkingv1.PolicyTypeEgress},
			Ingress: []networkingv1.NetworkPolicyIngressRule{{
				From: []networkingv1.NetworkPolicyPeer{{
					NamespaceSelector: &metav1.LabelSelector{
						MatchLabels: map[string]string{"kubernetes.io/metadata.name": ingressNamespace},
					},
				}},
				Ports: []networkingv1.NetworkPolicyPort{{Protocol: &tcp, Port: &target}},
			}},
			Egress: []networkingv1.NetworkPolicyEgressRule{{}},
		},
	}
}
