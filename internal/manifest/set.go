package manifest

import (
	"bytes"
	"fmt"

	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/yaml"
)

// Kinds in apply order.
const (
	KindNamespace               = "Namespace"
	KindResourceQuota           = "ResourceQuota"
	KindLimitRange              = "LimitRange"
	KindDeployment              = "Deployment"
	KindService                 = "Service"
	KindIngress                 = "Ingress"
	KindHorizontalPodAutoscaler = "HorizontalPodAutoscaler"
	KindNetworkPolicy           = "NetworkPolicy"
)

// Manifest is one resource of a Set.
type Manifest struct {
	Kind      string
	Name      string
	Namespace string
	Object    runtime.Object
	// Optional resources may fail to apply without aborting the rollout.
	Optional bool
}

// Set is the ordered collection of resources for one app.
type Set struct {
	AppName    string
	Namespace  string
	Port       int32
	PortSource PortSource
	HealthPath string
	Items      []Manifest
}

// Find returns the first manifest of the given kind.
func (s Set) Find(kind string) (Manifest, bool) {
	for _, m := range s.Items {
		if m.Kind == kind {
			return m, true
		}
	}
	return Manifest{}, false
}

// Kinds lists the resource kinds in order.
func (s Set) Kinds() []string {
	kinds := make([]string, 0, len(s.Items))
	for _, m := range s.Items {
		kinds = append(kinds, m.Kind)
	}
	return kinds
}

// YAML renders the set as a multi-document stream.
func (s Set) YAML() ([]byte, error) {
	var buf bytes.Buffer
	for i, m := range s.Items {
		out, err := yaml.Marshal(m.Object)
		if err != nil {
			return nil, fmt.Errorf("render %s %s: %w", m.Kind, m.Name, err)
		}
		if i > 0 {
			buf.WriteString("---\n")
		}
		if m.Optional {
			buf.WriteString("# optional\n")
		}
		buf.Write(out)
	}
	return buf.Bytes(), nil
}
