// Package cluster manages the local development cluster: provider specific
// tooling for kind and minikube, and the bootstrap that makes the cluster and
// its ingress controller ready for deployments.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/distribution/reference"

	"github.com/splax/kubehost/internal/run"
)

// ErrUnsupported is returned by providers for operations they cannot perform.
var ErrUnsupported = errors.New("cluster: operation not supported by provider")

// Provider names.
const (
	ProviderKind     = "kind"
	ProviderMinikube = "minikube"
)

// Provider abstracts the cluster tool that owns the development cluster.
type Provider interface {
	// Name is the provider kind, "kind" or "minikube".
	Name() string
	// ClusterName is the kind cluster name or the minikube profile.
	ClusterName() string
	// KubeContext is the kubeconfig context the tool writes for the cluster.
	KubeContext() string

	Running(ctx context.Context) (bool, error)
	Start(ctx context.Context) error

	// LoadImage copies a host image into the cluster's image store.
	LoadImage(ctx context.Context, tag string) error
	ImageExists(ctx context.Context, tag string) (bool, error)

	// DockerEnv returns connection variables for a Docker daemon inside the cluster.
	DockerEnv(ctx context.Context) (map[string]string, error)
	// NativeBuild builds dir with the cluster tool itself and returns its output.
	NativeBuild(ctx context.Context, tag, dir string) (string, error)

	EnableIngress(ctx context.Context) error
}

// Options configure provider construction.
type Options struct {
	Provider           string
	ClusterName        string
	KubeContext        string
	IngressManifestURL string
}

// NewProvider returns the provider selected by opts.Provider.
func NewProvider(opts Options, runner run.Runner) (Provider, error) {
	name := strings.TrimSpace(opts.ClusterName)
	if name == "" {
		name = DefaultClusterName
	}
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case "", ProviderKind:
		return NewKind(name, opts.KubeContext, opts.IngressManifestURL, runner), nil
	case ProviderMinikube:
		return NewMinikube(name, opts.KubeContext, runner), nil
	default:
		return nil, fmt.Errorf("unknown cluster provider %q", opts.Provider)
	}
}

// DefaultClusterName names the kind cluster and minikube profile when none is configured.
const DefaultClusterName = "kubehost"

// normalizeImageRef expands a short reference to the fully qualified form
// container runtimes list, e.g. gitdeploy/app to docker.io/gitdeploy/app:latest.
// References that do not parse are returned trimmed.
func normalizeImageRef(ref string) string {
	ref = strings.TrimSpace(ref)
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return ref
	}
	return reference.TagNameOnly(named).String()
}
