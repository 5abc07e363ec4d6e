package cluster

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/splax/kubehost/internal/run"
)

const kindConfig = `kind: Cluster
apiVersion: kind.x-k8s.io/v1alpha4
nodes:
- role: control-plane
  kubeadmConfigPatches:
  - |
    kind: InitConfiguration
    nodeRegistration:
      kubeletExtraArgs:
        node-labels: "ingress-ready=true"
  extraPortMappings:
  - containerPort: 80
    hostPort: 80
    protocol: TCP
  - containerPort: 443
    hostPort: 443
    protocol: TCP
`

// Kind drives a kind cluster through the kind and kubectl binaries.
type Kind struct {
	name       string
	context    string
	ingressURL string
	runner     run.Runner
}

// NewKind returns a kind provider for the named cluster.
func NewKind(name, kubeContext, ingressURL string, runner run.Runner) *Kind {
	if kubeContext == "" {
		kubeContext = "kind-" + name
	}
	return &Kind{name: name, context: kubeContext, ingressURL: ingressURL, runner: runner}
}

func (k *Kind) Name() string        { return ProviderKind }
func (k *Kind) ClusterName() string { return k.name }
func (k *Kind) KubeContext() string { return k.context }

// Running reports whether `kind get clusters` lists the cluster.
func (k *Kind) Running(ctx context.Context) (bool, error) {
	out, err := k.runner.Run(ctx, run.Command{Name: "kind", Args: []string{"get", "clusters"}})
	if err != nil {
		return false, fmt.Errorf("kind get clusters: %w", err)
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == k.name {
			return true, nil
		}
	}
	return false, nil
}

// Start creates the cluster with an ingress-ready control plane mapping host ports 80 and 443.
func (k *Kind) Start(ctx context.Context) error {
	f, err := os.CreateTemp("", "kubehost-kind-*.yaml")
	if err != nil {
		return fmt.Errorf("create kind config: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString(kindConfig); err != nil {
		f.Close()
		return fmt.Errorf("write kind config: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write kind config: %w", err)
	}
	_, err = k.runner.Run(ctx, run.Command{
		Name: "kind",
		Args: []string{"create", "cluster", "--name", k.name, "--config", f.Name()},
	})
	if err != nil {
		return fmt.Errorf("kind create cluster: %w", err)
	}
	return nil
}

func (k *Kind) LoadImage(ctx context.Context, tag string) error {
	_, err := k.runner.Run(ctx, run.Command{
		Name: "kind",
		Args: []string{"load", "docker-image", tag, "--name", k.name},
	})
	if err != nil {
		return fmt.Errorf("kind load docker-image: %w", err)
	}
	return nil
}

// ImageExists lists the control-plane node's containerd images.
func (k *Kind) ImageExists(ctx context.Context, tag string) (bool, error) {
	out, err := k.runner.Run(ctx, run.Command{
		Name: "docker",
		Args: []string{"exec", k.name + "-control-plane", "crictl", "images"},
	})
	if err != nil {
		return false, fmt.Errorf("list node images: %w", err)
	}
	want := normalizeImageRef(tag)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] == "IMAGE" {
			continue
		}
		if normalizeImageRef(fields[0]+":"+fields[1]) == want {
			return true, nil
		}
	}
	return false, nil
}

func (k *Kind) DockerEnv(context.Context) (map[string]string, error) {
	return nil, fmt.Errorf("kind docker-env: %w", ErrUnsupported)
}

func (k *Kind) NativeBuild(context.Context, string, string) (string, error) {
	return "", fmt.Errorf("kind image build: %w", ErrUnsupported)
}

// EnableIngress applies the ingress-nginx manifest published for kind.
func (k *Kind) EnableIngress(ctx context.Context) error {
	url := k.ingressURL
	if url == "" {
		url = DefaultIngressManifestURL
	}
	_, err := k.runner.Run(ctx, run.Command{
		Name: "kubectl",
		Args: []string{"--context", k.context, "apply", "-f", url},
	})
	if err != nil {
		return fmt.Errorf("install ingress-nginx: %w", err)
	}
	return nil
}

// DefaultIngressManifestURL is the ingress-nginx deployment for kind.
const DefaultIngressManifestURL = "https://raw.githubusercontent.com/kubernetes/ingress-nginx/main/deploy/static/provider/kind/deploy.yaml"
