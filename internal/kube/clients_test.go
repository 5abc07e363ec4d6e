package kube

import (
	"os"
	"path/filepath"
	"testing"

	"k8s.io/client-go/kubernetes/fake"
)

const testKubeconfig = `apiVersion: v1
kind: Config
clusters:
- cluster:
    server: https://127.0.0.1:6443
  name: kind-kubehost
contexts:
- context:
    cluster: kind-kubehost
    user: kind-kubehost
  name: kind-kubehost
current-context: kind-kubehost
users:
- name: kind-kubehost
  user:
    token: test
`

func TestLoaderBuildsAndCaches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	if err := os.WriteFile(path, []byte(testKubeconfig), 0o600); err != nil {
		t.Fatalf("write kubeconfig: %v", err)
	}
	loader := NewLoader(path, "kind-kubehost")
	first, err := loader.Clients()
	if err != nil {
		t.Fatalf("clients: %v", err)
	}
	second, err := loader.Clients()
	if err != nil {
		t.Fatalf("clients: %v", err)
	}
	if first != second {
		t.Fatalf("expected cached clients")
	}
	loader.Reset()
	third, err := loader.Clients()
	if err != nil {
		t.Fatalf("clients after reset: %v", err)
	}
	if third == first {
		t.Fatalf("expected fresh clients after reset")
	}
}

func TestLoaderUnknownContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	if err := os.WriteFile(path, []byte(testKubeconfig), 0o600); err != nil {
		t.Fatalf("write kubeconfig: %v", err)
	}
	if _, err := NewLoader(path, "minikube").Clients(); err == nil {
		t.Fatalf("expected error for missing context")
	}
}

func TestStatic(t *testing.T) {
	c := &Clients{Typed: fake.NewSimpleClientset()}
	got, err := Static(c).Clients()
	if err != nil || got != c {
		t.Fatalf("unexpected static source result %v %v", got, err)
	}
}
