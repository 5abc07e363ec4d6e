package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/splax/kubehost/internal/envfile"
	"github.com/splax/kubehost/internal/run"
)

// Minikube drives a minikube profile through the minikube binary.
type Minikube struct {
	profile string
	context string
	runner  run.Runner
}

// NewMinikube returns a minikube provider for the named profile.
func NewMinikube(profile, kubeContext string, runner run.Runner) *Minikube {
	if kubeContext == "" {
		kubeContext = profile
	}
	return &Minikube{profile: profile, context: kubeContext, runner: runner}
}

func (m *Minikube) Name() string        { return ProviderMinikube }
func (m *Minikube) ClusterName() string { return m.profile }
func (m *Minikube) KubeContext() string { return m.context }

type minikubeStatus struct {
	Name      string `json:"Name"`
	Host      string `json:"Host"`
	Kubelet   string `json:"Kubelet"`
	APIServer string `json:"APIServer"`
}

func (s minikubeStatus) running() bool {
	return s.Host == "Running" && s.APIServer == "Running"
}

// Running parses `minikube status -o json`. minikube exits non-zero for stopped
// or missing profiles, so the output is inspected before the error.
func (m *Minikube) Running(ctx context.Context) (bool, error) {
	out, err := m.minikube(ctx, "status", "-o", "json")
	statuses, parseErr := parseMinikubeStatus(out)
	if parseErr != nil {
		if err != nil {
			if strings.Contains(out, "not found") || strings.Contains(out, "does not exist") {
				return false, nil
			}
			return false, fmt.Errorf("minikube status: %w", err)
		}
		return false, fmt.Errorf("minikube status: %w", parseErr)
	}
	for _, st := range statuses {
		if !st.running() {
			return false, nil
		}
	}
	return len(statuses) > 0, nil
}

func parseMinikubeStatus(out string) ([]minikubeStatus, error) {
	out = strings.TrimSpace(out)
	if strings.HasPrefix(out, "[") {
		var many []minikubeStatus
		if err := json.Unmarshal([]byte(out), &many); err != nil {
			return nil, err
		}
		return many, nil
	}
	var one minikubeStatus
	if err := json.Unmarshal([]byte(out), &one); err != nil {
		return nil, err
	}
	return []minikubeStatus{one}, nil
}

func (m *Minikube) Start(ctx context.Context) error {
	if _, err := m.minikube(ctx, "start", "--driver=docker"); err != nil {
		return fmt.Errorf("minikube start: %w", err)
	}
	return nil
}

func (m *Minikube) LoadImage(ctx context.Context, tag string) error {
	if _, err := m.minikube(ctx, "image", "load", tag); err != nil {
		return fmt.Errorf("minikube image load: %w", err)
	}
	return nil
}

func (m *Minikube) ImageExists(ctx context.Context, tag string) (bool, error) {
	out, err := m.minikube(ctx, "image", "ls")
	if err != nil {
		return false, fmt.Errorf("minikube image ls: %w", err)
	}
	want := normalizeImageRef(tag)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && normalizeImageRef(line) == want {
			return true, nil
		}
	}
	return false, nil
}

// DockerEnv reads `minikube docker-env`. Unparseable lines are ignored as long
// as DOCKER_HOST comes through.
func (m *Minikube) DockerEnv(ctx context.Context) (map[string]string, error) {
	out, err := m.minikube(ctx, "docker-env", "--shell", "bash")
	if err != nil {
		return nil, fmt.Errorf("minikube docker-env: %w", err)
	}
	vars, _ := envfile.ParseExports(out)
	if vars["DOCKER_HOST"] == "" {
		return nil, fmt.Errorf("minikube docker-env: no DOCKER_HOST in output: %s", strings.TrimSpace(out))
	}
	return vars, nil
}

func (m *Minikube) NativeBuild(ctx context.Context, tag, dir string) (string, error) {
	out, err := m.minikube(ctx, "image", "build", "-t", tag, dir)
	if err != nil {
		return out, fmt.Errorf("minikube image build: %w", err)
	}
	return out, nil
}

func (m *Minikube) EnableIngress(ctx context.Context) error {
	if _, err := m.minikube(ctx, "addons", "enable", "ingress"); err != nil {
		return fmt.Errorf("minikube addons enable ingress: %w", err)
	}
	return nil
}

func (m *Minikube) minikube(ctx context.Context, args ...string) (string, error) {
	args = append(args, "-p", m.profile)
	return m.runner.Run(ctx, run.Command{Name: "minikube", Args: args})
}
