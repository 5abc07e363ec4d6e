// Package clustertest provides an in-memory cluster.Provider for tests.
package clustertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/splax/kubehost/internal/cluster"
)

// Provider is a scriptable cluster.Provider. Zero-value fields behave like a
// kind cluster that is up, accepts every image and has no cluster daemon.
type Provider struct {
	mu sync.Mutex

	ProviderName string
	Cluster      string
	Up           bool

	// StartErrs are returned by successive Start calls; once drained Start succeeds.
	StartErrs  []error
	RunningErr error
	LoadErr    error
	Env        map[string]string
	EnvErr     error
	BuildOut   string
	BuildErr   error
	IngressErr error
	// OnEnableIngress runs after a successful EnableIngress.
	OnEnableIngress func()

	Images       map[string]bool
	Loaded       []string
	NativeBuilds []string
	Starts       int
	IngressCalls int
}

var _ cluster.Provider = (*Provider)(nil)

func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return cluster.ProviderKind
	}
	return p.ProviderName
}

func (p *Provider) ClusterName() string {
	if p.Cluster == "" {
		return cluster.DefaultClusterName
	}
	return p.Cluster
}

func (p *Provider) KubeContext() string {
	return p.Name() + "-" + p.ClusterName()
}

func (p *Provider) Running(context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Up, p.RunningErr
}

func (p *Provider) Start(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Starts++
	if len(p.StartErrs) > 0 {
		err := p.StartErrs[0]
		p.StartErrs = p.StartErrs[1:]
		if err != nil {
			return err
		}
	}
	p.Up = true
	return nil
}

func (p *Provider) LoadImage(_ context.Context, tag string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.LoadErr != nil {
		return p.LoadErr
	}
	p.Loaded = append(p.Loaded, tag)
	p.markLocked(tag)
	return nil
}

func (p *Provider) ImageExists(_ context.Context, tag string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Images[tag], nil
}

func (p *Provider) DockerEnv(context.Context) (map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.EnvErr != nil {
		return nil, p.EnvErr
	}
	if p.Env == nil {
		return nil, fmt.Errorf("docker-env: %w", cluster.ErrUnsupported)
	}
	return p.Env, nil
}

func (p *Provider) NativeBuild(_ context.Context, tag, _ string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Name() == cluster.ProviderKind {
		return "", fmt.Errorf("image build: %w", cluster.ErrUnsupported)
	}
	p.NativeBuilds = append(p.NativeBuilds, tag)
	if p.BuildErr != nil {
		return p.BuildOut, p.BuildErr
	}
	p.markLocked(tag)
	return p.BuildOut, nil
}

func (p *Provider) EnableIngress(context.Context) error {
	p.mu.Lock()
	p.IngressCalls++
	err := p.IngressErr
	hook := p.OnEnableIngress
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		hook()
	}
	return nil
}

// MarkImage records tag as present in the cluster image store.
func (p *Provider) MarkImage(tag string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.markLocked(tag)
}

func (p *Provider) markLocked(tag string) {
	if p.Images == nil {
		p.Images = make(map[string]bool)
	}
	p.Images[tag] = true
}
