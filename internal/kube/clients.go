// Package kube builds client-go clients for the development cluster's kubeconfig context.
package kube

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Clients bundles the typed and dynamic interfaces for one context.
type Clients struct {
	Typed   kubernetes.Interface
	Dynamic dynamic.Interface
}

// Source yields clients on demand.
type Source interface {
	Clients() (*Clients, error)
}

// Static returns a Source that always yields c.
func Static(c *Clients) Source {
	return staticSource{clients: c}
}

type staticSource struct {
	clients *Clients
}

func (s staticSource) Clients() (*Clients, error) {
	return s.clients, nil
}

// Loader resolves a kubeconfig context lazily and caches the clients once built.
// The context usually appears only after the cluster is created, so failures are not cached.
type Loader struct {
	kubeconfig string
	context    string

	mu      sync.Mutex
	clients *Clients
}

// NewLoader returns a Loader for the given kubeconfig path and context. An empty path
// uses the default loading rules (KUBECONFIG, then ~/.kube/config); an empty context
// uses the current context.
func NewLoader(kubeconfig, context string) *Loader {
	return &Loader{kubeconfig: strings.TrimSpace(kubeconfig), context: strings.TrimSpace(context)}
}

// Context reports the context the loader targets.
func (l *Loader) Context() string {
	return l.context
}

// Clients returns cached clients, building them on first success.
func (l *Loader) Clients() (*Clients, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.clients != nil {
		return l.clients, nil
	}
	cfg, err := l.restConfig()
	if err != nil {
		return nil, err
	}
	typed, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("create kubernetes client: %w", err)
	}
	dyn, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("create dynamic client: %w", err)
	}
	l.clients = &Clients{Typed: typed, Dynamic: dyn}
	return l.clients, nil
}

// Reset drops cached clients so the next call re-reads the kubeconfig.
func (l *Loader) Reset() {
	l.mu.Lock()
	l.clients = nil
	l.mu.Unlock()
}

func (l *Loader) restConfig() (*rest.Config, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if l.kubeconfig != "" {
		rules.ExplicitPath = l.kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: l.context}
	cfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("load kubeconfig context %q: %w", l.context, err)
	}
	cfg.QPS = 50
	cfg.Burst = 100
	cfg.Timeout = 30 * time.Second
	return cfg, nil
}
