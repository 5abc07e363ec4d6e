package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/splax/kubehost/internal/domain"
	"github.com/splax/kubehost/internal/kube"
)

// Ingress controller coordinates.
const (
	IngressNamespace = "ingress-nginx"
	IngressSelector  = "app.kubernetes.io/component=controller"
)

// BootstrapConfig tunes retries and waits.
type BootstrapConfig struct {
	Attempts       int
	InitialBackoff time.Duration
	IngressWait    time.Duration
	PollInterval   time.Duration
}

// Bootstrap makes sure the cluster exists and the ingress controller serves.
type Bootstrap struct {
	provider Provider
	kube     kube.Source
	logger   *slog.Logger
	cfg      BootstrapConfig
}

// NewBootstrap wires a Bootstrap. Zero config values take defaults.
func NewBootstrap(provider Provider, source kube.Source, cfg BootstrapConfig, logger *slog.Logger) *Bootstrap {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 2 * time.Second
	}
	if cfg.IngressWait <= 0 {
		cfg.IngressWait = 180 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bootstrap{provider: provider, kube: source, cfg: cfg, logger: logger}
}

// Provider returns the underlying cluster provider.
func (b *Bootstrap) Provider() Provider {
	return b.provider
}

// EnsureReady brings the cluster and ingress controller up, retrying with
// exponential backoff. Exhausted retries wrap domain.ErrClusterUnavailable.
func (b *Bootstrap) EnsureReady(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = b.cfg.InitialBackoff
	policy.MaxElapsedTime = 0
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(b.cfg.Attempts-1)), ctx)

	attempt := 0
	op := func() error {
		attempt++
		err := b.ensureOnce(ctx)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		b.logger.Warn("cluster bootstrap attempt failed", "provider", b.provider.Name(), "cluster", b.provider.ClusterName(), "attempt", attempt, "retry_in", next, "error", err)
	}
	if err := backoff.RetryNotify(op, retry, notify); err != nil {
		return fmt.Errorf("%w: %s cluster %q after %d attempts: %w", domain.ErrClusterUnavailable, b.provider.Name(), b.provider.ClusterName(), attempt, err)
	}
	return nil
}

func (b *Bootstrap) ensureOnce(ctx context.Context) error {
	if err := b.ensureCluster(ctx); err != nil {
		return err
	}
	return b.ensureIngress(ctx)
}

func (b *Bootstrap) ensureCluster(ctx context.Context) error {
	running, err := b.provider.Running(ctx)
	if err != nil {
		return err
	}
	if running {
		return nil
	}
	b.logger.Info("starting cluster", "provider", b.provider.Name(), "cluster", b.provider.ClusterName())
	if err := b.provider.Start(ctx); err != nil {
		return err
	}
	if r, ok := b.kube.(interface{ Reset() }); ok {
		r.Reset()
	}
	running, err = b.provider.Running(ctx)
	if err != nil {
		return err
	}
	if !running {
		return errors.New("cluster not running after start")
	}
	return nil
}

func (b *Bootstrap) ensureIngress(ctx context.Context) error {
	clients, err := b.kube.Clients()
	if err != nil {
		return err
	}
	check := func(ctx context.Context) (bool, error) {
		return IngressReady(ctx, clients)
	}
	ready, err := check(ctx)
	if err != nil {
		return err
	}
	if ready {
		return nil
	}
	b.logger.Info("installing ingress controller", "provider", b.provider.Name())
	if err := b.provider.EnableIngress(ctx); err != nil {
		return err
	}
	if err := wait.PollUntilContextTimeout(ctx, b.cfg.PollInterval, b.cfg.IngressWait, true, check); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.logger.Warn("ingress controller not ready before timeout; continuing", "timeout", b.cfg.IngressWait, "error", err)
	}
	return nil
}

// IngressReady reports whether any ingress controller pod is Ready. List errors
// other than cancellation count as not ready so polling continues while the
// controller namespace is still being created.
func IngressReady(ctx context.Context, clients *kube.Clients) (bool, error) {
	pods, err := clients.Typed.CoreV1().Pods(IngressNamespace).List(ctx, metav1.ListOptions{LabelSelector: IngressSelector})
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	for i := range pods.Items {
		if PodReady(&pods.Items[i]) {
			return true, nil
		}
	}
	return false, nil
}

// PodReady reports whether the pod's Ready condition is True.
func PodReady(pod *corev1.Pod) bool {
	if pod == nil {
		return false
	}
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}
