// Package rollout applies a manifest set to the cluster and waits for the
// app's Deployment to become ready, collecting pod diagnostics while it waits.
package rollout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"

	"github.com/splax/kubehost/internal/domain"
	"github.com/splax/kubehost/internal/kube"
	"github.com/splax/kubehost/internal/manifest"
)

// Config tunes readiness polling.
type Config struct {
	PollInterval        time.Duration
	Timeout             time.Duration
	DiagnosticsInterval time.Duration
}

// AppliedResource records one successfully applied manifest.
type AppliedResource struct {
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	Namespace string `json:"namespace,omitempty"`
	Action    string `json:"action"`
}

// Outcome is the result of a rollout.
type Outcome struct {
	Ready           bool              `json:"ready"`
	ReadyReplicas   int32             `json:"ready_replicas"`
	DesiredReplicas int32             `json:"desired_replicas"`
	Diagnostics     []PodDiagnostic   `json:"diagnostics,omitempty"`
	Applied         []AppliedResource `json:"applied,omitempty"`
	Warnings        []string          `json:"warnings,omitempty"`
	StatusDump      string            `json:"status_dump,omitempty"`
}

// Executor applies manifest sets and waits for readiness.
type Executor struct {
	kube   kube.Source
	cfg    Config
	logger *slog.Logger
}

// NewExecutor returns an Executor. Zero config values take the defaults:
// 5s polls, a 120s timeout and diagnostics every 30s.
func NewExecutor(source kube.Source, cfg Config, logger *slog.Logger) *Executor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.DiagnosticsInterval <= 0 {
		cfg.DiagnosticsInterval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{kube: source, cfg: cfg, logger: logger}
}

// Rollout applies set in order and polls the Deployment until ready.
// A required resource failure wraps domain.ErrManifestApplyFailed and returns
// the resources applied so far. Not becoming ready in time wraps
// domain.ErrRolloutTimeout and carries diagnostics and a status dump.
func (e *Executor) Rollout(ctx context.Context, set manifest.Set) (Outcome, error) {
	var out Outcome
	depManifest, ok := set.Find(manifest.KindDeployment)
	if !ok {
		return out, fmt.Errorf("%w: manifest set for %s has no deployment", domain.ErrInvalidArgument, set.AppName)
	}
	clients, err := e.kube.Clients()
	if err != nil {
		return out, fmt.Errorf("%w: %w", domain.ErrClusterUnavailable, err)
	}
	cs := clients.Typed
	log := e.logger.With("app", set.AppName, "namespace", set.Namespace)

	for _, m := range set.Items {
		action, err := apply(ctx, cs, m)
		if err != nil {
			if m.Optional {
				warning := fmt.Sprintf("%s: %s %s: %v", domain.ErrOptionalResourceFailed, m.Kind, m.Name, err)
				out.Warnings = append(out.Warnings, warning)
				log.Warn("optional resource failed", "kind", m.Kind, "name", m.Name, "error", err)
				continue
			}
			log.Error("apply failed", "kind", m.Kind, "name", m.Name, "error", err)
			return out, fmt.Errorf("%w: %s %s: %w", domain.ErrManifestApplyFailed, m.Kind, m.Name, err)
		}
		out.Applied = append(out.Applied, AppliedResource{Kind: m.Kind, Name: m.Name, Namespace: m.Namespace, Action: action})
		log.Debug("applied resource", "kind", m.Kind, "name", m.Name, "action", action)
	}

	dep := depManifest.Object.(*appsv1.Deployment)
	selector := metav1.FormatLabelSelector(dep.Spec.Selector)
	return e.await(ctx, cs, set.Namespace, dep.Name, selector, out, log)
}

func (e *Executor) await(ctx context.Context, cs kubernetes.Interface, namespace, name, selector string, out Outcome, log *slog.Logger) (Outcome, error) {
	var diags diagnosticSet
	started := time.Now()
	nextSample := e.cfg.DiagnosticsInterval

	sample := func(ctx context.Context) {
		pods, err := listPods(ctx, cs, namespace, selector)
		if err != nil {
			log.Debug("diagnostics sample failed", "error", err)
			return
		}
		for i := range pods {
			diags.add(PodDiagnostics(&pods[i])...)
		}
	}

	err := wait.PollUntilContextTimeout(ctx, e.cfg.PollInterval, e.cfg.Timeout, true, func(ctx context.Context) (bool, error) {
		dep, err := cs.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			log.Debug("deployment poll failed", "error", err)
		} else {
			out.DesiredReplicas = desiredReplicas(dep)
			out.ReadyReplicas = dep.Status.ReadyReplicas
			if rolledOut(dep) {
				return true, nil
			}
		}
		if time.Since(started) >= nextSample {
			sample(ctx)
			nextSample += e.cfg.DiagnosticsInterval
		}
		return false, nil
	})
	if err == nil {
		out.Ready = true
		log.Info("deployment ready", "ready", out.ReadyReplicas, "desired", out.DesiredReplicas, "elapsed", time.Since(started).Round(time.Millisecond))
		return out, nil
	}

	// The caller's context may be done; evidence is still worth a short extra call.
	evidenceCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	sample(evidenceCtx)
	out.Diagnostics = diags.items
	out.StatusDump = statusDump(evidenceCtx, cs, namespace, name, selector)

	cause := fmt.Errorf("deployment %s/%s not ready after %s (%d/%d replicas)", namespace, name, e.cfg.Timeout, out.ReadyReplicas, out.DesiredReplicas)
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
		cause = fmt.Errorf("stopped waiting for %s/%s: %w", namespace, name, ctxErr)
	}
	log.Warn("deployment not ready", "ready", out.ReadyReplicas, "desired", out.DesiredReplicas, "diagnostics", len(out.Diagnostics))
	return out, fmt.Errorf("%w: %w", domain.ErrRolloutTimeout, cause)
}

// rolledOut reports whether the controller has seen the current spec and
// every desired replica runs the current template and is ready. Pods of an
// older ReplicaSet never count.
func rolledOut(dep *appsv1.Deployment) bool {
	desired := desiredReplicas(dep)
	st := dep.Status
	return desired >= 1 &&
		st.ObservedGeneration >= dep.Generation &&
		st.UpdatedReplicas >= desired &&
		st.ReadyReplicas >= desired
}

func desiredReplicas(dep *appsv1.Deployment) int32 {
	if dep.Spec.Replicas == nil {
		return 1
	}
	return *dep.Spec.Replicas
}
