package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/splax/kubehost/internal/cluster"
	"github.com/splax/kubehost/internal/docker"
	"github.com/splax/kubehost/internal/dockerfile"
	httpx "github.com/splax/kubehost/internal/http"
	"github.com/splax/kubehost/internal/image"
	"github.com/splax/kubehost/internal/kube"
	"github.com/splax/kubehost/internal/lifecycle"
	"github.com/splax/kubehost/internal/rollout"
	"github.com/splax/kubehost/internal/run"
	"github.com/splax/kubehost/internal/service/deploy"
	"github.com/splax/kubehost/internal/source"
	"github.com/splax/kubehost/internal/workspace"
	"github.com/splax/kubehost/internal/ws"
	"github.com/splax/kubehost/pkg/config"
	"github.com/splax/kubehost/pkg/logger"
	"github.com/splax/kubehost/pkg/notify"
)

func main() {
	cfg, err := config.LoadKubehostConfig()
	log := logger.New("kubehostd", logger.ParseLevel(cfg.LogLevel))
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, log); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg config.KubehostConfig, log *slog.Logger) error {
	apps, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	locker, closeLocker, err := openLocker(cfg, log)
	if err != nil {
		return err
	}
	defer closeLocker()

	runner := run.NewExec(log)
	provider, err := cluster.NewProvider(cluster.Options{
		Provider:           cfg.ClusterProvider,
		ClusterName:        cfg.ClusterName,
		KubeContext:        cfg.KubeContext,
		IngressManifestURL: cfg.IngressManifestURL,
	}, runner)
	if err != nil {
		return fmt.Errorf("cluster provider: %w", err)
	}
	kubeContext := cfg.KubeContext
	if kubeContext == "" {
		kubeContext = provider.KubeContext()
	}
	kubeSource := kube.NewLoader(cfg.Kubeconfig, kubeContext)
	bootstrap := cluster.NewBootstrap(provider, kubeSource, cluster.BootstrapConfig{
		Attempts:     cfg.BootstrapAttempts,
		IngressWait:  cfg.IngressWaitTimeout,
		PollInterval: cfg.PollInterval,
	}, log)

	checks := map[string]deploy.HealthCheck{
		"cluster": func(ctx context.Context) error {
			up, err := provider.Running(ctx)
			if err != nil {
				return err
			}
			if !up {
				return fmt.Errorf("%s cluster %s is not running", provider.Name(), provider.ClusterName())
			}
			return nil
		},
	}

	var host image.Engine
	dockerClient, dockerErr := docker.New(cfg.DockerHost)
	if dockerErr != nil {
		log.Warn("docker client unavailable; host builds disabled", "error", dockerErr)
		checks["docker"] = func(context.Context) error {
			return fmt.Errorf("%w: %v", docker.ErrDaemonUnavailable, dockerErr)
		}
	} else {
		defer dockerClient.Close()
		host = dockerClient
		checks["docker"] = dockerClient.Ping
	}
	builder := image.NewBuilder(host, provider, image.DialDocker, image.Config{
		Repository:      cfg.ImageRepository,
		BuildTimeout:    cfg.BuildTimeout,
		LivenessTimeout: cfg.LivenessTimeout,
	}, log)

	workspaceManager, err := workspace.New(cfg.Workdir)
	if err != nil {
		return fmt.Errorf("workspace init %s: %w", cfg.Workdir, err)
	}
	generator, err := dockerfile.New(dockerfile.Options{
		Mode:    cfg.DockerfileGenerator,
		BaseURL: cfg.LLMBaseURL,
		APIKey:  cfg.LLMAPIKey,
		Model:   cfg.LLMModel,
		Logger:  log,
	})
	if err != nil {
		return fmt.Errorf("dockerfile generator: %w", err)
	}

	hub := ws.NewHub(ws.DefaultHistory)
	defer hub.Close()
	publishers := deploy.Publishers{deploy.HubPublisher{Hub: hub, Logger: log}}
	if cfg.DeployCallbackURL != "" {
		hook, err := notify.NewWebhook(cfg.DeployCallbackURL, &http.Client{Timeout: cfg.DeployCallbackTimeout})
		if err != nil {
			return fmt.Errorf("deploy callback: %w", err)
		}
		publishers = append(publishers, deploy.WebhookPublisher{Hook: hook, Timeout: cfg.DeployCallbackTimeout, Logger: log})
	}

	svc, err := deploy.New(deploy.Dependencies{
		Apps:        apps,
		Locker:      locker,
		Source:      source.NewFetcher(runner, workspaceManager, cfg.GitTimeout, log),
		Dockerfiles: generator,
		Images:      builder,
		Cluster:     bootstrap,
		Rollout: rollout.NewExecutor(kubeSource, rollout.Config{
			PollInterval:        cfg.PollInterval,
			Timeout:             cfg.RolloutTimeout,
			DiagnosticsInterval: cfg.DiagnosticsInterval,
		}, log),
		Lifecycle: lifecycle.New(kubeSource, log),
		Events:    publishers,
		Metrics:   deploy.NewMetrics(nil),
		Checks:    checks,
	}, deploy.Config{ParallelBootstrap: cfg.ParallelBootstrap}, log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpx.New(log, svc, hub),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("kubehostd starting",
			"addr", cfg.Addr,
			"provider", provider.Name(),
			"cluster", provider.ClusterName(),
			"context", kubeContext,
			"store", cfg.Store,
		)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		drain(svc, cfg.ShutdownGrace, log)
		log.Info("kubehostd stopped")
		return nil
	case err := <-errorCh:
		drain(svc, cfg.ShutdownGrace, log)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// drain lets background deploys finish within grace; the rest are cancelled
// and recorded as failed.
func drain(svc *deploy.Service, grace time.Duration, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		log.Warn("background deploys cancelled at shutdown", "error", err)
	}
}
