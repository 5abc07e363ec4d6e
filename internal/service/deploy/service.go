// Package deploy runs the source-to-cluster pipeline and the operations
// around deployed apps.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/splax/kubehost/internal/dockerfile"
	"github.com/splax/kubehost/internal/domain"
	"github.com/splax/kubehost/internal/image"
	"github.com/splax/kubehost/internal/lifecycle"
	"github.com/splax/kubehost/internal/lock"
	"github.com/splax/kubehost/internal/manifest"
	"github.com/splax/kubehost/internal/naming"
	"github.com/splax/kubehost/internal/repository"
	"github.com/splax/kubehost/internal/rollout"
	"github.com/splax/kubehost/internal/source"
)

// SourceFetcher materializes the code for an attempt.
type SourceFetcher interface {
	Fetch(ctx context.Context, req source.Request) (source.Checkout, error)
	Release(c source.Checkout) error
}

// ImageBuilder places the app image where the cluster can run it.
type ImageBuilder interface {
	Tag(appName string) string
	Build(ctx context.Context, appName, appPath string, opts ...image.BuildOption) (image.Result, error)
	LoadDeferred(ctx context.Context, res image.Result) (image.Result, error)
}

// Bootstrapper makes sure the cluster and its ingress controller are up.
type Bootstrapper interface {
	EnsureReady(ctx context.Context) error
}

// RolloutExecutor applies a manifest set and waits for readiness.
type RolloutExecutor interface {
	Rollout(ctx context.Context, set manifest.Set) (rollout.Outcome, error)
}

// Lifecycle manages apps that are already in the cluster.
type Lifecycle interface {
	Delete(ctx context.Context, appName string) error
	List(ctx context.Context) ([]lifecycle.Entry, error)
	Scale(ctx context.Context, appName string, replicas int32) (lifecycle.ScaleResult, error)
	Status(ctx context.Context, appName string) (lifecycle.Snapshot, error)
}

// HealthCheck probes one component for /healthz.
type HealthCheck func(ctx context.Context) error

// Dependencies are the collaborators of a Service. Locker, Events, Metrics
// and Checks are optional.
type Dependencies struct {
	Apps        repository.Apps
	Locker      lock.Locker
	Source      SourceFetcher
	Dockerfiles dockerfile.Generator
	Images      ImageBuilder
	Cluster     Bootstrapper
	Rollout     RolloutExecutor
	Lifecycle   Lifecycle
	Events      Publisher
	Metrics     *Metrics
	Checks      map[string]HealthCheck
}

// Config tunes the pipeline.
type Config struct {
	// ParallelBootstrap runs the image build and cluster bootstrap concurrently.
	ParallelBootstrap bool
	// Timeout bounds a background deploy started by Submit.
	Timeout time.Duration
}

// Request is a deploy request.
type Request struct {
	AppName   string `json:"app_name"`
	SourceRef string `json:"source_ref,omitempty"`
	Branch    string `json:"branch,omitempty"`
	AppPath   string `json:"app_path,omitempty"`
	AppType   string `json:"app_type,omitempty"`
	EnvVars   string `json:"env_vars,omitempty"`
}

// Result is a successful deploy.
type Result struct {
	App        domain.AppDeployment `json:"app"`
	URL        string               `json:"url"`
	Image      image.Result         `json:"image"`
	Dockerfile dockerfile.Result    `json:"dockerfile"`
	Rollout    rollout.Outcome      `json:"rollout"`
	Warnings   []string             `json:"warnings,omitempty"`
}

// FailureReport explains where and why a deploy stopped.
type FailureReport struct {
	Stage       Stage                   `json:"stage"`
	Message     string                  `json:"message"`
	Output      string                  `json:"output,omitempty"`
	Diagnostics []rollout.PodDiagnostic `json:"diagnostics,omitempty"`
	StatusDump  string                  `json:"status_dump,omitempty"`
	Warnings    []string                `json:"warnings,omitempty"`
}

// Error is a pipeline failure. It unwraps to the stage error.
type Error struct {
	Report FailureReport
	err    error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Report.Stage, e.err) }
func (e *Error) Unwrap() error { return e.err }

// ReportOf returns the failure report carried by err.
func ReportOf(err error) (FailureReport, bool) {
	var deployErr *Error
	if errors.As(err, &deployErr) {
		return deployErr.Report, true
	}
	return FailureReport{}, false
}

// Service orchestrates deploys.
type Service struct {
	apps        repository.Apps
	locker      lock.Locker
	source      SourceFetcher
	dockerfiles dockerfile.Generator
	images      ImageBuilder
	cluster     Bootstrapper
	rollout     RolloutExecutor
	lifecycle   Lifecycle
	events      Publisher
	metrics     *Metrics
	checks      map[string]HealthCheck

	cfg    Config
	logger *slog.Logger
	now    func() time.Time
	wg     sync.WaitGroup

	// base parents every background deploy; stop cancels it on shutdown.
	base context.Context
	stop context.CancelFunc
}

// New validates deps and returns a Service.
func New(deps Dependencies, cfg Config, logger *slog.Logger) (*Service, error) {
	switch {
	case deps.Apps == nil:
		return nil, errors.New("deploy: app registry required")
	case deps.Source == nil:
		return nil, errors.New("deploy: source fetcher required")
	case deps.Dockerfiles == nil:
		return nil, errors.New("deploy: dockerfile generator required")
	case deps.Images == nil:
		return nil, errors.New("deploy: image builder required")
	case deps.Cluster == nil:
		return nil, errors.New("deploy: cluster bootstrap required")
	case deps.Rollout == nil:
		return nil, errors.New("deploy: rollout executor required")
	case deps.Lifecycle == nil:
		return nil, errors.New("deploy: lifecycle manager required")
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewKeyed()
	}
	if deps.Events == nil {
		deps.Events = Publishers(nil)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	base, stop := context.WithCancel(context.Background())
	return &Service{
		apps:        deps.Apps,
		locker:      deps.Locker,
		source:      deps.Source,
		dockerfiles: deps.Dockerfiles,
		images:      deps.Images,
		cluster:     deps.Cluster,
		rollout:     deps.Rollout,
		lifecycle:   deps.Lifecycle,
		events:      deps.Events,
		metrics:     deps.Metrics,
		checks:      deps.Checks,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
		base:        base,
		stop:        stop,
	}, nil
}

// Deploy runs the pipeline and returns once the app is ready or has failed.
// Pipeline failures are *Error values carrying a FailureReport.
func (s *Service) Deploy(ctx context.Context, req Request) (Result, error) {
	name, err := s.admit(ctx, req)
	if err != nil {
		s.metrics.result("rejected")
		return Result{}, err
	}
	attempt := uuid.NewString()
	s.queued(name, attempt)
	return s.run(ctx, name, req, attempt)
}

// Submit validates req, starts the pipeline in the background and returns
// the pending record. The record is persisted once the attempt holds the
// app's lock.
func (s *Service) Submit(ctx context.Context, req Request) (domain.AppDeployment, error) {
	name, err := s.admit(ctx, req)
	if err != nil {
		s.metrics.result("rejected")
		return domain.AppDeployment{}, err
	}
	attempt := uuid.NewString()
	pending := s.newRecord(name, req, attempt)
	s.queued(name, attempt)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		runCtx, cancel := context.WithTimeout(s.base, s.cfg.Timeout)
		defer cancel()
		if _, err := s.run(runCtx, name, req, attempt); err != nil {
			s.logger.Warn("background deploy failed", "app", name, "attempt", attempt, "error", err)
		}
	}()
	return pending, nil
}

// Wait blocks until every background deploy has returned.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Shutdown waits for background deploys until ctx is done, then cancels the
// rest and gives them persistTimeout to record their failure. It returns
// ctx.Err() when deploys had to be cancelled.
func (s *Service) Shutdown(ctx context.Context) error {
	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		s.stop()
		return nil
	case <-ctx.Done():
	}
	s.logger.Warn("cancelling in-flight deploys")
	s.stop()
	select {
	case <-drained:
	case <-time.After(persistTimeout):
		s.logger.Error("deploys still running after cancellation")
	}
	return ctx.Err()
}

func (s *Service) admit(ctx context.Context, req Request) (string, error) {
	name, err := naming.Sanitize(req.AppName)
	if err != nil {
		return "", err
	}
	if err := naming.Validate(name); err != nil {
		return "", err
	}
	if strings.TrimSpace(req.SourceRef) == "" && strings.TrimSpace(req.AppPath) == "" {
		return "", fmt.Errorf("%w: source ref or app path required", domain.ErrInvalidArgument)
	}
	if _, _, err := s.lookup(ctx, name, req.AppName); err != nil {
		return "", err
	}
	return name, nil
}

// lookup loads the existing record for name and rejects it when it belongs
// to a different source name.
func (s *Service) lookup(ctx context.Context, name, sourceName string) (domain.AppDeployment, bool, error) {
	existing, err := s.apps.Get(ctx, name)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.AppDeployment{}, false, nil
	}
	if err != nil {
		return domain.AppDeployment{}, false, fmt.Errorf("load app %s: %w", name, err)
	}
	if existing.SourceName != "" && existing.SourceName != sourceName {
		return existing, true, fmt.Errorf("%w: %q and %q both map to %s", domain.ErrNameConflict, existing.SourceName, sourceName, name)
	}
	return existing, true, nil
}

func (s *Service) newRecord(name string, req Request, attempt string) domain.AppDeployment {
	ref := strings.TrimSpace(req.SourceRef)
	if ref == "" {
		ref = strings.TrimSpace(req.AppPath)
	}
	record := domain.AppDeployment{
		Name:       name,
		SourceName: req.AppName,
		SourceRef:  ref,
		Branch:     strings.TrimSpace(req.Branch),
		Namespace:  naming.NamespacePrefix + name,
		Status:     domain.StatusPending,
		AttemptID:  attempt,
	}
	if req.AppType != "" {
		record.DetectedType = domain.ParseAppType(req.AppType)
	}
	record.EnvironmentVariables = parseEnv(req.EnvVars)
	return repository.Normalize(record, s.now())
}

func (s *Service) queued(name, attempt string) {
	s.metrics.result("queued")
	s.events.Publish(Event{
		App:     name,
		Attempt: attempt,
		Stage:   StageQueued,
		Status:  domain.StatusPending,
		Message: "deploy queued",
		Time:    s.now().UTC(),
	})
}

func (s *Service) run(ctx context.Context, name string, req Request, attemptID string) (Result, error) {
	log := s.logger.With("app", name, "attempt", attemptID)

	release, err := s.locker.Lock(ctx, name)
	if err != nil {
		s.metrics.result("rejected")
		return Result{}, fmt.Errorf("acquire deploy lock for %s: %w", name, err)
	}
	defer release()

	// A concurrent deploy may have claimed the name while this one waited.
	existing, found, err := s.lookup(ctx, name, req.AppName)
	if err != nil {
		s.metrics.result("rejected")
		return Result{}, err
	}
	record := s.newRecord(name, req, attemptID)
	if found {
		record.CreatedAt = existing.CreatedAt
	}
	if err := s.apps.Upsert(ctx, record); err != nil {
		s.metrics.result("failed")
		return Result{}, fmt.Errorf("record deploy of %s: %w", name, err)
	}

	a := &attempt{svc: s, req: req, record: record, log: log}
	return a.execute(ctx)
}

// Get returns the registry record for app.
func (s *Service) Get(ctx context.Context, app string) (domain.AppDeployment, error) {
	name, err := naming.Sanitize(app)
	if err != nil {
		return domain.AppDeployment{}, err
	}
	return s.apps.Get(ctx, name)
}

// List returns every registry record.
func (s *Service) List(ctx context.Context) ([]domain.AppDeployment, error) {
	return s.apps.List(ctx)
}

// ClusterApps lists the app namespaces present in the cluster.
func (s *Service) ClusterApps(ctx context.Context) ([]lifecycle.Entry, error) {
	return s.lifecycle.List(ctx)
}

// Status returns a snapshot of app's namespace.
func (s *Service) Status(ctx context.Context, app string) (lifecycle.Snapshot, error) {
	return s.lifecycle.Status(ctx, app)
}

// Scale sets app's replica count.
func (s *Service) Scale(ctx context.Context, app string, replicas int32) (lifecycle.ScaleResult, error) {
	return s.lifecycle.Scale(ctx, app, replicas)
}

// Delete removes app's namespace and its registry record. A missing record
// is not an error.
func (s *Service) Delete(ctx context.Context, app string) error {
	name, err := naming.Sanitize(app)
	if err != nil {
		return err
	}
	release, err := s.locker.Lock(ctx, name)
	if err != nil {
		return fmt.Errorf("acquire deploy lock for %s: %w", name, err)
	}
	defer release()

	if err := s.lifecycle.Delete(ctx, name); err != nil {
		return err
	}
	if err := s.apps.Delete(ctx, name); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("remove registry record for %s: %w", name, err)
	}
	s.logger.Info("app deleted", "app", name)
	return nil
}

// Preview renders the manifests a deploy of app would apply. appType and
// imageTag override what the registry knows about the app.
func (s *Service) Preview(ctx context.Context, app, appType, imageTag string) (manifest.Set, error) {
	name, err := naming.Sanitize(app)
	if err != nil {
		return manifest.Set{}, err
	}
	in := manifest.Input{AppName: name, SourceName: app, ImageTag: imageTag, AppType: domain.AppTypeUnknown}
	record, err := s.apps.Get(ctx, name)
	switch {
	case err == nil:
		in.SourceName = record.SourceName
		in.AppType = record.DetectedType
		in.Env = record.EnvironmentVariables
		in.Revision = record.AttemptID
		if in.ImageTag == "" {
			in.ImageTag = record.ImageTag
		}
	case !errors.Is(err, repository.ErrNotFound):
		return manifest.Set{}, fmt.Errorf("load app %s: %w", name, err)
	}
	if appType != "" {
		in.AppType = domain.ParseAppType(appType)
	}
	if in.ImageTag == "" {
		in.ImageTag = s.images.Tag(name)
	}
	return manifest.Synthesize(in)
}

// Health runs every configured check. A nil entry means healthy.
func (s *Service) Health(ctx context.Context) map[string]error {
	out := make(map[string]error, len(s.checks))
	for name, check := range s.checks {
		out[name] = check(ctx)
	}
	return out
}
