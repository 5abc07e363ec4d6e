package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/splax/kubehost/internal/dockerfile"
	"github.com/splax/kubehost/internal/domain"
	"github.com/splax/kubehost/internal/envfile"
	"github.com/splax/kubehost/internal/image"
	"github.com/splax/kubehost/internal/manifest"
	"github.com/splax/kubehost/internal/naming"
	"github.com/splax/kubehost/internal/run"
	"github.com/splax/kubehost/internal/source"
)

const persistTimeout = 10 * time.Second

// attempt is one run of the pipeline for one app.
type attempt struct {
	svc    *Service
	req    Request
	record domain.AppDeployment
	log    *slog.Logger
	result Result
}

func (a *attempt) execute(ctx context.Context) (Result, error) {
	s := a.svc
	a.transition(ctx, domain.StatusBuilding)

	var checkout source.Checkout
	err := a.stage(StageSource, "fetching source", func() error {
		var err error
		checkout, err = s.source.Fetch(ctx, source.Request{
			App:     a.record.Name,
			Attempt: a.record.AttemptID,
			Ref:     a.req.SourceRef,
			Branch:  a.req.Branch,
			Path:    a.req.AppPath,
		})
		return err
	})
	if err != nil {
		return Result{}, a.fail(ctx, StageSource, err)
	}
	defer func() {
		if err := s.source.Release(checkout); err != nil {
			a.log.Warn("failed to release source checkout", "dir", checkout.Root, "error", err)
		}
	}()

	appType := source.ResolveType(a.req.AppType, checkout.Dir)
	a.record.DetectedType = appType
	a.emit(StageDetect, fmt.Sprintf("detected app type %s", appType))

	err = a.stage(StageDockerfile, "preparing Dockerfile", func() error {
		res, err := dockerfile.Ensure(ctx, s.dockerfiles, dockerfile.Input{
			AppType:   appType,
			Dir:       checkout.Dir,
			PortHints: envfile.PortHints(a.record.EnvironmentVariables),
		})
		a.result.Dockerfile = res
		return err
	})
	if err != nil {
		return Result{}, a.fail(ctx, StageDockerfile, err)
	}
	if a.result.Dockerfile.Generated {
		a.log.Info("generated Dockerfile", "generator", a.result.Dockerfile.Generator)
	}

	img, failedAt, err := a.buildAndBootstrap(ctx, checkout.Dir)
	if err != nil {
		return Result{}, a.fail(ctx, failedAt, err)
	}
	if img.NeedsLoad() {
		start := time.Now()
		a.emit(StageLoad, "loading image into cluster")
		loaded, err := s.images.LoadDeferred(ctx, img)
		if err != nil {
			a.log.Warn("deferred image load failed", "image", img.ImageTag, "error", err)
		}
		img = loaded
		s.metrics.stage(StageLoad, time.Since(start))
	}
	a.result.Image = img
	a.result.Warnings = append(a.result.Warnings, img.Warnings...)
	a.record.ImageTag = img.ImageTag

	a.transition(ctx, domain.StatusDeploying)
	var set manifest.Set
	err = a.stage(StageSynthesize, "synthesizing manifests", func() error {
		var err error
		set, err = manifest.Synthesize(manifest.Input{
			AppName:    a.record.Name,
			SourceName: a.record.SourceName,
			ImageTag:   img.ImageTag,
			AppType:    appType,
			AppPath:    checkout.Dir,
			Env:        a.record.EnvironmentVariables,
			Revision:   a.record.AttemptID,
		})
		return err
	})
	if err != nil {
		return Result{}, a.fail(ctx, StageSynthesize, err)
	}

	err = a.stage(StageRollout, fmt.Sprintf("applying %d resources to %s", len(set.Items), set.Namespace), func() error {
		out, err := s.rollout.Rollout(ctx, set)
		a.result.Rollout = out
		a.result.Warnings = append(a.result.Warnings, out.Warnings...)
		return err
	})
	if err != nil {
		return Result{}, a.fail(ctx, StageRollout, err)
	}

	url := naming.URL(a.record.Name)
	a.record.Status = domain.StatusReady
	a.record.URL = url
	a.record.LastError = ""
	a.persist(ctx)

	a.result.App = a.record
	a.result.URL = url
	a.publish(Event{Stage: StageReady, Message: "deployed", URL: url})
	s.metrics.result("ready")
	a.log.Info("deploy ready", "url", url, "warnings", len(a.result.Warnings))
	return a.result, nil
}

// buildAndBootstrap produces the image and brings the cluster up, either in
// sequence or concurrently. The returned stage names the step that failed.
func (a *attempt) buildAndBootstrap(ctx context.Context, dir string) (image.Result, Stage, error) {
	s := a.svc
	build := func(ctx context.Context) (image.Result, error) {
		var img image.Result
		err := a.stage(StageBuild, "building image", func() error {
			var err error
			img, err = s.images.Build(ctx, a.record.Name, dir, image.WithOutput(a.buildLine))
			return err
		})
		return img, err
	}
	bootstrap := func(ctx context.Context) error {
		return a.stage(StageBootstrap, "ensuring cluster is ready", func() error {
			return s.cluster.EnsureReady(ctx)
		})
	}

	if !s.cfg.ParallelBootstrap {
		img, err := build(ctx)
		if err != nil {
			return image.Result{}, StageBuild, err
		}
		if err := bootstrap(ctx); err != nil {
			return image.Result{}, StageBootstrap, err
		}
		return img, "", nil
	}

	var (
		mu    sync.Mutex
		first Stage
		img   image.Result
	)
	mark := func(stage Stage, err error) error {
		if err != nil {
			mu.Lock()
			if first == "" {
				first = stage
			}
			mu.Unlock()
		}
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		img, err = build(gctx)
		return mark(StageBuild, err)
	})
	g.Go(func() error {
		return mark(StageBootstrap, bootstrap(gctx))
	})
	if err := g.Wait(); err != nil {
		return image.Result{}, first, err
	}
	return img, "", nil
}

// stage runs fn as the named step, emitting its start and timing it.
func (a *attempt) stage(stage Stage, message string, fn func() error) error {
	a.emit(stage, message)
	start := time.Now()
	err := fn()
	a.svc.metrics.stage(stage, time.Since(start))
	if err != nil {
		a.log.Error("deploy stage failed", "stage", stage, "error", err)
		return err
	}
	a.log.Debug("deploy stage finished", "stage", stage, "duration", time.Since(start))
	return nil
}

func (a *attempt) buildLine(line string) {
	a.publish(Event{Stage: StageBuild, Log: line})
}

func (a *attempt) emit(stage Stage, message string) {
	a.publish(Event{Stage: stage, Message: message})
}

func (a *attempt) publish(e Event) {
	e.App = a.record.Name
	e.Attempt = a.record.AttemptID
	if e.Status == "" {
		e.Status = a.record.Status
	}
	e.Time = a.svc.now().UTC()
	a.svc.events.Publish(e)
}

func (a *attempt) transition(ctx context.Context, status domain.DeployStatus) {
	a.record.Status = status
	a.persist(ctx)
}

// persist writes the record. It survives a cancelled ctx so that a caller
// timeout still leaves the final status behind.
func (a *attempt) persist(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	a.record.UpdatedAt = a.svc.now()
	if err := a.svc.apps.Upsert(ctx, a.record); err != nil {
		a.log.Warn("failed to record deploy status", "status", a.record.Status, "error", err)
	}
}

func (a *attempt) fail(ctx context.Context, stage Stage, err error) error {
	report := FailureReport{
		Stage:    stage,
		Message:  err.Error(),
		Output:   outputOf(err),
		Warnings: a.result.Warnings,
	}
	if stage == StageRollout {
		report.Diagnostics = a.result.Rollout.Diagnostics
		report.StatusDump = a.result.Rollout.StatusDump
	}

	a.record.Status = domain.StatusFailed
	a.record.LastError = report.Message
	a.persist(ctx)

	a.publish(Event{Stage: StageFailed, Message: report.Message, Failure: &report})
	a.svc.metrics.result("failed")
	return &Error{Report: report, err: err}
}

func outputOf(err error) string {
	if out := image.OutputOf(err); out != "" {
		return out
	}
	return run.OutputOf(err)
}

func parseEnv(raw string) []domain.EnvVar {
	return envfile.ParseDotenv(raw)
}

