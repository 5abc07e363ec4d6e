// Package image produces a tagged container image inside the development
// cluster's image store, falling back across build and transfer strategies.
package image

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/splax/kubehost/internal/cluster"
	"github.com/splax/kubehost/internal/docker"
	"github.com/splax/kubehost/internal/domain"
)

// Engine is the subset of a Docker daemon client the builder needs.
type Engine interface {
	Ping(ctx context.Context) error
	BuildImage(ctx context.Context, dir, tag string, onOutput docker.BuildOutputCallback) error
	ImageExists(ctx context.Context, tag string) (bool, error)
	Close() error
}

// DaemonDialer connects to a daemon described by docker-env style variables.
type DaemonDialer func(env map[string]string) (Engine, error)

// DialDocker is the DaemonDialer backed by the Docker SDK.
func DialDocker(env map[string]string) (Engine, error) {
	return docker.NewFromEnv(env)
}

// Config tunes the builder.
type Config struct {
	// Repository prefixes image tags, e.g. gitdeploy/<app>:latest.
	Repository      string
	BuildTimeout    time.Duration
	LivenessTimeout time.Duration
}

// Result describes where the image ended up.
type Result struct {
	ImageTag          string    `json:"image_tag"`
	BuiltLocally      bool      `json:"built_locally"`
	LoadedIntoCluster bool      `json:"loaded_into_cluster"`
	Strategy          string    `json:"strategy,omitempty"`
	Warnings          []string  `json:"warnings,omitempty"`
	Attempts          []Attempt `json:"attempts,omitempty"`
}

// NeedsLoad reports whether the image still has to be transferred after bootstrap.
func (r Result) NeedsLoad() bool {
	return r.BuiltLocally && !r.LoadedIntoCluster
}

// Attempt records one strategy run.
type Attempt struct {
	Strategy string  `json:"strategy"`
	Outcome  Outcome `json:"-"`
	Result   string  `json:"outcome"`
	Error    string  `json:"error,omitempty"`
}

// Error is a build failure carrying the collected build output.
type Error struct {
	Output   string
	Attempts []Attempt
	err      error
}

func (e *Error) Error() string { return e.err.Error() }
func (e *Error) Unwrap() error { return e.err }

// OutputOf returns the build output attached to err, if any.
func OutputOf(err error) string {
	var buildErr *Error
	if errors.As(err, &buildErr) {
		return buildErr.Output
	}
	return ""
}

// Builder runs the strategies in order until the image is placed.
type Builder struct {
	host       Engine
	provider   cluster.Provider
	cfg        Config
	logger     *slog.Logger
	strategies []strategy
}

// NewBuilder wires a builder. host may be nil when no local daemon is configured;
// dial may be nil to disable the cluster-daemon strategy.
func NewBuilder(host Engine, provider cluster.Provider, dial DaemonDialer, cfg Config, logger *slog.Logger) *Builder {
	if strings.TrimSpace(cfg.Repository) == "" {
		cfg.Repository = "gitdeploy"
	}
	if cfg.BuildTimeout <= 0 {
		cfg.BuildTimeout = 600 * time.Second
	}
	if cfg.LivenessTimeout <= 0 {
		cfg.LivenessTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		host:     host,
		provider: provider,
		cfg:      cfg,
		logger:   logger,
		strategies: []strategy{
			hostEngine{engine: host},
			clusterLoad{provider: provider},
			clusterDaemon{provider: provider, dial: dial},
			clusterNative{provider: provider},
		},
	}
}

// Tag returns the image tag used for appName.
func (b *Builder) Tag(appName string) string {
	return fmt.Sprintf("%s/%s:latest", strings.TrimSuffix(b.cfg.Repository, "/"), appName)
}

// BuildOption customises a single Build call.
type BuildOption func(*buildOptions)

type buildOptions struct {
	onOutput func(string)
}

// WithOutput streams build output lines to fn as they arrive.
func WithOutput(fn func(string)) BuildOption {
	return func(o *buildOptions) { o.onOutput = fn }
}

// Build produces appName's image from the Dockerfile in appPath.
func (b *Builder) Build(ctx context.Context, appName, appPath string, opts ...BuildOption) (Result, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}
	st := &state{
		tag:       b.Tag(appName),
		dir:       appPath,
		clusterUp: b.clusterLive(ctx),
		log:       docker.NewBuildLog(docker.DefaultBuildLogSize, o.onOutput),
	}
	log := b.logger.With("app", appName, "tag", st.tag)
	if !st.clusterUp {
		log.Info("cluster not running; image load deferred until after bootstrap")
	}

	buildCtx, cancel := context.WithTimeout(ctx, b.cfg.BuildTimeout)
	defer cancel()

	var attempts []Attempt
	var errs []error
	for _, s := range b.strategies {
		started := time.Now()
		outcome, err := s.Run(buildCtx, st)
		attempt := Attempt{Strategy: s.Name(), Outcome: outcome, Result: outcome.String()}
		if err != nil {
			attempt.Error = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
		attempts = append(attempts, attempt)
		log.Debug("image strategy finished", "strategy", s.Name(), "outcome", outcome.String(), "duration", time.Since(started), "error", err)

		if buildCtx.Err() != nil {
			return Result{}, b.fail(st, attempts, fmt.Errorf("build timed out after %s: %w", b.cfg.BuildTimeout, buildCtx.Err()))
		}
		if outcome == Fatal {
			return Result{}, b.fail(st, attempts, err)
		}
		if outcome == Succeeded && st.placedBy == "" && st.placed() {
			st.placedBy = s.Name()
		}
		if st.placed() {
			break
		}
	}

	if !st.placed() && !st.builtLocally {
		return Result{}, b.fail(st, attempts, errors.Join(errs...))
	}

	res := Result{
		ImageTag:          st.tag,
		BuiltLocally:      st.builtLocally,
		LoadedIntoCluster: st.loaded,
		Strategy:          st.placedBy,
		Warnings:          st.warnings,
		Attempts:          attempts,
	}
	if !st.placed() {
		// Built on the host but nothing could move it into the running cluster.
		res.Strategy = StrategyHostEngine
		if len(res.Warnings) == 0 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: image not loaded into cluster", domain.ErrImageTransferFailed))
		}
	}
	res.Warnings = append(res.Warnings, b.validate(ctx, res)...)
	log.Info("image ready", "strategy", res.Strategy, "built_locally", res.BuiltLocally, "loaded", res.LoadedIntoCluster)
	return res, nil
}

// LoadDeferred transfers a host-built image once the cluster is up. Failures
// wrap domain.ErrImageTransferFailed and are also recorded as a warning on the result.
func (b *Builder) LoadDeferred(ctx context.Context, res Result) (Result, error) {
	if !res.NeedsLoad() {
		return res, nil
	}
	if err := b.provider.LoadImage(ctx, res.ImageTag); err != nil {
		res.Warnings = append(res.Warnings, transferWarning(err))
		return res, fmt.Errorf("%w: %w", domain.ErrImageTransferFailed, err)
	}
	res.LoadedIntoCluster = true
	res.Strategy = StrategyClusterLoad
	res.Warnings = append(res.Warnings, b.validate(ctx, res)...)
	return res, nil
}

func (b *Builder) clusterLive(ctx context.Context) bool {
	if b.provider == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, b.cfg.LivenessTimeout)
	defer cancel()
	up, err := b.provider.Running(ctx)
	if err != nil {
		b.logger.Warn("cluster liveness check failed", "provider", b.provider.Name(), "error", err)
		return false
	}
	return up
}

// validate confirms the tag exists where it was placed. A miss is a warning only.
func (b *Builder) validate(ctx context.Context, res Result) []string {
	var (
		ok    bool
		err   error
		where string
	)
	switch {
	case res.LoadedIntoCluster:
		where = "cluster image store"
		ok, err = b.provider.ImageExists(ctx, res.ImageTag)
	case res.BuiltLocally && b.host != nil:
		where = "host docker daemon"
		ok, err = b.host.ImageExists(ctx, res.ImageTag)
	default:
		return nil
	}
	if err != nil {
		return []string{fmt.Sprintf("could not verify %s in %s: %v", res.ImageTag, where, err)}
	}
	if !ok {
		return []string{fmt.Sprintf("image %s not found in %s after build", res.ImageTag, where)}
	}
	return nil
}

func (b *Builder) fail(st *state, attempts []Attempt, cause error) error {
	if cause == nil {
		cause = errors.New("no strategy produced an image")
	}
	return &Error{
		Output:   st.log.String(),
		Attempts: attempts,
		err:      fmt.Errorf("%w: %s: %w", domain.ErrBuildFailed, st.tag, cause),
	}
}

func transferWarning(err error) string {
	return fmt.Sprintf("%s: %v", domain.ErrImageTransferFailed, err)
}

func addLines(log *docker.BuildLog, out string) {
	for _, line := range strings.Split(out, "\n") {
		log.Add(strings.TrimRight(line, "\r"))
	}
}
