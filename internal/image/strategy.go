package image

import (
	"context"
	"errors"
	"fmt"

	"github.com/splax/kubehost/internal/cluster"
	"github.com/splax/kubehost/internal/docker"
)

// Outcome is the verdict of one strategy attempt.
type Outcome int

const (
	Succeeded Outcome = iota
	Skipped
	Recoverable
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Skipped:
		return "skipped"
	case Recoverable:
		return "recoverable"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Strategy names, in the order the builder tries them.
const (
	StrategyHostEngine    = "host-engine"
	StrategyClusterLoad   = "cluster-load"
	StrategyClusterDaemon = "cluster-daemon"
	StrategyClusterNative = "cluster-native"
)

// strategy is one way of getting an image into the cluster's image store.
type strategy interface {
	Name() string
	Run(ctx context.Context, st *state) (Outcome, error)
}

// state is shared by the strategies of one Build call.
type state struct {
	tag       string
	dir       string
	clusterUp bool

	builtLocally bool
	loaded       bool
	placedBy     string

	log      *docker.BuildLog
	warnings []string
}

// placed reports whether the image is where the rollout needs it.
func (s *state) placed() bool {
	return s.loaded || (s.builtLocally && !s.clusterUp)
}

type hostEngine struct {
	engine Engine
}

func (hostEngine) Name() string { return StrategyHostEngine }

func (h hostEngine) Run(ctx context.Context, st *state) (Outcome, error) {
	if h.engine == nil {
		return Skipped, nil
	}
	if err := h.engine.Ping(ctx); err != nil {
		return Recoverable, err
	}
	if err := h.engine.BuildImage(ctx, st.dir, st.tag, st.log.Add); err != nil {
		return classifyBuildErr(err), err
	}
	st.builtLocally = true
	return Succeeded, nil
}

type clusterLoad struct {
	provider cluster.Provider
}

func (clusterLoad) Name() string { return StrategyClusterLoad }

func (c clusterLoad) Run(ctx context.Context, st *state) (Outcome, error) {
	if !st.builtLocally || !st.clusterUp {
		return Skipped, nil
	}
	if err := c.provider.LoadImage(ctx, st.tag); err != nil {
		st.warnings = append(st.warnings, transferWarning(err))
		return Recoverable, err
	}
	st.loaded = true
	return Succeeded, nil
}

type clusterDaemon struct {
	provider cluster.Provider
	dial     DaemonDialer
}

func (clusterDaemon) Name() string { return StrategyClusterDaemon }

func (c clusterDaemon) Run(ctx context.Context, st *state) (Outcome, error) {
	if !st.clusterUp || c.dial == nil {
		return Skipped, nil
	}
	env, err := c.provider.DockerEnv(ctx)
	if err != nil {
		if errors.Is(err, cluster.ErrUnsupported) {
			return Skipped, nil
		}
		return Recoverable, err
	}
	engine, err := c.dial(env)
	if err != nil {
		return Recoverable, err
	}
	defer engine.Close()
	if err := engine.Ping(ctx); err != nil {
		return Recoverable, err
	}
	if err := engine.BuildImage(ctx, st.dir, st.tag, st.log.Add); err != nil {
		return classifyBuildErr(err), err
	}
	st.loaded = true
	return Succeeded, nil
}

type clusterNative struct {
	provider cluster.Provider
}

func (clusterNative) Name() string { return StrategyClusterNative }

func (c clusterNative) Run(ctx context.Context, st *state) (Outcome, error) {
	if !st.clusterUp {
		return Skipped, nil
	}
	out, err := c.provider.NativeBuild(ctx, st.tag, st.dir)
	addLines(st.log, out)
	if err != nil {
		if errors.Is(err, cluster.ErrUnsupported) {
			return Skipped, nil
		}
		return Recoverable, err
	}
	st.loaded = true
	return Succeeded, nil
}

// classifyBuildErr separates Dockerfile failures, which no other daemon will fix,
// from connection trouble a different strategy might get around.
func classifyBuildErr(err error) Outcome {
	if errors.Is(err, docker.ErrBuildStep) {
		return Fatal
	}
	return Recoverable
}
