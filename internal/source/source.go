// Package source materializes app source code: a shallow git clone into a
// fresh workspace, or an existing local directory.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/splax/kubehost/internal/domain"
	"github.com/splax/kubehost/internal/run"
	"github.com/splax/kubehost/internal/workspace"
)

// ErrSourceUnavailable indicates the source could not be cloned or located.
var ErrSourceUnavailable = errors.New("source unavailable")

// Request names where the code lives. With Ref set, Path is a subdirectory of
// the clone; without it, Path is a local directory used in place.
type Request struct {
	App     string
	Attempt string
	Ref     string
	Branch  string
	Path    string
}

// Checkout is a materialized source tree.
type Checkout struct {
	// Dir is the app directory, the build context.
	Dir string
	// Root is the workspace directory when the source was cloned.
	Root   string
	Cloned bool
}

// Fetcher clones git sources with the git CLI.
type Fetcher struct {
	runner    run.Runner
	workspace *workspace.Manager
	timeout   time.Duration
	logger    *slog.Logger
}

// NewFetcher returns a Fetcher; a non-positive timeout means 60s.
func NewFetcher(runner run.Runner, ws *workspace.Manager, timeout time.Duration, logger *slog.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{runner: runner, workspace: ws, timeout: timeout, logger: logger}
}

// Fetch materializes req.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (Checkout, error) {
	ref := strings.TrimSpace(req.Ref)
	if ref == "" {
		return f.local(req.Path)
	}
	if info, err := os.Stat(ref); err == nil && info.IsDir() && !isRemote(ref) {
		// A ref naming a local directory is used in place.
		return f.local(filepath.Join(ref, req.Path))
	}

	dest, err := f.workspace.Prepare(req.App, req.Attempt)
	if err != nil {
		return Checkout{}, err
	}
	args := []string{"clone", "--depth", "1"}
	if branch := strings.TrimSpace(req.Branch); branch != "" {
		args = append(args, "-b", branch)
	}
	args = append(args, ref, ".")

	cloneCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	started := time.Now()
	_, err = f.runner.Run(cloneCtx, run.Command{
		Name: "git",
		Args: args,
		Dir:  dest,
		Env:  map[string]string{"GIT_TERMINAL_PROMPT": "0"},
	})
	if err != nil {
		_ = f.workspace.Cleanup(dest)
		return Checkout{}, fmt.Errorf("%w: git clone %s: %w", ErrSourceUnavailable, ref, err)
	}
	f.logger.Info("source cloned", "app", req.App, "ref", ref, "branch", req.Branch, "duration", time.Since(started))

	dir, err := subdir(dest, req.Path)
	if err != nil {
		return Checkout{}, err
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return Checkout{}, fmt.Errorf("%w: path %q not found in %s", ErrSourceUnavailable, req.Path, ref)
	}
	return Checkout{Dir: dir, Root: dest, Cloned: true}, nil
}

// Release removes the clone of a checkout. Local checkouts are left alone.
func (f *Fetcher) Release(c Checkout) error {
	if !c.Cloned || c.Root == "" {
		return nil
	}
	return f.workspace.Cleanup(c.Root)
}

func (f *Fetcher) local(path string) (Checkout, error) {
	if strings.TrimSpace(path) == "" {
		return Checkout{}, fmt.Errorf("%w: a source ref or a local path is required", domain.ErrInvalidArgument)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return Checkout{}, fmt.Errorf("resolve %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return Checkout{}, fmt.Errorf("%w: %s is not a directory", ErrSourceUnavailable, abs)
	}
	return Checkout{Dir: abs}, nil
}

func subdir(root, rel string) (string, error) {
	rel = strings.TrimSpace(rel)
	if rel == "" || rel == "." {
		return root, nil
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: app path %q must be relative to the repository", domain.ErrInvalidArgument, rel)
	}
	dir := filepath.Join(root, rel)
	if r, err := filepath.Rel(root, dir); err != nil || strings.HasPrefix(r, "..") {
		return "", fmt.Errorf("%w: app path %q escapes the repository", domain.ErrInvalidArgument, rel)
	}
	return dir, nil
}

func isRemote(ref string) bool {
	return strings.Contains(ref, "://") || strings.HasPrefix(ref, "git@")
}
