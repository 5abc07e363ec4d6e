package source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/splax/kubehost/internal/domain"
	"github.com/splax/kubehost/internal/run/runtest"
	"github.com/splax/kubehost/internal/workspace"
)

func newFetcher(t *testing.T, runner *runtest.Fake) (*Fetcher, *workspace.Manager) {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	return NewFetcher(runner, ws, 0, slog.New(slog.NewTextHandler(io.Discard, nil))), ws
}

func TestFetchClonesBranchShallow(t *testing.T) {
	runner := runtest.New()
	f, ws := newFetcher(t, runner)

	co, err := f.Fetch(context.Background(), Request{App: "demo", Attempt: "a1", Ref: "https://example.com/demo.git", Branch: "dev"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	cmd, ok := runner.Last("git clone")
	if !ok {
		t.Fatalf("expected git clone, calls=%v", runner.Calls())
	}
	if cmd.String() != "git clone --depth 1 -b dev https://example.com/demo.git ." {
		t.Fatalf("unexpected clone command %q", cmd.String())
	}
	if cmd.Env["GIT_TERMINAL_PROMPT"] != "0" {
		t.Fatalf("expected prompts disabled, env=%v", cmd.Env)
	}
	want := filepath.Join(ws.Root(), "demo", "a1")
	if cmd.Dir != want || co.Dir != want || !co.Cloned {
		t.Fatalf("unexpected checkout %+v (cmd dir %s)", co, cmd.Dir)
	}
	if err := f.Release(co); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(want); !os.IsNotExist(err) {
		t.Fatalf("expected clone removed")
	}
}

func TestFetchWithoutBranchOmitsFlag(t *testing.T) {
	runner := runtest.New()
	f, _ := newFetcher(t, runner)
	if _, err := f.Fetch(context.Background(), Request{App: "demo", Attempt: "a1", Ref: "git@example.com:demo.git"}); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !runner.Called("git clone --depth 1 git@example.com:demo.git .") {
		t.Fatalf("unexpected calls %v", runner.Calls())
	}
}

func TestFetchCloneFailure(t *testing.T) {
	runner := runtest.New().Fail("git clone", "fatal: repository not found")
	f, ws := newFetcher(t, runner)
	_, err := f.Fetch(context.Background(), Request{App: "demo", Attempt: "a1", Ref: "https://example.com/missing.git"})
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(ws.Root(), "demo", "a1")); !os.IsNotExist(statErr) {
		t.Fatalf("expected failed clone cleaned up")
	}
}

func TestFetchMissingSubdir(t *testing.T) {
	f, _ := newFetcher(t, runtest.New())
	_, err := f.Fetch(context.Background(), Request{App: "demo", Attempt: "a1", Ref: "https://example.com/demo.git", Path: "services/web"})
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected missing path error, got %v", err)
	}
	_, err = f.Fetch(context.Background(), Request{App: "demo", Attempt: "a2", Ref: "https://example.com/demo.git", Path: "../outside"})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected escape rejected, got %v", err)
	}
}

func TestFetchLocalPath(t *testing.T) {
	runner := runtest.New()
	f, _ := newFetcher(t, runner)
	dir := t.TempDir()

	co, err := f.Fetch(context.Background(), Request{App: "demo", Attempt: "a1", Path: dir})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if co.Dir != dir || co.Cloned {
		t.Fatalf("unexpected checkout %+v", co)
	}
	if len(runner.Calls()) != 0 {
		t.Fatalf("expected no commands, got %v", runner.Calls())
	}
	if err := f.Release(co); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("local source must survive release: %v", err)
	}

	if _, err := f.Fetch(context.Background(), Request{App: "demo", Attempt: "a1"}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument without ref or path, got %v", err)
	}
}
