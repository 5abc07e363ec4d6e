// Package dockerfile creates a Dockerfile for sources that ship without one.
package dockerfile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/splax/kubehost/internal/domain"
)

// ErrUnsupportedType indicates no Dockerfile can be produced for the app type.
var ErrUnsupportedType = errors.New("dockerfile: unsupported app type")

// Input describes the app a Dockerfile is generated for.
type Input struct {
	AppType domain.AppType
	Dir     string
	// PortHints are env entries whose key mentions PORT.
	PortHints map[string]string
}

// Generator renders Dockerfile content.
type Generator interface {
	Name() string
	Generate(ctx context.Context, in Input) (string, error)
}

// Result reports what Ensure did.
type Result struct {
	Path      string
	Generated bool
	Generator string
}

// Ensure writes <dir>/Dockerfile with g unless one already exists. The
// existing-file check is case-insensitive.
func Ensure(ctx context.Context, g Generator, in Input) (Result, error) {
	existing, err := find(in.Dir)
	if err != nil {
		return Result{}, err
	}
	if existing != "" {
		return Result{Path: existing}, nil
	}
	content, err := g.Generate(ctx, in)
	if err != nil {
		return Result{}, fmt.Errorf("generate dockerfile with %s: %w", g.Name(), err)
	}
	path := filepath.Join(in.Dir, "Dockerfile")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return Result{}, fmt.Errorf("write dockerfile: %w", err)
	}
	return Result{Path: path, Generated: true, Generator: g.Name()}, nil
}

func find(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read app directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(entry.Name(), "dockerfile") {
			return filepath.Join(dir, entry.Name()), nil
		}
	}
	return "", nil
}

// Fallback tries Primary and, when it fails, Secondary.
type Fallback struct {
	Primary   Generator
	Secondary Generator
	Logger    *slog.Logger
}

func (f Fallback) Name() string {
	return f.Primary.Name() + "+" + f.Secondary.Name()
}

func (f Fallback) Generate(ctx context.Context, in Input) (string, error) {
	content, err := f.Primary.Generate(ctx, in)
	if err == nil {
		return content, nil
	}
	if ctx.Err() != nil {
		return "", err
	}
	if f.Logger != nil {
		f.Logger.Warn("dockerfile generator failed, using fallback", "generator", f.Primary.Name(), "fallback", f.Secondary.Name(), "error", err)
	}
	return f.Secondary.Generate(ctx, in)
}

// Options select a generator.
type Options struct {
	// Mode is template, llm or auto. Auto uses the LLM when an API key is set.
	Mode    string
	BaseURL string
	APIKey  string
	Model   string
	Logger  *slog.Logger
}

// New builds the generator named by opts.Mode.
func New(opts Options) (Generator, error) {
	tmpl := Template{}
	switch strings.ToLower(strings.TrimSpace(opts.Mode)) {
	case "", "auto":
		if strings.TrimSpace(opts.APIKey) == "" {
			return tmpl, nil
		}
		llm, err := NewLLM(opts.BaseURL, opts.APIKey, opts.Model, nil)
		if err != nil {
			return nil, err
		}
		return Fallback{Primary: llm, Secondary: tmpl, Logger: opts.Logger}, nil
	case "template":
		return tmpl, nil
	case "llm":
		return NewLLM(opts.BaseURL, opts.APIKey, opts.Model, nil)
	default:
		return nil, fmt.Errorf("%w: unknown dockerfile generator %q", domain.ErrInvalidArgument, opts.Mode)
	}
}
