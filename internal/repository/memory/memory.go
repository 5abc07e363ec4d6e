// Package memory is an in-process app registry used by tests and --store memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/splax/kubehost/internal/domain"
	"github.com/splax/kubehost/internal/repository"
)

// Repository keeps records in a map.
type Repository struct {
	mu   sync.RWMutex
	apps map[string]domain.AppDeployment
	now  func() time.Time
}

var _ repository.Apps = (*Repository)(nil)

// New returns an empty Repository.
func New() *Repository {
	return &Repository{apps: make(map[string]domain.AppDeployment), now: time.Now}
}

func (r *Repository) Get(_ context.Context, name string) (domain.AppDeployment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	app, ok := r.apps[name]
	if !ok {
		return domain.AppDeployment{}, fmt.Errorf("app %q: %w", name, repository.ErrNotFound)
	}
	return clone(app), nil
}

func (r *Repository) List(_ context.Context) ([]domain.AppDeployment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.AppDeployment, 0, len(r.apps))
	for _, app := range r.apps {
		out = append(out, clone(app))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *Repository) Upsert(_ context.Context, app domain.AppDeployment) error {
	if app.Name == "" {
		return fmt.Errorf("%w: app name is required", domain.ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	app = repository.Normalize(app, r.now())
	if existing, ok := r.apps[app.Name]; ok {
		app.CreatedAt = existing.CreatedAt
	}
	r.apps[app.Name] = clone(app)
	return nil
}

func (r *Repository) Delete(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.apps[name]; !ok {
		return fmt.Errorf("app %q: %w", name, repository.ErrNotFound)
	}
	delete(r.apps, name)
	return nil
}

func clone(app domain.AppDeployment) domain.AppDeployment {
	if app.EnvironmentVariables != nil {
		app.EnvironmentVariables = append([]domain.EnvVar(nil), app.EnvironmentVariables...)
	}
	return app
}
