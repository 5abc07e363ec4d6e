// Package repotest provides contract tests for [repository.Apps] implementations.
package repotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/splax/kubehost/internal/domain"
	"github.com/splax/kubehost/internal/repository"
)

// Factory creates a fresh [repository.Apps] for each test.
type Factory func(t *testing.T) repository.Apps

// Run exercises the [repository.Apps] contract.
func Run(t *testing.T, factory Factory) {
	sample := func(name string) domain.AppDeployment {
		created := time.Date(2026, 3, 1, 12, 0, 0, 123456000, time.UTC)
		return domain.AppDeployment{
			Name:         name,
			SourceName:   "My " + name,
			SourceRef:    "https://example.com/" + name + ".git",
			Branch:       "main",
			DetectedType: domain.AppTypeNodeJS,
			ImageTag:     "gitdeploy/" + name + ":latest",
			Namespace:    "app-" + name,
			Status:       domain.StatusPending,
			EnvironmentVariables: []domain.EnvVar{
				{Name: "PORT", Value: "3000"},
				{Name: "GREETING", Value: "hello world"},
			},
			AttemptID: "attempt-1",
			CreatedAt: created,
			UpdatedAt: created,
		}
	}

	t.Run("UpsertAndGet", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		app := sample("web")

		if err := repo.Upsert(ctx, app); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		got, err := repo.Get(ctx, "web")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.SourceName != app.SourceName || got.SourceRef != app.SourceRef || got.Branch != "main" {
			t.Errorf("source fields = %q %q %q", got.SourceName, got.SourceRef, got.Branch)
		}
		if got.DetectedType != domain.AppTypeNodeJS || got.Status != domain.StatusPending {
			t.Errorf("type/status = %q/%q", got.DetectedType, got.Status)
		}
		if got.Namespace != "app-web" || got.ImageTag != app.ImageTag || got.AttemptID != "attempt-1" {
			t.Errorf("namespace/image/attempt = %q %q %q", got.Namespace, got.ImageTag, got.AttemptID)
		}
		if len(got.EnvironmentVariables) != 2 || got.EnvironmentVariables[1] != app.EnvironmentVariables[1] {
			t.Errorf("EnvironmentVariables = %+v", got.EnvironmentVariables)
		}
		if !got.CreatedAt.Equal(app.CreatedAt) {
			t.Errorf("CreatedAt = %s, want %s", got.CreatedAt, app.CreatedAt)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		repo := factory(t)
		_, err := repo.Get(context.Background(), "missing")
		if !errors.Is(err, repository.ErrNotFound) {
			t.Fatalf("Get: got %v, want ErrNotFound", err)
		}
	})

	t.Run("UpsertUpdatesInPlace", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		app := sample("web")
		if err := repo.Upsert(ctx, app); err != nil {
			t.Fatalf("Upsert: %v", err)
		}

		update := app
		update.Status = domain.StatusReady
		update.URL = "http://web.localhost"
		update.EnvironmentVariables = nil
		update.CreatedAt = app.CreatedAt.Add(time.Hour)
		update.UpdatedAt = app.UpdatedAt.Add(time.Hour)
		if err := repo.Upsert(ctx, update); err != nil {
			t.Fatalf("second Upsert: %v", err)
		}

		got, err := repo.Get(ctx, "web")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status != domain.StatusReady || got.URL != "http://web.localhost" {
			t.Errorf("status/url = %q %q", got.Status, got.URL)
		}
		if len(got.EnvironmentVariables) != 0 {
			t.Errorf("EnvironmentVariables = %+v, want none", got.EnvironmentVariables)
		}
		if !got.CreatedAt.Equal(app.CreatedAt) {
			t.Errorf("CreatedAt = %s, want first value %s", got.CreatedAt, app.CreatedAt)
		}
		if !got.UpdatedAt.Equal(update.UpdatedAt) {
			t.Errorf("UpdatedAt = %s, want %s", got.UpdatedAt, update.UpdatedAt)
		}

		all, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(all) != 1 {
			t.Fatalf("List = %d records, want 1", len(all))
		}
	})

	t.Run("UpsertFillsTimestamps", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		app := sample("bare")
		app.CreatedAt = time.Time{}
		app.UpdatedAt = time.Time{}
		if err := repo.Upsert(ctx, app); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		got, err := repo.Get(ctx, "bare")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
			t.Errorf("timestamps not filled: %s %s", got.CreatedAt, got.UpdatedAt)
		}
	})

	t.Run("ListSorted", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		for _, name := range []string{"zeta", "alpha", "mid"} {
			if err := repo.Upsert(ctx, sample(name)); err != nil {
				t.Fatalf("Upsert %s: %v", name, err)
			}
		}
		all, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(all) != 3 || all[0].Name != "alpha" || all[1].Name != "mid" || all[2].Name != "zeta" {
			t.Fatalf("List order = %+v", names(all))
		}
	})

	t.Run("ListEmpty", func(t *testing.T) {
		repo := factory(t)
		all, err := repo.List(context.Background())
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(all) != 0 {
			t.Fatalf("List = %d, want 0", len(all))
		}
	})

	t.Run("Delete", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		if err := repo.Upsert(ctx, sample("web")); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		if err := repo.Delete(ctx, "web"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := repo.Get(ctx, "web"); !errors.Is(err, repository.ErrNotFound) {
			t.Fatalf("Get after Delete: got %v, want ErrNotFound", err)
		}
	})

	t.Run("DeleteNotFound", func(t *testing.T) {
		repo := factory(t)
		err := repo.Delete(context.Background(), "missing")
		if !errors.Is(err, repository.ErrNotFound) {
			t.Fatalf("Delete: got %v, want ErrNotFound", err)
		}
	})
}

func names(apps []domain.AppDeployment) []string {
	out := make([]string, len(apps))
	for i, a := range apps {
		out[i] = a.Name
	}
	return out
}
