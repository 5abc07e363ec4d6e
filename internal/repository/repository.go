// Package repository defines persistence for deployed app records.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/splax/kubehost/internal/domain"
)

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// Apps persists one record per sanitized app name.
type Apps interface {
	Get(ctx context.Context, name string) (domain.AppDeployment, error)
	List(ctx context.Context) ([]domain.AppDeployment, error)
	// Upsert inserts app or replaces the stored record of the same name. The
	// first CreatedAt is kept across updates.
	Upsert(ctx context.Context, app domain.AppDeployment) error
	Delete(ctx context.Context, name string) error
}

// Normalize fills unset timestamps and reduces both to UTC microseconds, the
// precision every backend round-trips.
func Normalize(app domain.AppDeployment, now time.Time) domain.AppDeployment {
	if app.CreatedAt.IsZero() {
		app.CreatedAt = now
	}
	if app.UpdatedAt.IsZero() {
		app.UpdatedAt = now
	}
	app.CreatedAt = app.CreatedAt.UTC().Truncate(time.Microsecond)
	app.UpdatedAt = app.UpdatedAt.UTC().Truncate(time.Microsecond)
	return app
}
