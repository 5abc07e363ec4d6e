// Package postgres implements the app registry on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/kubehost/internal/domain"
	"github.com/splax/kubehost/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool  *pgxpool.Pool
	codec repository.EnvCodec
}

// ensure Repository satisfies interfaces.
var _ repository.Apps = (*Repository)(nil)

// New constructs a Repository.
func New(pool *pgxpool.Pool, codec repository.EnvCodec) *Repository {
	return &Repository{pool: pool, codec: codec}
}

const selectColumns = `SELECT name, source_name, source_ref, branch, detected_type, image_tag, namespace,
	status, url, env, last_error, attempt_id, created_at, updated_at FROM apps`

// Get fetches an app by sanitized name.
func (r *Repository) Get(ctx context.Context, name string) (domain.AppDeployment, error) {
	row := r.pool.QueryRow(ctx, selectColumns+` WHERE name = $1`, name)
	app, err := r.scan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AppDeployment{}, fmt.Errorf("app %q: %w", name, repository.ErrNotFound)
		}
		return domain.AppDeployment{}, err
	}
	return app, nil
}

// List returns every app ordered by name.
func (r *Repository) List(ctx context.Context) ([]domain.AppDeployment, error) {
	rows, err := r.pool.Query(ctx, selectColumns+` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list apps: %w", err)
	}
	defer rows.Close()

	out := []domain.AppDeployment{}
	for rows.Next() {
		app, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, app)
	}
	return out, rows.Err()
}

// Upsert inserts or replaces an app, keeping the original created_at.
func (r *Repository) Upsert(ctx context.Context, app domain.AppDeployment) error {
	if app.Name == "" {
		return fmt.Errorf("%w: app name is required", domain.ErrInvalidArgument)
	}
	app = repository.Normalize(app, time.Now())
	env, err := r.codec.Encode(app.EnvironmentVariables)
	if err != nil {
		return err
	}
	const query = `INSERT INTO apps (name, source_name, source_ref, branch, detected_type, image_tag, namespace,
			status, url, env, last_error, attempt_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (name) DO UPDATE SET
			source_name = EXCLUDED.source_name,
			source_ref = EXCLUDED.source_ref,
			branch = EXCLUDED.branch,
			detected_type = EXCLUDED.detected_type,
			image_tag = EXCLUDED.image_tag,
			namespace = EXCLUDED.namespace,
			status = EXCLUDED.status,
			url = EXCLUDED.url,
			env = EXCLUDED.env,
			last_error = EXCLUDED.last_error,
			attempt_id = EXCLUDED.attempt_id,
			updated_at = EXCLUDED.updated_at`
	_, err = r.pool.Exec(ctx, query,
		app.Name, app.SourceName, app.SourceRef, app.Branch, string(app.DetectedType), app.ImageTag, app.Namespace,
		string(app.Status), app.URL, env, app.LastError, app.AttemptID, app.CreatedAt, app.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert app %q: %w", app.Name, err)
	}
	return nil
}

// Delete removes an app record.
func (r *Repository) Delete(ctx context.Context, name string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM apps WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete app %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("app %q: %w", name, repository.ErrNotFound)
	}
	return nil
}

func (r *Repository) scan(row pgx.Row) (domain.AppDeployment, error) {
	var (
		app              domain.AppDeployment
		detected, status string
		env              string
	)
	err := row.Scan(&app.Name, &app.SourceName, &app.SourceRef, &app.Branch, &detected, &app.ImageTag,
		&app.Namespace, &status, &app.URL, &env, &app.LastError, &app.AttemptID, &app.CreatedAt, &app.UpdatedAt)
	if err != nil {
		return app, err
	}
	app.DetectedType = domain.AppType(detected)
	app.Status = domain.DeployStatus(status)
	app.CreatedAt = app.CreatedAt.UTC()
	app.UpdatedAt = app.UpdatedAt.UTC()
	if app.EnvironmentVariables, err = r.codec.Decode(env); err != nil {
		return app, fmt.Errorf("app %q: %w", app.Name, err)
	}
	return app, nil
}
