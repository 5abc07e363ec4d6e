// Package sqlite is the default app registry, a single file under the data directory.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/splax/kubehost/internal/domain"
	"github.com/splax/kubehost/internal/repository"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Open opens a SQLite database at the given path and runs all pending
// migrations. Use ":memory:" for an in-memory database.
func Open(dsn string) (*sql.DB, error) {
	if dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// An in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// Repository implements [repository.Apps] backed by SQLite.
type Repository struct {
	DB    *sql.DB
	Codec repository.EnvCodec
}

var _ repository.Apps = (*Repository)(nil)

// New wraps an opened database.
func New(db *sql.DB, codec repository.EnvCodec) *Repository {
	return &Repository{DB: db, Codec: codec}
}

// Close releases the database.
func (r *Repository) Close() error {
	return r.DB.Close()
}

const selectColumns = `SELECT name, source_name, source_ref, branch, detected_type, image_tag, namespace,
	status, url, env, last_error, attempt_id, created_at, updated_at FROM apps`

func (r *Repository) Get(ctx context.Context, name string) (domain.AppDeployment, error) {
	row := r.DB.QueryRowContext(ctx, selectColumns+` WHERE name = ?`, name)
	app, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AppDeployment{}, fmt.Errorf("app %q: %w", name, repository.ErrNotFound)
	}
	return app, err
}

func (r *Repository) List(ctx context.Context) ([]domain.AppDeployment, error) {
	rows, err := r.DB.QueryContext(ctx, selectColumns+` ORDER BY name`)
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

func (r *Repository) Upsert(ctx context.Context, app domain.AppDeployment) error {
	if app.Name == "" {
		return fmt.Errorf("%w: app name is required", domain.ErrInvalidArgument)
	}
	app = repository.Normalize(app, time.Now())
	env, err := r.Codec.Encode(app.EnvironmentVariables)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO apps (name, source_name, source_ref, branch, detected_type, image_tag, namespace,
			status, url, env, last_error, attempt_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			source_name = excluded.source_name,
			source_ref = excluded.source_ref,
			branch = excluded.branch,
			detected_type = excluded.detected_type,
			image_tag = excluded.image_tag,
			namespace = excluded.namespace,
			status = excluded.status,
			url = excluded.url,
			env = excluded.env,
			last_error = excluded.last_error,
			attempt_id = excluded.attempt_id,
			updated_at = excluded.updated_at`,
		app.Name, app.SourceName, app.SourceRef, app.Branch, string(app.DetectedType), app.ImageTag, app.Namespace,
		string(app.Status), app.URL, env, app.LastError, app.AttemptID,
		formatTime(app.CreatedAt), formatTime(app.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert app %q: %w", app.Name, err)
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, name string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM apps WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete app %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete app %q: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("app %q: %w", name, repository.ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scan(row scanner) (domain.AppDeployment, error) {
	var (
		app                  domain.AppDeployment
		detected, status     string
		env                  string
		createdAt, updatedAt string
	)
	err := row.Scan(&app.Name, &app.SourceName, &app.SourceRef, &app.Branch, &detected, &app.ImageTag,
		&app.Namespace, &status, &app.URL, &env, &app.LastError, &app.AttemptID, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return app, err
		}
		return app, fmt.Errorf("scan app: %w", err)
	}
	app.DetectedType = domain.AppType(detected)
	app.Status = domain.DeployStatus(status)
	if app.EnvironmentVariables, err = r.Codec.Decode(env); err != nil {
		return app, fmt.Errorf("app %q: %w", app.Name, err)
	}
	if app.CreatedAt, err = parseTime(createdAt); err != nil {
		return app, fmt.Errorf("app %q created_at: %w", app.Name, err)
	}
	if app.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return app, fmt.Errorf("app %q updated_at: %w", app.Name, err)
	}
	return app, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, raw)
}
