package postgres_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/splax/kubehost/internal/repository"
	"github.com/splax/kubehost/internal/repository/postgres"
	"github.com/splax/kubehost/internal/repository/repotest"
)

func TestPostgresRepository(t *testing.T) {
	dsn := os.Getenv("KUBEHOST_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("KUBEHOST_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := postgres.Open(ctx, dsn, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(pool.Close)

	repotest.Run(t, func(t *testing.T) repository.Apps {
		if _, err := pool.Exec(ctx, `TRUNCATE apps`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return postgres.New(pool, repository.NewEnvCodec("test-key"))
	})
}
