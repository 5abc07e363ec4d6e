package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/splax/kubehost/internal/lock"
	"github.com/splax/kubehost/internal/repository"
	"github.com/splax/kubehost/internal/repository/memory"
	"github.com/splax/kubehost/internal/repository/postgres"
	"github.com/splax/kubehost/internal/repository/sqlite"
	"github.com/splax/kubehost/pkg/config"
)

// openStore returns the registry selected by cfg.Store and its closer.
func openStore(ctx context.Context, cfg config.KubehostConfig, log *slog.Logger) (repository.Apps, func(), error) {
	codec := repository.NewEnvCodec(cfg.EnvEncryptionKey)
	if !codec.Sealed() {
		log.Warn("KUBEHOST_ENV_ENCRYPTION_KEY not set; env values are stored in plain text")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Store)) {
	case "memory":
		log.Warn("using in-memory app registry; records are lost on restart")
		return memory.New(), func() {}, nil
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, nil, fmt.Errorf("store postgres requires DATABASE_URL")
		}
		pool, err := postgres.Open(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres registry: %w", err)
		}
		return postgres.New(pool, codec), pool.Close, nil
	case "", "sqlite":
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite registry %s: %w", cfg.SQLitePath, err)
		}
		repo := sqlite.New(db, codec)
		return repo, func() {
			if err := repo.Close(); err != nil {
				log.Warn("failed to close sqlite registry", "error", err)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store %q (want sqlite, postgres or memory)", cfg.Store)
	}
}

// openLocker returns the redis lock when KUBEHOST_REDIS_ADDR is set and the
// in-process keyed mutex otherwise.
func openLocker(cfg config.KubehostConfig, log *slog.Logger) (lock.Locker, func(), error) {
	if cfg.RedisAddr == "" {
		return lock.NewKeyed(), func() {}, nil
	}
	locker, closeFn, err := lock.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.LockTTL, log)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis lock %s: %w", cfg.RedisAddr, err)
	}
	log.Info("using redis deploy lock", "addr", cfg.RedisAddr, "ttl", cfg.LockTTL)
	return locker, func() {
		if err := closeFn(); err != nil {
			log.Warn("failed to close redis client", "error", err)
		}
	}, nil
}
