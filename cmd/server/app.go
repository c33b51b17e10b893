package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prudhvinik1/pharmasync/internal/config"
	"github.com/prudhvinik1/pharmasync/internal/database"
	"github.com/prudhvinik1/pharmasync/internal/remote"
	"github.com/prudhvinik1/pharmasync/internal/repositories"
	"github.com/prudhvinik1/pharmasync/internal/services"
)

// app holds the components shared by every subcommand.
type app struct {
	cfg    *config.Config
	queue  repositories.QueueRepository
	remote *remote.Client
	syncer *services.SyncService

	closers []func()
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	a := &app{cfg: cfg}

	// Every process opening the same queue shares its lease lock; Redis
	// replaces it when configured.
	var lock repositories.SyncLock
	switch cfg.QueueBackend {
	case config.BackendPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		a.closers = append(a.closers, pool.Close)

		queue, err := repositories.NewPostgresQueueRepository(ctx, pool)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to open postgres queue: %w", err)
		}
		a.queue = queue
		lock = queue.SyncLock(cfg.SyncTag, cfg.SyncLockTTL)
	default:
		db, err := database.NewSQLiteDB(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}

		queue, err := repositories.NewSQLiteQueueRepository(ctx, db)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to open sqlite queue: %w", err)
		}
		a.queue = queue
		a.closers = append(a.closers, func() { queue.Close() })
		lock = queue.SyncLock(cfg.SyncTag, cfg.SyncLockTTL)
	}

	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to create redis client: %w", err)
		}
		a.closers = append(a.closers, func() { redisClient.Close() })
		lock = repositories.NewRedisSyncLock(redisClient, cfg.SyncTag, cfg.SyncLockTTL)
	}

	a.remote = remote.NewClient(cfg.RemoteBaseURL,
		remote.WithTimeout(cfg.RequestTimeout),
		remote.WithHealthPath(cfg.RemoteHealthPath),
	)
	a.syncer = services.NewSyncService(a.queue, a.remote, services.WithLock(lock))

	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
