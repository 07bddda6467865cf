// Package infrastructure provides core service initialization for application startup.
// It assembles common dependencies (logging, database, storage, Redis) that the
// pipeline systems require.
package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JaimeStill/conveyor/internal/config"
	"github.com/JaimeStill/conveyor/pkg/database"
	"github.com/JaimeStill/conveyor/pkg/lifecycle"
	"github.com/JaimeStill/conveyor/pkg/storage"
)

// Infrastructure holds the core systems required by all pipeline modules.
// It provides a single point of initialization for lifecycle coordination,
// logging, database access, blob storage, and the Redis client backing the
// admission queue and concurrency counter.
type Infrastructure struct {
	Lifecycle *lifecycle.Coordinator
	Logger    *slog.Logger
	Database  database.System
	Storage   storage.System
	Redis     *redis.Client
}

// New creates an Infrastructure from the application configuration.
// It initializes all systems but does not start them; call Start separately.
func New(cfg *config.Config) (*Infrastructure, error) {
	lc := lifecycle.New()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	db, err := database.New(&cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("database init failed: %w", err)
	}

	store, err := storage.New(&cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("storage init failed: %w", err)
	}

	client := redis.NewClient(cfg.Redis.Options())

	return &Infrastructure{
		Lifecycle: lc,
		Logger:    logger,
		Database:  db,
		Storage:   store,
		Redis:     client,
	}, nil
}

// Start registers all infrastructure systems with the lifecycle coordinator.
func (i *Infrastructure) Start() error {
	if err := i.Database.Start(i.Lifecycle); err != nil {
		return fmt.Errorf("database start failed: %w", err)
	}
	if err := i.Storage.Start(i.Lifecycle); err != nil {
		return fmt.Errorf("storage start failed: %w", err)
	}

	i.Lifecycle.OnStartup(func() {
		pingCtx, cancel := context.WithTimeout(i.Lifecycle.Context(), 10*time.Second)
		defer cancel()

		if err := i.Redis.Ping(pingCtx).Err(); err != nil {
			i.Logger.Error("redis ping failed", "error", err)
			return
		}
		i.Logger.Info("redis connection established")
	})

	i.Lifecycle.OnShutdown(func() {
		<-i.Lifecycle.Context().Done()
		if err := i.Redis.Close(); err != nil {
			i.Logger.Error("redis close failed", "error", err)
		}
	})

	return nil
}
