// Path: cmd/daemon/registry.go
package main

import (
	"context"
	"fmt"
	"log/slog"

	"push-broker/internal/config"
	"push-broker/internal/events"
	"push-broker/internal/logger"
	"push-broker/internal/storage"
)

type registry struct {
	store  events.RegistryStore
	health func(context.Context) error
	close  func()
}

// openRegistry connects the backend selected by registry.backend.
func openRegistry(ctx context.Context, cfg *config.Config, log *slog.Logger) (*registry, error) {
	switch cfg.Registry.Backend {
	case config.BackendRedis:
		client, err := storage.ConnectRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		store := storage.NewRedisRegistry(client, cfg.Redis.ScanBatchSize)
		return &registry{
			store:  store,
			health: store.Healthcheck,
			close: func() {
				if err := client.Close(); err != nil {
					log.Warn("failed to close redis client", logger.Error(err))
				}
			},
		}, nil

	case config.BackendMongo:
		client, err := storage.ConnectMongo(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		store := storage.NewMongoRegistry(client.Database(cfg.Database.Name), cfg.Database.Collection)
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, fmt.Errorf("failed to create registry indexes: %w", err)
		}
		return &registry{
			store:  store,
			health: store.Healthcheck,
			close: func() {
				if err := client.Disconnect(context.Background()); err != nil {
					log.Warn("failed to disconnect from MongoDB", logger.Error(err))
				}
			},
		}, nil

	case config.BackendMemory:
		log.Warn("using in-memory registry; channels are not shared between instances")
		store := storage.NewMemoryRegistry()
		return &registry{store: store, health: store.Healthcheck, close: func() {}}, nil

	default:
		return nil, fmt.Errorf("%w: unknown registry backend %q", config.ErrInvalidConfig, cfg.Registry.Backend)
	}
}
