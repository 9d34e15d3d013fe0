package core

import (
	"context"
	"fmt"
	"log/slog"

	"forestcensus/internal/infra/persistence/memory"
	"forestcensus/internal/infra/persistence/postgres"
	"forestcensus/internal/infra/persistence/sqlite"
	"forestcensus/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// StorageConfig selects and configures the persistent store.
type StorageConfig struct {
	Driver      StorageDriver
	SQLitePath  string
	PostgresDSN string
}

// OpenPersistentStore opens the configured backend. An empty driver selects memory.
func OpenPersistentStore(ctx context.Context, cfg StorageConfig, engine *RulesEngine, logger *slog.Logger) (domain.PersistentStore, error) {
	switch cfg.Driver {
	case "", StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		store, err := sqlite.NewStore(ctx, cfg.SQLitePath, engine, sqlite.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return store, nil
	case StoragePostgres:
		store, err := postgres.NewStore(ctx, cfg.PostgresDSN, engine, postgres.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
