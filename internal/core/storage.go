package core

import (
	"context"
	"fmt"

	"shift2me/internal/config"
	"shift2me/internal/infra/persistence/memory"
	"shift2me/internal/infra/persistence/postgres"
	"shift2me/internal/infra/persistence/sqlite"
	"shift2me/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenPersistentStore selects the snapshot backend named by cfg.StorageDriver.
func OpenPersistentStore(ctx context.Context, cfg config.Config) (domain.PersistentStore, error) {
	switch StorageDriver(cfg.StorageDriver) {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite, "":
		return sqlite.NewStore(cfg.SQLitePath)
	case StoragePostgres:
		return postgres.NewStore(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.StorageDriver)
	}
}
