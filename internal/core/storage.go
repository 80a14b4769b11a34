package core

import (
	"annotcore/internal/infra/persistence/memory"
	"annotcore/internal/infra/persistence/postgres"
	"annotcore/internal/infra/persistence/sqlite"
	"annotcore/pkg/domain"
	"fmt"
	"os"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

type (
	Transaction     = domain.Transaction
	TransactionView = domain.TransactionView
	PersistentStore = domain.PersistentStore
)

// StorageOptions selects and configures a persistence backend.
type StorageOptions struct {
	Driver      StorageDriver
	SQLitePath  string
	PostgresDSN string
}

// OpenPersistentStore selects a backend from the supplied options. Unset
// fields fall back to environment variables, then to sqlite.
//
//	ANNOTCORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	ANNOTCORE_SQLITE_PATH: path to sqlite file (default ./annotcore.db)
//	ANNOTCORE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenPersistentStore(engine *RulesEngine, opts StorageOptions) (PersistentStore, error) {
	driver := opts.Driver
	if driver == "" {
		driver = StorageDriver(os.Getenv("ANNOTCORE_STORAGE_DRIVER"))
	}
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		path := opts.SQLitePath
		if path == "" {
			path = os.Getenv("ANNOTCORE_SQLITE_PATH")
		}
		return sqlite.NewStore(path, engine)
	case StoragePostgres:
		dsn := opts.PostgresDSN
		if dsn == "" {
			dsn = os.Getenv("ANNOTCORE_POSTGRES_DSN")
		}
		return postgres.NewStore(dsn, engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
