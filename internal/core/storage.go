package core

import (
	"clinicflow/internal/infra/persistence/memory"
	"clinicflow/internal/infra/persistence/postgres"
	"clinicflow/internal/infra/persistence/sqlite"
	"clinicflow/pkg/domain"
	"fmt"
	"strings"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file, the offline default
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// StorageOptions selects and configures a backend.
type StorageOptions struct {
	Driver      StorageDriver
	SQLitePath  string
	PostgresDSN string
}

// OpenPersistentStore opens the configured backend. An empty driver selects sqlite.
func OpenPersistentStore(opts StorageOptions, engine *domain.RulesEngine) (domain.DocumentStore, error) {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	driver := StorageDriver(strings.ToLower(strings.TrimSpace(string(opts.Driver))))
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		return sqlite.NewStore(opts.SQLitePath, engine)
	case StoragePostgres:
		return postgres.NewStore(opts.PostgresDSN, engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
