package repository

import (
	"context"
	"fmt"

	"stressjudge/internal/common/db"
)

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Kind is "memory", "sqlite" or "mysql".
	Kind     string    `yaml:"kind"`
	Database db.Config `yaml:"database"`
}

// NewRunStore opens the configured store.
func NewRunStore(ctx context.Context, cfg StoreConfig) (RunStore, error) {
	switch cfg.Kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case db.DriverSQLite, db.DriverMySQL:
		dbCfg := cfg.Database
		dbCfg.Driver = cfg.Kind
		database, err := db.Open(dbCfg)
		if err != nil {
			return nil, err
		}
		store, err := NewSQLStore(ctx, database)
		if err != nil {
			_ = database.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Kind)
	}
}
