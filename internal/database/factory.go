package database

import (
	"fmt"
	"os"
	"path/filepath"

	"glassy-go/internal/config"
	"glassy-go/internal/glassy"
)

// MigrateFromConfig brings the configured database to the latest schema,
// creating it if needed. An in-memory database needs no preparation.
func MigrateFromConfig(cfg config.DatabaseConfig, clientID string) error {
	if cfg.Type == "memory" {
		return nil
	}
	db, err := NewDatabaseFromConfig(cfg, clientID)
	if err != nil {
		return err
	}
	defer db.Close()

	migrator, ok := db.(interface{ Migrate() error })
	if !ok {
		return fmt.Errorf("database type %s cannot be migrated", cfg.Type)
	}
	if err := migrator.Migrate(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	return nil
}

// NewDatabaseFromConfig creates a Database implementation based on the database config type.
// An in-memory database starts empty, so it is migrated here; a sqlite file
// is expected to be migrated by `glassy config init`.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, clientID string) (glassy.Database, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, clientID+".db"), nil)
	case "memory":
		db, err := NewSQLiteDatabase(":memory:", nil)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
