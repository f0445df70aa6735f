package database

import (
	"os"
	"path/filepath"
	"testing"

	"glassy-go/internal/config"
)

func TestNewDatabaseFromConfig(t *testing.T) {
	t.Run("memory database is migrated", func(t *testing.T) {
		got, err := NewDatabaseFromConfig(config.DatabaseConfig{Type: "memory"}, "client-123")
		if err != nil {
			t.Fatalf("NewDatabaseFromConfig() error = %v", err)
		}
		defer got.Close()

		if err := got.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() error = %v", err)
		}
	})

	t.Run("sqlite database", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "db")
		got, err := NewDatabaseFromConfig(config.DatabaseConfig{Type: "sqlite", DataDir: dir}, "client-123")
		if err != nil {
			t.Fatalf("NewDatabaseFromConfig() error = %v", err)
		}
		defer got.Close()

		if _, err := os.Stat(filepath.Join(dir, "client-123.db")); err != nil {
			t.Errorf("database file not created: %v", err)
		}
		if err := got.CheckMigrations(); err == nil {
			t.Error("CheckMigrations() expected error for unmigrated file")
		}
	})

	t.Run("sqlite without data dir", func(t *testing.T) {
		if _, err := NewDatabaseFromConfig(config.DatabaseConfig{Type: "sqlite"}, "c"); err == nil {
			t.Error("NewDatabaseFromConfig() expected error")
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		if _, err := NewDatabaseFromConfig(config.DatabaseConfig{Type: "postgres"}, "c"); err == nil {
			t.Error("NewDatabaseFromConfig() expected error")
		}
	})
}

func TestMigrateFromConfig(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	cfg := config.DatabaseConfig{Type: "sqlite", DataDir: dir}

	if err := MigrateFromConfig(cfg, "client-123"); err != nil {
		t.Fatalf("MigrateFromConfig() error = %v", err)
	}
	// Running again on a current schema is a no-op.
	if err := MigrateFromConfig(cfg, "client-123"); err != nil {
		t.Fatalf("second MigrateFromConfig() error = %v", err)
	}

	db, err := NewDatabaseFromConfig(cfg, "client-123")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if err := db.CheckMigrations(); err != nil {
		t.Errorf("CheckMigrations() after migrate error = %v", err)
	}

	if err := MigrateFromConfig(config.DatabaseConfig{Type: "memory"}, "c"); err != nil {
		t.Errorf("MigrateFromConfig(memory) error = %v", err)
	}
}
