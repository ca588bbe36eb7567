// Database connection setup
package db

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/asistia/asistia/pkg/config"
)

// Open connects to the configured database. A postgres DSN takes priority;
// otherwise a local sqlite file is used (created on first run).
func Open(cfg *config.AppConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	if dsn := cfg.PostgresDSN(); dsn != "" {
		gdb, err := gorm.Open(postgres.Open(dsn), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres database: %w", err)
		}
		return gdb, nil
	}

	path := cfg.SQLitePath()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create database dir %s: %w", dir, err)
		}
	}

	gdb, err := gorm.Open(sqlite.Open(path), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %s: %w", path, err)
	}
	return gdb, nil
}

// OpenMemory opens an in-memory sqlite database. Used by tests.
func OpenMemory() (*gorm.DB, error) {
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open in-memory database: %w", err)
	}
	if err := AutoMigrate(gdb); err != nil {
		return nil, err
	}
	return gdb, nil
}

// AutoMigrate creates or updates all application tables.
func AutoMigrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(&User{}, &Conversation{}, &Message{}); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	return nil
}
