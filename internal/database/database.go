// Package database opens the metadata store and keeps its schema current.
package database

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"groupdrive/internal/config"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Open подключается к базе, выбранной в конфигурации, и применяет миграции
func Open(cfg config.DatabaseConfig, logger *slog.Logger) (*sqlx.DB, error) {
	var (
		db  *sqlx.DB
		err error
	)
	switch cfg.Driver {
	case DriverPostgres:
		db, err = connectWithRetry(cfg.GetDSN(), cfg.ConnectAttempts, cfg.ConnectDelay, logger)
	case DriverSQLite:
		if dir := filepath.Dir(cfg.Path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		db, err = sqlx.Connect(DriverSQLite, cfg.GetDSN())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

func connectWithRetry(dsn string, maxAttempts int, delay time.Duration, logger *slog.Logger) (*sqlx.DB, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var (
		db  *sqlx.DB
		err error
	)
	for i := 0; i < maxAttempts; i++ {
		db, err = sqlx.Connect(DriverPostgres, dsn)
		if err == nil {
			return db, nil
		}
		logger.Warn("failed to connect to database", "attempt", i+1, "max_attempts", maxAttempts, "error", err)
		if i < maxAttempts-1 {
			time.Sleep(delay)
		}
	}
	return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxAttempts, err)
}
