package testutil

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"

	"groupdrive/internal/config"
	"groupdrive/internal/database"
)

// NewTestDB sqlite-база во временном каталоге теста с применёнными миграциями.
// Файл вместо ":memory:", чтобы все соединения пула видели одну базу.
func NewTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	cfg := config.DatabaseConfig{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "engine.db"),
	}
	db, err := database.Open(cfg, DiscardLogger())
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// DiscardLogger логгер, который ничего не пишет
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
