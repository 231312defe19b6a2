// Package dbtest opens throwaway SQLite databases for package tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"carbon-scribe/energy-credits/energy-credits-backend/internal/config"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/database"
)

// New returns a migrated database in the test's temp dir, closed on cleanup.
func New(t testing.TB, migrators ...database.Migrator) *gorm.DB {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "test.db"),
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	require.NoError(t, database.Migrate(db, migrators...))
	return db
}
