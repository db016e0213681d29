// Package dbtest provides migrated throwaway databases for tests.
package dbtest

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tapreward/server/internal/db"
)

// Open returns a migrated database for the test. When TEST_DATABASE_URL is set the
// tests run against that PostgreSQL instance (tables are truncated first); otherwise a
// fresh SQLite file under t.TempDir() is used.
func Open(t *testing.T) (*sql.DB, db.Dialect) {
	t.Helper()
	ctx := context.Background()

	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		database, err := db.OpenPostgres(ctx, url)
		require.NoError(t, err, "open TEST_DATABASE_URL")
		t.Cleanup(func() { _ = database.Close() })
		require.NoError(t, db.Migrate(ctx, database, db.DialectPostgres), "migrations must run successfully")
		require.NoError(t, Truncate(ctx, database, db.DialectPostgres), "truncate tables")
		return database, db.DialectPostgres
	}

	path := filepath.Join(t.TempDir(), "tapreward.db")
	database, err := db.OpenSQLite(ctx, path)
	require.NoError(t, err, "open sqlite database")
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, db.Migrate(ctx, database, db.DialectSQLite), "migrations must run successfully")
	return database, db.DialectSQLite
}

// Truncate removes every row from the reward tables.
func Truncate(ctx context.Context, database *sql.DB, dialect db.Dialect) error {
	if dialect == db.DialectPostgres {
		_, err := database.ExecContext(ctx, "TRUNCATE TABLE claims, reward_periods, chips RESTART IDENTITY CASCADE")
		return err
	}
	for _, table := range []string{"claims", "reward_periods", "chips"} {
		if _, err := database.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}
