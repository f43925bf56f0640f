// Package dbtest provisions throwaway databases for package tests.
package dbtest

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/example/business-ledger/internal/database"
)

// PostgresURLEnv names the variable that enables the Postgres integration suites.
const PostgresURLEnv = "LEDGER_TEST_DATABASE_URL"

// SQLite returns a migrated database in a fresh temp directory.
func SQLite(t testing.TB) *sql.DB {
	t.Helper()

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"), 8)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = database.MigrateSQLite(context.Background(), db)
	require.NoError(t, err)
	return db
}

// Postgres returns a migrated pool with empty tables, or skips the test when
// no database is configured or reachable.
func Postgres(t testing.TB) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv(PostgresURLEnv)
	if url == "" {
		t.Skipf("skipping postgres integration test (%s not set)", PostgresURLEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := database.OpenPostgres(ctx, url, 10)
	if err != nil {
		t.Skipf("skipping postgres integration test (database not available): %v", err)
	}
	t.Cleanup(pool.Close)

	_, err = database.MigratePostgres(ctx, pool)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `TRUNCATE webhook_outbox, webhook_events, webhook_endpoints, transactions, accounts, api_keys`)
	require.NoError(t, err)
	return pool
}
