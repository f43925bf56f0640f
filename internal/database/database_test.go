package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain path", "/var/lib/ledger.db", "file:/var/lib/ledger.db?"},
		{"file prefix", "file:ledger.db", "file:ledger.db?"},
		{"scheme prefix", "sqlite3://ledger.db", "file:ledger.db?"},
		{"existing query dropped", "ledger.db?cache=shared", "file:ledger.db?"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn := SQLiteDSN(tt.in)
			assert.Contains(t, dsn, tt.want)
			assert.Contains(t, dsn, "_txlock=immediate")
			assert.Contains(t, dsn, "_foreign_keys=on")
			assert.NotContains(t, dsn, "cache=shared")
		})
	}
}

func TestLoadMigrationsSorted(t *testing.T) {
	for _, driver := range []string{DriverPostgres, DriverSQLite} {
		ms, err := loadMigrations(driver)
		require.NoError(t, err)
		require.NotEmpty(t, ms)
		for i := 1; i < len(ms); i++ {
			assert.Less(t, ms[i-1].version, ms[i].version)
		}
	}
}

func TestMigrateSQLiteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "m.db"), 1)
	require.NoError(t, err)
	defer db.Close()

	applied, err := MigrateSQLite(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_init.sql"}, applied)

	applied, err = MigrateSQLite(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, applied)

	for _, table := range []string{"api_keys", "accounts", "transactions", "webhook_endpoints", "webhook_events", "webhook_outbox"} {
		var n int
		require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n))
		assert.Equal(t, 1, n, table)
	}
}

func TestOpenSQLiteRejectsEmptyPath(t *testing.T) {
	_, err := OpenSQLite("", 1)
	require.Error(t, err)
}
