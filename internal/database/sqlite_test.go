package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewSQLiteDB_Pragmas tests that durability settings are applied to the connection
func TestNewSQLiteDB_Pragmas(t *testing.T) {
	ctx := context.Background()
	db, err := NewSQLiteDB(ctx, filepath.Join(t.TempDir(), "nested", "PharmaERP.db"))
	require.NoError(t, err)
	defer db.Close()

	var journal string
	require.NoError(t, db.QueryRowContext(ctx, `PRAGMA journal_mode`).Scan(&journal))
	assert.Equal(t, "wal", journal)

	var synchronous int
	require.NoError(t, db.QueryRowContext(ctx, `PRAGMA synchronous`).Scan(&synchronous))
	assert.Equal(t, 2, synchronous, "synchronous=FULL")
}

// TestNewSQLiteDB_SpecialCharacters tests that a path with URI delimiters opens the exact file
func TestNewSQLiteDB_SpecialCharacters(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "branch #2?", "100% stock")
	path := filepath.Join(dir, "queue.db")

	db, err := NewSQLiteDB(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(ctx, `CREATE TABLE stock_check (id INTEGER)`)
	require.NoError(t, err)

	_, err = os.Stat(path)
	assert.NoError(t, err, "database must be created at the configured path")

	var journal string
	require.NoError(t, db.QueryRowContext(ctx, `PRAGMA journal_mode`).Scan(&journal))
	assert.Equal(t, "wal", journal, "pragmas must still be parsed from the query")
}
