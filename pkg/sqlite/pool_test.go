package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

func openTestPool(t *testing.T) *Pool {
	t.Helper()
	pool, err := Open(config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db"), PoolSize: 2})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(config.SQLiteConfig{})
	assert.Error(t, err)
}

func TestPoolWALAndPing(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()
	require.NoError(t, pool.Ping(ctx))

	conn, err := pool.Take(ctx)
	require.NoError(t, err)
	defer pool.Put(conn)

	var mode string
	err = sqlitex.Execute(conn, "PRAGMA journal_mode", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			mode = stmt.ColumnText(0)
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "wal", mode)
}

func TestTableExists(t *testing.T) {
	pool := openTestPool(t)
	conn, err := pool.Take(context.Background())
	require.NoError(t, err)
	defer pool.Put(conn)

	exists, err := TableExists(conn, "documents")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, sqlitex.ExecuteTransient(conn, `CREATE TABLE documents (filename TEXT)`, nil))
	exists, err = TableExists(conn, "documents")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, `"documents_fts"`, QuoteIdentifier("documents_fts"))
	assert.Equal(t, `"odd""name"`, QuoteIdentifier(`odd"name`))
}

func TestIsBusy(t *testing.T) {
	assert.False(t, IsBusy(nil))
	assert.False(t, IsBusy(errors.New("disk I/O error")))
}
