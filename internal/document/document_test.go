package document

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"zombiezen.com/go/sqlite/sqlitex"
)

func TestStaticStore(t *testing.T) {
	store := StaticStore{
		{Filename: "a.txt", URL: "http://x", Content: "one"},
		{Filename: "b.txt", URL: "http://y", Content: "two"},
	}
	ctx := context.Background()

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	var names []string
	require.NoError(t, store.Each(ctx, func(d Document) error {
		names = append(names, d.Filename)
		return nil
	}))
	assert.Equal(t, []string{"a.txt", "b.txt"}, names)

	stop := errors.New("stop")
	err = store.Each(ctx, func(Document) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestSQLiteStore(t *testing.T) {
	pool, err := sqlite.Open(config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "kb.db"), PoolSize: 2})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	ctx := context.Background()
	conn, err := pool.Take(ctx)
	require.NoError(t, err)
	require.NoError(t, sqlitex.ExecuteScript(conn, `
		CREATE TABLE documents (filename TEXT, url TEXT, content TEXT);
		INSERT INTO documents VALUES ('a.txt', 'http://x', 'ADHD accommodations for students');
		INSERT INTO documents VALUES ('b.txt', NULL, 'Air Force ROTC');
	`, nil))
	pool.Put(conn)

	store := NewSQLiteStore(pool, "documents")
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	var docs []Document
	require.NoError(t, store.Each(ctx, func(d Document) error {
		docs = append(docs, d)
		return nil
	}))
	require.Len(t, docs, 2)
	assert.Equal(t, Document{Filename: "a.txt", URL: "http://x", Content: "ADHD accommodations for students"}, docs[0])
	assert.Equal(t, "", docs[1].URL, "NULL url reads as empty")
}

func TestSQLiteStoreMissingTable(t *testing.T) {
	pool, err := sqlite.Open(config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "kb.db"), PoolSize: 1})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	_, err = NewSQLiteStore(pool, "documents").Count(context.Background())
	assert.Error(t, err)
}
