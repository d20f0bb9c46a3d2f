package pgfts

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/postgres"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// skipIfNoPostgres skips the test when PostgreSQL is unavailable.
func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	client, err := postgres.New(config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database:        envOrDefault("TEST_POSTGRES_DB", "knowledgebase_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "knowledgebase"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		t.Skipf("skipping postgres test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// seedSource creates a uniquely named documents table and returns its name
// and the name to use for the index table.
func seedSource(t *testing.T, client *postgres.Client, rows [][3]string) (string, string) {
	t.Helper()
	ctx := context.Background()
	source := fmt.Sprintf("documents_test_%d", time.Now().UnixNano())
	indexTable := source + "_fts"
	_, err := client.DB.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE %s (filename TEXT, url TEXT, content TEXT)`, pq.QuoteIdentifier(source)))
	require.NoError(t, err)
	t.Cleanup(func() {
		client.DB.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s`, pq.QuoteIdentifier(indexTable)))
		client.DB.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s`, pq.QuoteIdentifier(source)))
	})
	for _, r := range rows {
		_, err := client.DB.ExecContext(ctx, fmt.Sprintf(
			`INSERT INTO %s (filename, url, content) VALUES ($1, $2, $3)`, pq.QuoteIdentifier(source)),
			r[0], r[1], r[2])
		require.NoError(t, err)
	}
	return source, indexTable
}

func TestEnsureAndMatch(t *testing.T) {
	client := skipIfNoPostgres(t)
	source, table := seedSource(t, client, [][3]string{
		{"a.txt", "http://x", "ADHD accommodations for students"},
		{"b.txt", "http://y", "Air Force ROTC scholarship appeal"},
		{"adhd.txt", "http://adhd", "Unrelated contract dispute"},
	})
	ix := New(client, source, table)
	ctx := context.Background()

	exists, err := ix.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	n, err := ix.Build(ctx, false)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	n, err = ix.Build(ctx, false)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n, "second build is a no-op")

	count, err := ix.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	docs, err := ix.Match(ctx, parser.Expression{Terms: []string{"air", "force", "rotc", "adhd"}})
	require.NoError(t, err)
	names := make([]string, 0, len(docs))
	for _, d := range docs {
		names = append(names, d.Filename)
	}
	assert.ElementsMatch(t, []string{"a.txt", "b.txt"}, names)

	docs, err = ix.Match(ctx, parser.Expression{Terms: []string{"xyzzy_nonexistent_term"}})
	require.NoError(t, err)
	assert.Empty(t, docs)

	_, err = ix.Match(ctx, parser.Expression{})
	assert.ErrorIs(t, err, apperrors.ErrMalformedPredicate)
}

func TestRebuildAfterStoreChange(t *testing.T) {
	client := skipIfNoPostgres(t)
	source, table := seedSource(t, client, [][3]string{
		{"a.txt", "http://x", "ADHD accommodations for students"},
	})
	ix := New(client, source, table)
	ctx := context.Background()

	_, err := ix.Build(ctx, false)
	require.NoError(t, err)

	_, err = client.DB.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s VALUES ('z.txt', 'http://z', 'zoning variance')`, pq.QuoteIdentifier(source)))
	require.NoError(t, err)

	n, err := ix.Build(ctx, true)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	docs, err := ix.Match(ctx, parser.Expression{Terms: []string{"zoning"}})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "z.txt", docs[0].Filename)
}

func TestBuildFailureLeavesNoIndex(t *testing.T) {
	client := skipIfNoPostgres(t)
	table := fmt.Sprintf("missing_source_fts_%d", time.Now().UnixNano())
	ix := New(client, "no_such_documents_table", table)
	ctx := context.Background()

	_, err := ix.Build(ctx, false)
	require.Error(t, err)

	exists, err := ix.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists, "rolled back build must not look built")
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// PostgreSQL's default parser keeps emails, hosts and decimals whole, so
// their parts are not separately searchable. The memory and FTS5 backends
// split them.
func TestCompoundTokensAreNotSplit(t *testing.T) {
	client := skipIfNoPostgres(t)
	source, table := seedSource(t, client, [][3]string{
		{"mail.txt", "http://m", "mail user@example.com"},
		{"host.txt", "http://h", "see example.org for details"},
		{"pi.txt", "http://p", "version 3.14 released"},
	})
	ix := New(client, source, table)
	ctx := context.Background()
	_, err := ix.Build(ctx, false)
	require.NoError(t, err)

	for _, term := range []string{"example", "user", "com", "org", "14"} {
		docs, err := ix.Match(ctx, parser.Expression{Terms: []string{term}})
		require.NoError(t, err)
		assert.Empty(t, docs, "term %q", term)
	}

	docs, err := ix.Match(ctx, parser.Expression{Terms: []string{"mail", "details", "released"}})
	require.NoError(t, err)
	assert.Len(t, docs, 3)
}
