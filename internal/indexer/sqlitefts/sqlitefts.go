// Package sqlitefts keeps the full-text index in an SQLite FTS5 virtual
// table next to the documents table. Filename and URL are UNINDEXED columns:
// stored and returned, never matched.
package sqlitefts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/searcher/parser"
	apperrors "github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/sqlite"
	zsqlite "zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const backendName = "sqlite"

// Index is the SQLite FTS5 full-text index.
type Index struct {
	pool   *sqlite.Pool
	source string
	table  string
	logger *slog.Logger
}

func New(pool *sqlite.Pool, source, table string) *Index {
	return &Index{
		pool:   pool,
		source: source,
		table:  table,
		logger: slog.Default().With("component", "sqlitefts", "table", table),
	}
}

func (ix *Index) Backend() string {
	return backendName
}

func (ix *Index) Exists(ctx context.Context) (bool, error) {
	conn, err := ix.pool.Take(ctx)
	if err != nil {
		return false, err
	}
	defer ix.pool.Put(conn)
	return sqlite.TableExists(conn, ix.table)
}

// Build creates and fills the FTS5 table inside an immediate transaction,
// which also serialises concurrent builders on the database write lock.
func (ix *Index) Build(ctx context.Context, replace bool) (indexed int64, err error) {
	conn, err := ix.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer ix.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer endTransaction(&err)

	if !replace {
		exists, err := sqlite.TableExists(conn, ix.table)
		if err != nil {
			return 0, err
		}
		if exists {
			return countRows(conn, ix.table)
		}
	}

	table := sqlite.QuoteIdentifier(ix.table)
	script := fmt.Sprintf(`
		DROP TABLE IF EXISTS %[1]s;
		CREATE VIRTUAL TABLE %[1]s USING fts5(filename UNINDEXED, url UNINDEXED, content);
	`, table)
	if err = sqlitex.ExecuteScript(conn, script, nil); err != nil {
		return 0, fmt.Errorf("creating %s: %w", ix.table, err)
	}
	err = sqlitex.ExecuteTransient(conn, fmt.Sprintf(`
		INSERT INTO %s (filename, url, content)
		SELECT ifnull(filename, ''), ifnull(url, ''), ifnull(content, '')
		FROM %s ORDER BY rowid`, table, sqlite.QuoteIdentifier(ix.source)), nil)
	if err != nil {
		return 0, fmt.Errorf("populating %s from %s: %w", ix.table, ix.source, err)
	}
	indexed = int64(conn.Changes())
	ix.logger.Info("fts5 table populated", "documents", indexed)
	return indexed, nil
}

// Match runs the rendered expression as an FTS5 query. Expression terms are
// lowercase word runs, which FTS5 reads as barewords; its operators are
// uppercase only, so "or" inside a term list is never an operator while the
// " OR " separator is.
func (ix *Index) Match(ctx context.Context, expr parser.Expression) ([]document.Document, error) {
	if expr.IsEmpty() {
		return nil, apperrors.ErrMalformedPredicate
	}
	conn, err := ix.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer ix.pool.Put(conn)

	table := sqlite.QuoteIdentifier(ix.table)
	query := fmt.Sprintf(`SELECT filename, url, content FROM %[1]s WHERE %[1]s MATCH ?`, table)
	results := make([]document.Document, 0)
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: []any{expr.String()},
		ResultFunc: func(stmt *zsqlite.Stmt) error {
			results = append(results, document.Document{
				Filename: stmt.ColumnText(0),
				URL:      stmt.ColumnText(1),
				Content:  stmt.ColumnText(2),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", ix.table, err)
	}
	return results, nil
}

func (ix *Index) Count(ctx context.Context) (int64, error) {
	conn, err := ix.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer ix.pool.Put(conn)
	return countRows(conn, ix.table)
}

func countRows(conn *zsqlite.Conn, table string) (int64, error) {
	var n int64
	err := sqlitex.Execute(conn, fmt.Sprintf(`SELECT count(*) FROM %s`, sqlite.QuoteIdentifier(table)), &sqlitex.ExecOptions{
		ResultFunc: func(stmt *zsqlite.Stmt) error {
			n = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", table, err)
	}
	return n, nil
}
