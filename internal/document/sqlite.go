package document

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/sqlite"
	zsqlite "zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// SQLiteStore reads documents from an SQLite table with columns
// (filename, url, content).
type SQLiteStore struct {
	pool  *sqlite.Pool
	table string
}

func NewSQLiteStore(pool *sqlite.Pool, table string) *SQLiteStore {
	return &SQLiteStore{pool: pool, table: table}
}

func (s *SQLiteStore) Each(ctx context.Context, fn func(Document) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	query := fmt.Sprintf(
		`SELECT ifnull(filename, ''), ifnull(url, ''), ifnull(content, '') FROM %s ORDER BY rowid`,
		sqlite.QuoteIdentifier(s.table),
	)
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *zsqlite.Stmt) error {
			return fn(Document{
				Filename: stmt.ColumnText(0),
				URL:      stmt.ColumnText(1),
				Content:  stmt.ColumnText(2),
			})
		},
	})
	if err != nil {
		return fmt.Errorf("querying %s: %w", s.table, err)
	}
	return nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	var n int64
	query := fmt.Sprintf(`SELECT count(*) FROM %s`, sqlite.QuoteIdentifier(s.table))
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *zsqlite.Stmt) error {
			n = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", s.table, err)
	}
	return n, nil
}
