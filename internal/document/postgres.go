package document

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore reads documents from a PostgreSQL table with columns
// (filename, url, content).
type PostgresStore struct {
	db    *sql.DB
	table string
}

func NewPostgresStore(db *sql.DB, table string) *PostgresStore {
	return &PostgresStore{db: db, table: table}
}

func (s *PostgresStore) Each(ctx context.Context, fn func(Document) error) error {
	query := fmt.Sprintf(
		`SELECT COALESCE(filename, ''), COALESCE(url, ''), COALESCE(content, '') FROM %s`,
		pq.QuoteIdentifier(s.table),
	)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("querying %s: %w", s.table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.Filename, &doc.URL, &doc.Content); err != nil {
			return fmt.Errorf("scanning %s row: %w", s.table, err)
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating %s: %w", s.table, err)
	}
	return nil
}

func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	query := fmt.Sprintf(`SELECT count(*) FROM %s`, pq.QuoteIdentifier(s.table))
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", s.table, err)
	}
	return n, nil
}
