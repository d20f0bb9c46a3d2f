// Package pgfts keeps the full-text index in PostgreSQL: a mirror table of
// the documents with a tsvector over content and a GIN index on it.
//
// Terms are indexed with the 'simple' text search configuration (lowercase,
// no stemming, no stopwords) and queried with websearch_to_tsquery, which
// reads the rendered "a OR b" expression as a disjunction.
package pgfts

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/searcher/parser"
	apperrors "github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/postgres"
	"github.com/lib/pq"
)

const backendName = "postgres"

// Index is the PostgreSQL full-text index.
type Index struct {
	client *postgres.Client
	source string
	table  string
	logger *slog.Logger
}

// New returns an index named table mirroring the source documents table.
func New(client *postgres.Client, source, table string) *Index {
	return &Index{
		client: client,
		source: source,
		table:  table,
		logger: slog.Default().With("component", "pgfts", "table", table),
	}
}

func (ix *Index) Backend() string {
	return backendName
}

func (ix *Index) Exists(ctx context.Context) (bool, error) {
	return postgres.TableExists(ctx, ix.client.DB, ix.table)
}

// Build runs in one transaction holding an advisory lock keyed on the index
// name, so concurrent builders in other processes wait and then observe the
// finished table. PostgreSQL DDL is transactional: a failure rolls back to
// the previous state.
func (ix *Index) Build(ctx context.Context, replace bool) (int64, error) {
	var indexed int64
	err := ix.client.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ix.table); err != nil {
			return fmt.Errorf("acquiring build lock: %w", err)
		}
		if !replace {
			exists, err := postgres.TableExists(ctx, tx, ix.table)
			if err != nil {
				return err
			}
			if exists {
				n, err := countRows(ctx, tx, ix.table)
				indexed = n
				return err
			}
		}
		n, err := ix.build(ctx, tx)
		indexed = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return indexed, nil
}

func (ix *Index) build(ctx context.Context, tx *sql.Tx) (int64, error) {
	table := pq.QuoteIdentifier(ix.table)
	statements := []string{
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table),
		fmt.Sprintf(`CREATE TABLE %s (
			filename    TEXT NOT NULL,
			url         TEXT NOT NULL,
			content     TEXT NOT NULL,
			content_tsv TSVECTOR NOT NULL
		)`, table),
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return 0, fmt.Errorf("creating %s: %w", ix.table, err)
		}
	}

	res, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (filename, url, content, content_tsv)
		SELECT COALESCE(filename, ''), COALESCE(url, ''), COALESCE(content, ''),
		       to_tsvector('simple', COALESCE(content, ''))
		FROM %s`, table, pq.QuoteIdentifier(ix.source)))
	if err != nil {
		return 0, fmt.Errorf("populating %s from %s: %w", ix.table, ix.source, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting populated rows: %w", err)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`CREATE INDEX %s ON %s USING GIN (content_tsv)`,
		pq.QuoteIdentifier(ix.table+"_content_tsv_idx"), table))
	if err != nil {
		return 0, fmt.Errorf("creating GIN index on %s: %w", ix.table, err)
	}
	ix.logger.Info("full-text table populated", "documents", n)
	return n, nil
}

// Match holds one pooled connection for the duration of the query; the
// deferred rows.Close returns it on every path.
func (ix *Index) Match(ctx context.Context, expr parser.Expression) ([]document.Document, error) {
	if expr.IsEmpty() {
		return nil, apperrors.ErrMalformedPredicate
	}
	query := fmt.Sprintf(`
		SELECT filename, url, content
		FROM %s
		WHERE content_tsv @@ websearch_to_tsquery('simple', $1)`, pq.QuoteIdentifier(ix.table))
	rows, err := ix.client.DB.QueryContext(ctx, query, expr.String())
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", ix.table, err)
	}
	defer rows.Close()

	results := make([]document.Document, 0)
	for rows.Next() {
		var doc document.Document
		if err := rows.Scan(&doc.Filename, &doc.URL, &doc.Content); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", ix.table, err)
		}
		results = append(results, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", ix.table, err)
	}
	return results, nil
}

func (ix *Index) Count(ctx context.Context) (int64, error) {
	return countRows(ctx, ix.client.DB, ix.table)
}

func countRows(ctx context.Context, q postgres.Queryer, table string) (int64, error) {
	var n int64
	err := q.QueryRowContext(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, pq.QuoteIdentifier(table))).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", table, err)
	}
	return n, nil
}
