// Package indexer keeps a full-text index over the canonical document store.
// The index technology is pluggable through the Index interface; Builder
// owns its lifecycle (ensure-exists and rebuild).
package indexer

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/searcher/parser"
)

// Index is a full-text index over the content of the document store.
//
// Only the content field is searchable. Filename and URL are carried along
// so matches can be returned without a second lookup.
type Index interface {
	// Backend names the index technology ("postgres", "sqlite", "memory").
	Backend() string

	// Exists probes for a complete index without building anything. A
	// missing index is reported as (false, nil), never as an error.
	Exists(ctx context.Context) (bool, error)

	// Build creates the index from every current store row and returns the
	// number of documents indexed. With replace unset an existing index is
	// left alone. With replace set it is dropped and rebuilt. Either way the
	// build is atomic: after a failure Exists reports the previous state.
	Build(ctx context.Context, replace bool) (int64, error)

	// Match returns every indexed document whose content contains at least
	// one term of expr, in the engine's native order. An empty expression is
	// rejected with errors.ErrMalformedPredicate.
	Match(ctx context.Context, expr parser.Expression) ([]document.Document, error)

	// Count returns the number of indexed documents.
	Count(ctx context.Context) (int64, error)
}
