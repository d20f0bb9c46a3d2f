package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/searcher/parser"
	apperrors "github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/errors"
)

// Matcher is the part of indexer.Index the executor needs.
type Matcher interface {
	Backend() string
	Match(ctx context.Context, expr parser.Expression) ([]document.Document, error)
}

// Executor runs keyword expressions against the full-text index. It holds no
// mutable state and is safe for concurrent use.
type Executor struct {
	matcher Matcher
	logger  *slog.Logger
}

func New(matcher Matcher) *Executor {
	return &Executor{
		matcher: matcher,
		logger:  slog.Default().With("component", "query-executor", "backend", matcher.Backend()),
	}
}

// Backend names the index the executor queries.
func (e *Executor) Backend() string {
	return e.matcher.Backend()
}

// Search returns every document whose content contains at least one term of
// expr, in the index's native order. An empty expression yields an empty
// slice without touching the index.
func (e *Executor) Search(ctx context.Context, expr parser.Expression) ([]document.Document, error) {
	if expr.IsEmpty() {
		return []document.Document{}, nil
	}

	start := time.Now()
	docs, err := e.matcher.Match(ctx, expr)
	if err != nil {
		e.logger.Error("index query failed", "expression", expr.String(), "error", err)
		return nil, fmt.Errorf("%w: matching %q: %w", apperrors.ErrIndexUnavailable, expr.String(), err)
	}
	if docs == nil {
		docs = []document.Document{}
	}
	e.logger.Debug("index query executed",
		"expression", expr.String(),
		"hits", len(docs),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return docs, nil
}
