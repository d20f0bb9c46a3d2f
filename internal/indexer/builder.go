package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/metrics"
)

// Builder serialises index construction for one Index. EnsureIndex is the
// startup path; Rebuild is the hook for ingestion after bulk writes.
type Builder struct {
	index     Index
	metrics   *metrics.Metrics
	logger    *slog.Logger
	mu        sync.Mutex
	listeners []func(ctx context.Context)
}

// NewBuilder wraps idx. m may be nil.
func NewBuilder(idx Index, m *metrics.Metrics) *Builder {
	return &Builder{
		index:   idx,
		metrics: m,
		logger:  slog.Default().With("component", "index-builder", "backend", idx.Backend()),
	}
}

// Index returns the wrapped index.
func (b *Builder) Index() Index {
	return b.index
}

// OnRebuild registers fn to run after every successful Rebuild, e.g. to
// drop cached query results.
func (b *Builder) OnRebuild(fn func(ctx context.Context)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

// EnsureIndex builds the index if it does not exist yet. When it exists the
// call only probes, so it is safe while searches are running.
func (b *Builder) EnsureIndex(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	exists, err := b.index.Exists(ctx)
	if err != nil {
		b.record("ensure", "error", 0)
		return fmt.Errorf("%w: probing %s index: %w", apperrors.ErrIndexUnavailable, b.index.Backend(), err)
	}
	if exists {
		b.logger.Debug("index already present")
		b.record("ensure", "noop", 0)
		return nil
	}

	b.logger.Info("index missing, building")
	start := time.Now()
	n, err := b.index.Build(ctx, false)
	elapsed := time.Since(start)
	if err != nil {
		b.record("ensure", "error", elapsed)
		return fmt.Errorf("%w: building %s index: %w", apperrors.ErrIndexUnavailable, b.index.Backend(), err)
	}
	b.record("ensure", "success", elapsed)
	b.setDocs(n)
	b.logger.Info("index built", "documents", n, "duration_ms", elapsed.Milliseconds())
	return nil
}

// Rebuild drops and recreates the index from the current store contents,
// then notifies OnRebuild listeners.
func (b *Builder) Rebuild(ctx context.Context) error {
	b.mu.Lock()
	start := time.Now()
	n, err := b.index.Build(ctx, true)
	elapsed := time.Since(start)
	if err != nil {
		b.mu.Unlock()
		b.record("rebuild", "error", elapsed)
		return fmt.Errorf("%w: rebuilding %s index: %w", apperrors.ErrIndexUnavailable, b.index.Backend(), err)
	}
	listeners := make([]func(context.Context), len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.Unlock()

	b.record("rebuild", "success", elapsed)
	b.setDocs(n)
	b.logger.Info("index rebuilt", "documents", n, "duration_ms", elapsed.Milliseconds())
	for _, fn := range listeners {
		fn(ctx)
	}
	return nil
}

func (b *Builder) record(kind, status string, elapsed time.Duration) {
	if b.metrics == nil {
		return
	}
	b.metrics.IndexBuildsTotal.WithLabelValues(b.index.Backend(), kind, status).Inc()
	if elapsed > 0 {
		b.metrics.IndexBuildDuration.WithLabelValues(b.index.Backend()).Observe(elapsed.Seconds())
	}
}

func (b *Builder) setDocs(n int64) {
	if b.metrics == nil {
		return
	}
	b.metrics.IndexedDocuments.WithLabelValues(b.index.Backend()).Set(float64(n))
}
