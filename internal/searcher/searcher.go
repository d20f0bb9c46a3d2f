// Package searcher wires the query pipeline together: normalize the raw
// query, look the expression up in the cache or the index, and shape the
// matches for the caller.
package searcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/searcher/result"
	apperrors "github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/tracing"
)

const (
	cacheHit  = "hit"
	cacheMiss = "miss"
	cacheNone = "none"
)

// Options carries the optional collaborators of a Service. Zero values
// disable the corresponding feature.
type Options struct {
	Cache               *cache.QueryCache
	Tracker             analytics.Tracker
	Metrics             *metrics.Metrics
	BreakerThreshold    int
	BreakerResetTimeout time.Duration
}

// Service answers single free-text queries.
type Service struct {
	normalizer *parser.Normalizer
	executor   *executor.Executor
	shaper     *result.Shaper
	cache      *cache.QueryCache
	breaker    *resilience.CircuitBreaker
	tracker    analytics.Tracker
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewService(normalizer *parser.Normalizer, exec *executor.Executor, shaper *result.Shaper, opts Options) *Service {
	s := &Service{
		normalizer: normalizer,
		executor:   exec,
		shaper:     shaper,
		cache:      opts.Cache,
		tracker:    opts.Tracker,
		metrics:    opts.Metrics,
		logger:     slog.Default().With("component", "searcher"),
	}
	s.breaker = resilience.NewCircuitBreaker("index-"+exec.Backend(), resilience.CircuitBreakerConfig{
		FailureThreshold: opts.BreakerThreshold,
		ResetTimeout:     opts.BreakerResetTimeout,
		IsFailure:        isIndexFailure,
		OnStateChange: func(name string, to resilience.State) {
			if s.metrics != nil {
				s.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
	return s
}

// Normalize exposes the service's normalizer.
func (s *Service) Normalize(raw string) parser.Expression {
	return s.normalizer.Normalize(raw)
}

// HandleQuery runs raw through the pipeline. A query with no matches, or
// with no keywords left after stopword removal, yields NoMatch rather than
// an error. Index failures are reported as errors.ErrIndexUnavailable.
func (s *Service) HandleQuery(ctx context.Context, raw string) (*result.QueryResult, error) {
	start := time.Now()
	requestID := logger.RequestID(ctx)
	ctx, span := tracing.StartSpan(ctx, "query", requestID)
	defer func() {
		span.End()
		span.Log(ctx, s.logger)
	}()

	_, normSpan := tracing.StartChildSpan(ctx, "normalize")
	expr := s.normalizer.Normalize(raw)
	normSpan.SetAttr("terms", len(expr.Terms))
	normSpan.End()

	event := analytics.SearchEvent{
		Type:       analytics.EventSearch,
		Query:      raw,
		Expression: expr.String(),
		Backend:    s.executor.Backend(),
		Timestamp:  start.UTC(),
		RequestID:  requestID,
	}

	docs, cacheStatus, err := s.lookup(ctx, expr)
	if err != nil {
		s.finish(ctx, event, start, metrics.ResultError, cacheStatus, 0)
		return nil, err
	}

	_, shapeSpan := tracing.StartChildSpan(ctx, "shape")
	res := s.shaper.Shape(docs)
	shapeSpan.End()

	resultType := metrics.ResultMatch
	switch {
	case expr.IsEmpty():
		resultType = metrics.ResultEmptyExpression
	case res.NoMatch:
		resultType = metrics.ResultNoMatch
	}
	event.CacheHit = cacheStatus == cacheHit
	s.finish(ctx, event, start, resultType, cacheStatus, len(res.Documents))
	return res, nil
}

// InvalidateCache drops cached matches, if a cache is configured.
func (s *Service) InvalidateCache(ctx context.Context) (int64, error) {
	if s.cache == nil {
		return 0, nil
	}
	return s.cache.Invalidate(ctx)
}

// CacheStats reports cache hits and misses since start. enabled is false
// when no cache is configured.
func (s *Service) CacheStats() (hits, misses int64, enabled bool) {
	if s.cache == nil {
		return 0, 0, false
	}
	hits, misses = s.cache.Stats()
	return hits, misses, true
}

func (s *Service) lookup(ctx context.Context, expr parser.Expression) ([]document.Document, string, error) {
	if expr.IsEmpty() {
		docs, err := s.executor.Search(ctx, expr)
		return docs, cacheNone, err
	}

	search := func() ([]document.Document, error) {
		execCtx, span := tracing.StartChildSpan(ctx, "execute")
		defer span.End()
		var docs []document.Document
		err := s.breaker.Execute(func() error {
			var err error
			docs, err = s.executor.Search(execCtx, expr)
			return err
		})
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrIndexUnavailable, err)
		}
		span.SetAttr("hits", len(docs))
		return docs, err
	}

	if s.cache == nil {
		docs, err := search()
		return docs, cacheNone, err
	}
	cacheCtx, span := tracing.StartChildSpan(ctx, "cache")
	docs, hit, err := s.cache.GetOrCompute(cacheCtx, expr, search)
	span.SetAttr("hit", hit)
	span.End()
	if hit {
		return docs, cacheHit, err
	}
	return docs, cacheMiss, err
}

func (s *Service) finish(ctx context.Context, event analytics.SearchEvent, start time.Time, resultType, cacheStatus string, hits int) {
	elapsed := time.Since(start)
	switch resultType {
	case metrics.ResultError:
		event.Type = analytics.EventError
	case metrics.ResultNoMatch, metrics.ResultEmptyExpression:
		event.Type = analytics.EventNoMatch
	}
	event.Hits = hits
	event.LatencyMs = elapsed.Milliseconds()

	if s.metrics != nil {
		s.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
		s.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(elapsed.Seconds())
		if resultType != metrics.ResultError {
			s.metrics.SearchResultsCount.Observe(float64(hits))
		}
	}
	if s.tracker != nil {
		s.tracker.Track(event)
	}
	logger.FromContext(ctx).Info("query handled",
		"expression", event.Expression,
		"result", resultType,
		"hits", hits,
		"cache", cacheStatus,
		"duration_ms", elapsed.Milliseconds(),
	)
}

// isIndexFailure keeps caller cancellations from tripping the breaker.
func isIndexFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
