// Package cache memoises index matches per normalized keyword expression in
// Redis. Concurrent misses for the same expression share one index query.
//
// Keys carry a generation number kept in Redis. Invalidate bumps it, so a
// search that read the index before a rebuild and finishes after the
// invalidation writes under a generation nobody reads any more.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/redis"
	"golang.org/x/sync/singleflight"
)

const (
	keyPrefix = "search:"
	// generationKey must not match keyPrefix+"*" or Invalidate would reset it.
	generationKey = "search-generation"
)

// Store is the key-value backend. *redis.Client implements it.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// QueryCache caches []document.Document per expression.
type QueryCache struct {
	store   Store
	ttl     time.Duration
	metrics *metrics.Metrics
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New creates a cache over store. m may be nil.
func New(store Store, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		store:   store,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

// Get looks up the cached matches for expr in the current generation.
// Backend and decode errors count as misses.
func (c *QueryCache) Get(ctx context.Context, expr parser.Expression) ([]document.Document, bool) {
	gen, err := c.generation(ctx)
	if err != nil {
		c.miss()
		return nil, false
	}
	return c.get(ctx, Key(gen, expr), expr)
}

func (c *QueryCache) get(ctx context.Context, key string, expr parser.Expression) ([]document.Document, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var docs []document.Document
	if err := json.Unmarshal(data, &docs); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	if docs == nil {
		docs = []document.Document{}
	}
	c.hit()
	c.logger.Debug("cache hit", "expression", expr.String(), "key", key)
	return docs, true
}

// Set stores docs for expr in the current generation. Failures are logged,
// not returned.
func (c *QueryCache) Set(ctx context.Context, expr parser.Expression, docs []document.Document) {
	gen, err := c.generation(ctx)
	if err != nil {
		return
	}
	c.set(ctx, Key(gen, expr), docs)
}

func (c *QueryCache) set(ctx context.Context, key string, docs []document.Document) {
	data, err := json.Marshal(docs)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached matches for expr, or runs compute once per
// expression across concurrent callers and caches its result. The result is
// stored under the generation read before compute ran, so matches computed
// across an invalidation are never served afterwards. When the generation
// cannot be read the cache is bypassed. The bool reports a cache hit.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	expr parser.Expression,
	compute func() ([]document.Document, error),
) ([]document.Document, bool, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		c.miss()
		docs, err := compute()
		return docs, false, err
	}
	key := Key(gen, expr)
	if docs, ok := c.get(ctx, key, expr); ok {
		return docs, true, nil
	}
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		docs, err := compute()
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, docs)
		return docs, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.([]document.Document), false, nil
}

// generation reads the current key generation. An unset generation is 0.
func (c *QueryCache) generation(ctx context.Context) (int64, error) {
	data, err := c.store.Get(ctx, generationKey)
	if err != nil {
		if pkgredis.IsNilError(err) {
			return 0, nil
		}
		c.logger.Error("cache generation read failed", "error", err)
		return 0, err
	}
	gen, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		c.logger.Error("cache generation is not a number", "value", string(data), "error", err)
		return 0, err
	}
	return gen, nil
}

// Invalidate moves to a new generation, then drops every cached expression.
// Entries written late under an older generation are unreachable and expire
// with their TTL.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	gen, err := c.store.Incr(ctx, generationKey)
	if err != nil {
		return 0, fmt.Errorf("advancing cache generation: %w", err)
	}
	deleted, err := c.store.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "generation", gen, "keys_deleted", deleted)
	return deleted, nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Key derives the cache key for expr in generation gen. Expressions that
// render the same string share a key within a generation.
func Key(gen int64, expr parser.Expression) string {
	hash := sha256.Sum256([]byte(expr.String()))
	return fmt.Sprintf("%s%d:%x", keyPrefix, gen, hash[:16])
}

func (c *QueryCache) hit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}
