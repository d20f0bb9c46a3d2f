// Package app assembles the store, index and query pipeline from a Config.
// The service binaries and ksctl share it so they always agree on what the
// configuration means.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/indexer/memory"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/indexer/pgfts"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/indexer/sqlitefts"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/searcher/result"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/sqlite"
)

// Startup retry budgets. Errors that will not clear up by waiting, such as
// a rejected password, fail on the first attempt.
var (
	postgresRetry = resilience.RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		IsRetryable:  postgres.IsTransient,
	}
	sqliteRetry = resilience.RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		IsRetryable:  sqlite.IsBusy,
	}
	redisRetry = resilience.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		IsRetryable:  pkgredis.IsTransient,
	}
)

// Backend is an open document store plus the index over it.
type Backend struct {
	Store document.Store
	Index indexer.Index
	// Ping probes the store connection.
	Ping   func(ctx context.Context) error
	closer func() error
}

// Open connects to the configured store, retrying while it comes up, and
// selects the index backend.
func Open(ctx context.Context, cfg *config.Config) (*Backend, error) {
	b := &Backend{}
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		var client *postgres.Client
		err := resilience.Retry(ctx, "postgres-connect", postgresRetry, func() error {
			var err error
			client, err = postgres.New(cfg.Postgres)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrStoreUnavailable, err)
		}
		b.Store = document.NewPostgresStore(client.DB, cfg.Store.Table)
		b.Index = pgfts.New(client, cfg.Store.Table, cfg.Index.Table)
		b.Ping = client.Ping
		b.closer = client.Close
	case config.DriverSQLite:
		pool, err := sqlite.Open(cfg.SQLite)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrStoreUnavailable, err)
		}
		err = resilience.Retry(ctx, "sqlite-ping", sqliteRetry, func() error {
			return pool.Ping(ctx)
		})
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("%w: %w", apperrors.ErrStoreUnavailable, err)
		}
		b.Store = document.NewSQLiteStore(pool, cfg.Store.Table)
		b.Index = sqlitefts.New(pool, cfg.Store.Table, cfg.Index.Table)
		b.Ping = pool.Ping
		b.closer = pool.Close
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if cfg.Index.Backend == config.BackendMemory {
		b.Index = memory.NewMemoryIndex(b.Store)
	}
	slog.Info("backend opened",
		"driver", cfg.Store.Driver,
		"store_table", cfg.Store.Table,
		"index", b.Index.Backend(),
		"index_table", cfg.Index.Table,
	)
	return b, nil
}

// ConnectRedis opens the query-cache Redis client, retrying while the
// server is unreachable.
func ConnectRedis(ctx context.Context, cfg config.RedisConfig) (*pkgredis.Client, error) {
	var client *pkgredis.Client
	err := resilience.Retry(ctx, "redis-connect", redisRetry, func() error {
		var err error
		client, err = pkgredis.NewClient(ctx, cfg)
		return err
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// InvalidateCacheOnRebuild connects to the shared query cache and flushes it
// after every successful rebuild by builder, so searchers stop serving
// matches from the old index. Without Redis it does nothing. The returned
// func closes the connection.
func InvalidateCacheOnRebuild(ctx context.Context, cfg *config.Config, builder *indexer.Builder, m *metrics.Metrics) (func() error, error) {
	if !cfg.Redis.Enabled {
		return func() error { return nil }, nil
	}
	client, err := ConnectRedis(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	qc := cache.New(client, cfg.Redis.CacheTTL, m)
	builder.OnRebuild(func(ctx context.Context) {
		if _, err := qc.Invalidate(ctx); err != nil {
			slog.Warn("cache invalidation after rebuild failed", "error", err)
		}
	})
	return client.Close, nil
}

func (b *Backend) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer()
}

// Ready reports an error unless the index exists. It is the readiness probe
// for the index.
func (b *Backend) Ready(ctx context.Context) error {
	exists, err := b.Index.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return errors.New("index has not been built")
	}
	return nil
}

// NewNormalizer loads the configured stopword file, or the built-in set.
func NewNormalizer(cfg config.SearchConfig) (*parser.Normalizer, error) {
	stopwords, err := parser.LoadStopwords(cfg.StopwordsFile)
	if err != nil {
		return nil, err
	}
	return parser.NewNormalizer(stopwords), nil
}

// NewService builds the query pipeline over idx.
func NewService(cfg *config.Config, idx indexer.Index, opts searcher.Options) (*searcher.Service, error) {
	normalizer, err := NewNormalizer(cfg.Search)
	if err != nil {
		return nil, err
	}
	if opts.BreakerThreshold == 0 {
		opts.BreakerThreshold = cfg.Search.BreakerThreshold
	}
	if opts.BreakerResetTimeout == 0 {
		opts.BreakerResetTimeout = cfg.Search.BreakerResetTimeout
	}
	return searcher.NewService(
		normalizer,
		executor.New(idx),
		result.NewShaper(cfg.Search.ContentPreviewLength),
		opts,
	), nil
}
