package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/app"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/ratelimit"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults apply when empty)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"driver", cfg.Store.Driver,
		"index_backend", cfg.Index.Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := app.Open(ctx, cfg)
	if err != nil {
		slog.Error("failed to open document store", "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		shutdownMetrics := m.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	builder := indexer.NewBuilder(backend.Index, m)
	if cfg.Index.EnsureOnStartup || cfg.Index.Backend == config.BackendMemory {
		if err := builder.EnsureIndex(ctx); err != nil {
			slog.Error("search index unavailable", "error", err)
			os.Exit(1)
		}
	}

	checker := health.NewChecker(0)
	checker.Register("store", backend.Ping)
	checker.Register("index", backend.Ready)

	var queryCache *cache.QueryCache
	if cfg.Redis.Enabled {
		redisClient, err := app.ConnectRedis(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, query caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			checker.RegisterOptional("redis", redisClient.Ping)
			slog.Info("query cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	aggregator := analytics.NewAggregator()
	trackers := analytics.Trackers{aggregator}
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		defer producer.Close()
		collector := analytics.NewCollector(producer, 0)
		collector.Start(ctx)
		defer collector.Close()
		trackers = append(trackers, collector)
	}

	svc, err := app.NewService(cfg, backend.Index, searcher.Options{
		Cache:   queryCache,
		Tracker: trackers,
		Metrics: m,
	})
	if err != nil {
		slog.Error("failed to build search service", "error", err)
		os.Exit(1)
	}
	builder.OnRebuild(func(ctx context.Context) {
		if _, err := svc.InvalidateCache(ctx); err != nil {
			slog.Warn("cache invalidation after rebuild failed", "error", err)
		}
	})

	// A native index is shared and rebuilt by cmd/indexer. An in-memory index
	// belongs to this process, which therefore needs every reindex event.
	if cfg.Kafka.Enabled && cfg.Index.Backend == config.BackendMemory {
		group := cfg.Kafka.InstanceGroupID(config.RoleSearcher)
		reindex := kafka.NewConsumer(cfg.Kafka, group, cfg.Kafka.Topics.DocumentsChanged, consumer.NewReindexHandler(builder).Handle)
		slog.Info("consuming reindex requests", "topic", cfg.Kafka.Topics.DocumentsChanged, "group", group)
		go func() {
			if err := reindex.Run(ctx); err != nil {
				slog.Error("reindex consumer stopped", "error", err)
			}
		}()
	}

	h := handler.New(svc, builder, aggregator, cfg.Search.NoMatchMessage)
	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	mws := []func(http.Handler) http.Handler{middleware.RequestID, middleware.CORS(cfg.CORS)}
	if m != nil {
		mws = append(mws, middleware.Metrics(m, append(handler.Paths(), "/health/live", "/health/ready")...))
	}
	if cfg.RateLimit.Enabled {
		limiter := ratelimit.New(cfg.RateLimit.Requests, cfg.RateLimit.Window)
		go limiter.RunSweeper(ctx, 5*time.Minute)
		mws = append(mws, middleware.RateLimit(limiter, m, "/health", "/api/v1/admin"))
	}
	mws = append(mws, middleware.Timeout(cfg.Server.WriteTimeout))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.Chain(mux, mws...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}
