package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/app"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/metrics"
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
	if cfg.Index.Backend == config.BackendMemory {
		slog.Error("the memory index lives inside the search service; run the indexer with index.backend=native")
		os.Exit(1)
	}
	slog.Info("starting indexer service", "driver", cfg.Store.Driver, "kafka", cfg.Kafka.Enabled)

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
	closeCache, err := app.InvalidateCacheOnRebuild(ctx, cfg, builder, m)
	if err != nil {
		slog.Warn("redis unavailable, searcher caches will expire by TTL after rebuilds", "error", err)
	} else {
		defer closeCache()
	}
	if err := builder.EnsureIndex(ctx); err != nil {
		slog.Error("search index unavailable", "error", err)
		os.Exit(1)
	}

	if !cfg.Kafka.Enabled {
		slog.Info("kafka disabled, index ensured, exiting")
		return
	}

	group := cfg.Kafka.GroupID(config.RoleIndexer)
	reindex := kafka.NewConsumer(cfg.Kafka, group, cfg.Kafka.Topics.DocumentsChanged, consumer.NewReindexHandler(builder).Handle)
	slog.Info("consuming reindex requests", "topic", cfg.Kafka.Topics.DocumentsChanged, "group", group)
	if err := reindex.Run(ctx); err != nil {
		slog.Error("reindex consumer error", "error", err)
		os.Exit(1)
	}
	slog.Info("indexer service stopped")
}
