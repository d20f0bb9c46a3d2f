// Command analytics aggregates search events across every searcher replica.
//
// It consumes the search-analytics Kafka topic that searchers publish to,
// folds the events into an in-memory Aggregator and serves the result at
// GET /api/v1/analytics/stats.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
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

	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/middleware"
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
	if !cfg.Kafka.Enabled {
		slog.Error("analytics service requires kafka.enabled")
		os.Exit(1)
	}
	slog.Info("starting analytics service",
		"port", cfg.Server.Port,
		"topic", cfg.Kafka.Topics.AnalyticsEvents,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	aggregator := analytics.NewAggregator()
	events := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.GroupID(config.RoleAnalytics), cfg.Kafka.Topics.AnalyticsEvents, analytics.HandleEvent(aggregator))
	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- events.Run(ctx)
	}()

	checker := health.NewChecker(0)
	checker.Register("consumer", func(ctx context.Context) error {
		select {
		case err := <-consumerDone:
			consumerDone <- err
			return fmt.Errorf("consumer exited: %v", err)
		default:
			return nil
		}
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics/stats", analytics.StatsHandler(aggregator))
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.Chain(mux, middleware.RequestID, middleware.CORS(cfg.CORS)),
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

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("analytics service stopped")
}
