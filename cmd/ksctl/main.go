package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/app"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/logger"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "ksctl",
		Usage: "Administer the knowledge-search index",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				EnvVars: []string{"KS_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "warn",
			},
		},
		Before: func(c *cli.Context) error {
			logger.Setup(c.String("log-level"), "text")
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "ensure",
				Usage:  "Build the full-text index if it does not exist",
				Action: ensureCommand,
			},
			{
				Name:   "rebuild",
				Usage:  "Drop and rebuild the full-text index from the documents table",
				Action: rebuildCommand,
			},
			{
				Name:      "query",
				Usage:     "Run a free-text query and print the response body",
				ArgsUsage: "<text>",
				Action:    queryCommand,
			},
			{
				Name:      "normalize",
				Usage:     "Print the keyword expression a query normalizes to",
				ArgsUsage: "<text>",
				Action:    normalizeCommand,
			},
			{
				Name:  "request-reindex",
				Usage: "Publish a reindex request for running indexers",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "reason",
						Usage: "Why the index needs rebuilding",
						Value: "manual",
					},
				},
				Action: requestReindexCommand,
			},
		},
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	return config.Load(c.String("config"))
}

func withBackend(c *cli.Context, fn func(ctx context.Context, cfg *config.Config, b *app.Backend) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := app.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(ctx, cfg, b)
}

func ensureCommand(c *cli.Context) error {
	return withBackend(c, func(ctx context.Context, _ *config.Config, b *app.Backend) error {
		if err := indexer.NewBuilder(b.Index, nil).EnsureIndex(ctx); err != nil {
			return err
		}
		n, err := b.Index.Count(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%s index ready: %d documents\n", b.Index.Backend(), n)
		return nil
	})
}

func rebuildCommand(c *cli.Context) error {
	return withBackend(c, func(ctx context.Context, cfg *config.Config, b *app.Backend) error {
		if cfg.Index.Backend == config.BackendMemory {
			return cli.Exit("the memory index lives inside each search service; publish a reindex request instead", 1)
		}
		builder := indexer.NewBuilder(b.Index, nil)
		closeCache, err := app.InvalidateCacheOnRebuild(ctx, cfg, builder, nil)
		if err != nil {
			return fmt.Errorf("connecting to the query cache: %w", err)
		}
		defer closeCache()
		start := time.Now()
		if err := builder.Rebuild(ctx); err != nil {
			return err
		}
		n, err := b.Index.Count(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%s index rebuilt: %d documents in %s\n", b.Index.Backend(), n, time.Since(start).Round(time.Millisecond))
		return nil
	})
}

func queryCommand(c *cli.Context) error {
	text := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(text) == "" {
		return cli.Exit("Query is required.", 2)
	}
	return withBackend(c, func(ctx context.Context, cfg *config.Config, b *app.Backend) error {
		if err := indexer.NewBuilder(b.Index, nil).EnsureIndex(ctx); err != nil {
			return err
		}
		svc, err := app.NewService(cfg, b.Index, searcher.Options{})
		if err != nil {
			return err
		}
		res, err := svc.HandleQuery(ctx, text)
		if err != nil {
			return err
		}
		var body any = handler.QueryResponse{Results: res.Documents}
		if res.NoMatch {
			body = handler.NoMatchResponse{Answer: cfg.Search.NoMatchMessage}
		}
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(body)
	})
}

func normalizeCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	normalizer, err := app.NewNormalizer(cfg.Search)
	if err != nil {
		return err
	}
	expr := normalizer.Normalize(strings.Join(c.Args().Slice(), " "))
	if expr.IsEmpty() {
		fmt.Fprintln(c.App.Writer, "(empty expression)")
		return nil
	}
	fmt.Fprintln(c.App.Writer, expr.String())
	return nil
}

func requestReindexCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return cli.Exit("kafka.brokers is not configured", 2)
	}
	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.DocumentsChanged)
	defer producer.Close()

	req := consumer.ReindexRequest{
		Reason:      c.String("reason"),
		Source:      "ksctl",
		RequestedAt: time.Now().UTC(),
	}
	ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
	defer cancel()
	if err := producer.Publish(ctx, kafka.Event{Key: "reindex", Value: req}); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "reindex requested on %s\n", cfg.Kafka.Topics.DocumentsChanged)
	return nil
}
