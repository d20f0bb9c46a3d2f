// Package kafka wraps segmentio/kafka-go for the service's two topics:
// reindex requests coming in and search analytics going out. Payloads are
// JSON.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/resilience"
	"github.com/segmentio/kafka-go"
)

// MessageHandler processes one message. A returned error is retried with
// backoff; wrap it with resilience.Permanent to skip the message instead.
type MessageHandler func(ctx context.Context, key, value []byte) error

// handlerRetry retries a failing message until it succeeds. Later messages
// on the partition wait, so a failed reindex is never committed past.
var handlerRetry = resilience.RetryConfig{
	MaxAttempts:  resilience.RetryForever,
	InitialDelay: time.Second,
	MaxDelay:     30 * time.Second,
}

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads a topic as a member of one consumer group.
type Consumer struct {
	reader  reader
	topic   string
	logger  *slog.Logger
	handler MessageHandler
	retry   resilience.RetryConfig
}

// NewConsumer joins groupID on topic. Consumers that must each see every
// message need distinct group IDs; see config.KafkaConfig.GroupID.
func NewConsumer(cfg config.KafkaConfig, groupID, topic string, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    1e6,
		StartOffset: kafka.LastOffset,
	})
	return newConsumer(r, topic, groupID, handler, handlerRetry)
}

func newConsumer(r reader, topic, groupID string, handler MessageHandler, retry resilience.RetryConfig) *Consumer {
	return &Consumer{
		reader:  r,
		topic:   topic,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic, "group", groupID),
		handler: handler,
		retry:   retry,
	}
}

// Run fetches and handles messages until ctx is cancelled, then closes the
// reader. A message is committed only once handled, or once its handler
// fails permanently. If the retry budget runs out Run returns the error with
// the message uncommitted, so it is redelivered to the next group member.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("consumer started")
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.logger.Info("consumer stopping")
				return nil
			}
			c.logger.Error("fetch failed", "error", err)
			continue
		}

		err = resilience.Retry(ctx, "handle "+c.topic, c.retry, func() error {
			return c.handler(ctx, msg.Key, msg.Value)
		})
		switch {
		case err == nil:
		case resilience.IsPermanent(err):
			c.logger.Error("skipping message after permanent failure",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		case ctx.Err() != nil:
			c.logger.Info("consumer stopping, message left uncommitted",
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
			return nil
		default:
			return fmt.Errorf("handling %s offset %d: %w", c.topic, msg.Offset, err)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("commit failed",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// DecodeJSON unmarshals a message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
