// Package consumer turns documents-changed events from the ingestion side
// into index rebuilds.
package consumer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/kafka"
)

// ReindexRequest is published after the documents table has been written.
type ReindexRequest struct {
	Reason      string    `json:"reason"`
	Source      string    `json:"source,omitempty"`
	Documents   int       `json:"documents,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// Rebuilder rebuilds the index; indexer.Builder implements it.
type Rebuilder interface {
	Rebuild(ctx context.Context) error
}

// ReindexHandler rebuilds the index once per request. A request stamped
// before the start of the last successful rebuild is already covered by it
// and is skipped, so a burst of events costs one rebuild.
type ReindexHandler struct {
	rebuilder Rebuilder
	logger    *slog.Logger
	now       func() time.Time

	mu          sync.Mutex
	lastRebuild time.Time
}

func NewReindexHandler(r Rebuilder) *ReindexHandler {
	return &ReindexHandler{
		rebuilder: r,
		logger:    slog.Default().With("component", "reindex-consumer"),
		now:       time.Now,
	}
}

// Handle is a kafka.MessageHandler. Undecodable messages are logged and
// committed. A failed rebuild is returned; kafka.Consumer retries the same
// message with backoff and reads nothing further until it succeeds.
func (h *ReindexHandler) Handle(ctx context.Context, key, value []byte) error {
	req, err := kafka.DecodeJSON[ReindexRequest](value)
	if err != nil {
		h.logger.Error("dropping undecodable reindex request", "key", string(key), "error", err)
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if !req.RequestedAt.IsZero() && req.RequestedAt.Before(h.lastRebuild) {
		h.logger.Debug("reindex request already covered",
			"reason", req.Reason,
			"requested_at", req.RequestedAt,
			"last_rebuild", h.lastRebuild,
		)
		return nil
	}

	start := h.now()
	if err := h.rebuilder.Rebuild(ctx); err != nil {
		return err
	}
	h.lastRebuild = start
	h.logger.Info("index rebuilt on request",
		"reason", req.Reason,
		"source", req.Source,
		"documents", req.Documents,
	)
	return nil
}
