package analytics

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/kafka"
)

// HandleEvent returns a Kafka handler that decodes SearchEvents published by
// Collector and feeds them to t. Undecodable messages are logged and
// skipped so one bad payload cannot stall the partition.
func HandleEvent(t Tracker) kafka.MessageHandler {
	log := slog.Default().With("component", "analytics-consumer")
	return func(ctx context.Context, key, value []byte) error {
		event, err := kafka.DecodeJSON[SearchEvent](value)
		if err != nil {
			log.Warn("skipping malformed search event", "key", string(key), "error", err)
			return nil
		}
		t.Track(event)
		return nil
	}
}

// StatsHandler serves a's current Stats as JSON.
func StatsHandler(a *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(a.Stats()); err != nil {
			slog.Error("failed to write analytics stats", "error", err)
		}
	}
}
