// Package analytics records what users search for. Each query produces one
// SearchEvent, which is published to Kafka by Collector and summarised
// in-process by Aggregator.
package analytics

import "time"

type EventType string

const (
	EventSearch  EventType = "search"
	EventNoMatch EventType = "no_match"
	EventError   EventType = "error"
)

// SearchEvent describes one handled query.
type SearchEvent struct {
	Type       EventType `json:"type"`
	Query      string    `json:"query"`
	Expression string    `json:"expression"`
	Hits       int       `json:"hits"`
	LatencyMs  int64     `json:"latency_ms"`
	CacheHit   bool      `json:"cache_hit"`
	Backend    string    `json:"backend"`
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id,omitempty"`
}

// Tracker accepts search events. Implementations must not block.
type Tracker interface {
	Track(event SearchEvent)
}

// Trackers fans an event out to every tracker in the list.
type Trackers []Tracker

func (ts Trackers) Track(event SearchEvent) {
	for _, t := range ts {
		t.Track(event)
	}
}
