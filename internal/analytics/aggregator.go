package analytics

import (
	"sort"
	"sync"
	"time"
)

const (
	latencyWindow = 10000
	topQueries    = 10
)

// Stats summarises the events seen since the aggregator started.
type Stats struct {
	TotalSearches    int64        `json:"total_searches"`
	NoMatchCount     int64        `json:"no_match_count"`
	ErrorCount       int64        `json:"error_count"`
	CacheHits        int64        `json:"cache_hits"`
	AvgLatencyMs     float64      `json:"avg_latency_ms"`
	P50LatencyMs     int64        `json:"p50_latency_ms"`
	P95LatencyMs     int64        `json:"p95_latency_ms"`
	P99LatencyMs     int64        `json:"p99_latency_ms"`
	TopQueries       []QueryCount `json:"top_queries"`
	NoMatchQueries   []QueryCount `json:"no_match_queries"`
	QueriesPerMinute float64      `json:"queries_per_minute"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator keeps in-process counters over search events. Queries are
// grouped by their normalized expression so "ADHD cases" and "adhd" count
// together. Latency percentiles cover the most recent events only.
type Aggregator struct {
	mu        sync.Mutex
	total     int64
	noMatch   int64
	errors    int64
	cacheHits int64
	latencies []int64
	next      int
	queries   map[string]int64
	noMatches map[string]int64
	startTime time.Time
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies: make([]int64, 0, latencyWindow),
		queries:   make(map[string]int64),
		noMatches: make(map[string]int64),
		startTime: time.Now(),
	}
}

func (a *Aggregator) Track(event SearchEvent) {
	key := event.Expression
	if key == "" {
		key = event.Query
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.total++
	if event.CacheHit {
		a.cacheHits++
	}
	switch event.Type {
	case EventNoMatch:
		a.noMatch++
		a.noMatches[key]++
	case EventError:
		a.errors++
	}
	a.queries[key]++

	if len(a.latencies) < latencyWindow {
		a.latencies = append(a.latencies, event.LatencyMs)
	} else {
		a.latencies[a.next] = event.LatencyMs
		a.next = (a.next + 1) % latencyWindow
	}
}

func (a *Aggregator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := Stats{
		TotalSearches:  a.total,
		NoMatchCount:   a.noMatch,
		ErrorCount:     a.errors,
		CacheHits:      a.cacheHits,
		TopQueries:     topN(a.queries, topQueries),
		NoMatchQueries: topN(a.noMatches, topQueries),
	}
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	if elapsed := time.Since(a.startTime).Minutes(); elapsed > 0 {
		stats.QueriesPerMinute = float64(a.total) / elapsed
	}
	return stats
}

func percentile(sorted []int64, pct int) int64 {
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN returns the n largest counts, ties broken by query for stable output.
func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Query < result[j].Query
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
