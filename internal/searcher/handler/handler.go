package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/searcher/result"
	apperrors "github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/logger"
)

const (
	PathQuery           = "/query"
	PathSearch          = "/api/v1/search"
	PathReindex         = "/api/v1/admin/reindex"
	PathCacheStats      = "/api/v1/cache/stats"
	PathCacheInvalidate = "/api/v1/cache/invalidate"
	PathAnalyticsStats  = "/api/v1/analytics/stats"

	msgQueryRequired = "Query is required."
)

// Searcher is the query side of searcher.Service.
type Searcher interface {
	HandleQuery(ctx context.Context, raw string) (*result.QueryResult, error)
	InvalidateCache(ctx context.Context) (int64, error)
	CacheStats() (hits, misses int64, enabled bool)
}

// Reindexer rebuilds the index; indexer.Builder implements it.
type Reindexer interface {
	Rebuild(ctx context.Context) error
}

// StatsSource reports search analytics; analytics.Aggregator implements it.
type StatsSource interface {
	Stats() analytics.Stats
}

// QueryResponse is the body of a successful query with matches.
type QueryResponse struct {
	Results []document.Document `json:"results"`
}

// NoMatchResponse is the body of a query without matches.
type NoMatchResponse struct {
	Answer string `json:"answer"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type Handler struct {
	searcher       Searcher
	reindexer      Reindexer
	stats          StatsSource
	noMatchMessage string
	logger         *slog.Logger
}

// New creates the HTTP handler. reindexer and stats may be nil, which
// disables their endpoints.
func New(s Searcher, reindexer Reindexer, stats StatsSource, noMatchMessage string) *Handler {
	return &Handler{
		searcher:       s,
		reindexer:      reindexer,
		stats:          stats,
		noMatchMessage: noMatchMessage,
		logger:         slog.Default().With("component", "search-handler"),
	}
}

// Register mounts every endpoint on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+PathQuery, h.Query)
	mux.HandleFunc("GET "+PathSearch, h.Query)
	mux.HandleFunc("POST "+PathReindex, h.Reindex)
	mux.HandleFunc("GET "+PathCacheStats, h.CacheStats)
	mux.HandleFunc("POST "+PathCacheInvalidate, h.CacheInvalidate)
	mux.HandleFunc("GET "+PathAnalyticsStats, h.AnalyticsStats)
}

// Paths lists the mounted paths, for metrics labels.
func Paths() []string {
	return []string{PathQuery, PathSearch, PathReindex, PathCacheStats, PathCacheInvalidate, PathAnalyticsStats}
}

// Query answers GET /query?q=. An empty or blank q is rejected before the
// search pipeline runs.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if strings.TrimSpace(q) == "" {
		h.writeFailure(w, r, "query rejected", apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, msgQueryRequired))
		return
	}

	res, err := h.searcher.HandleQuery(r.Context(), q)
	if err != nil {
		h.writeFailure(w, r, "query failed", err)
		return
	}
	if res.NoMatch {
		h.writeJSON(w, http.StatusOK, NoMatchResponse{Answer: h.noMatchMessage})
		return
	}
	h.writeJSON(w, http.StatusOK, QueryResponse{Results: res.Documents})
}

// Reindex rebuilds the index from the document store.
func (h *Handler) Reindex(w http.ResponseWriter, r *http.Request) {
	if h.reindexer == nil {
		h.writeJSON(w, http.StatusNotImplemented, ErrorResponse{Error: "reindexing is not available"})
		return
	}
	if err := h.reindexer.Rebuild(r.Context()); err != nil {
		h.writeFailure(w, r, "reindex failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "rebuilt"})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	hits, misses, enabled := h.searcher.CacheStats()
	if !enabled {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if _, _, enabled := h.searcher.CacheStats(); !enabled {
		h.writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "caching is disabled"})
		return
	}
	deleted, err := h.searcher.InvalidateCache(r.Context())
	if err != nil {
		h.writeFailure(w, r, "cache invalidation failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func (h *Handler) AnalyticsStats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	h.writeJSON(w, http.StatusOK, h.stats.Stats())
}

// writeFailure logs err and answers with the status it maps to. Messages of
// AppErrors are passed through; anything else gets a generic message.
func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := apperrors.HTTPStatusCode(err)
	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error(msg, "status", status, "error", err)
	} else {
		log.Warn(msg, "status", status, "error", err)
	}

	text := http.StatusText(status)
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		text = appErr.Message
	case errors.Is(err, apperrors.ErrIndexUnavailable):
		text = "search index unavailable"
	}
	h.writeJSON(w, status, ErrorResponse{Error: text})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}
