package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/indexer/memory"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/searcher/result"
	apperrors "github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const noMatch = "No relevant information found."

type fakeSearcher struct {
	res      *result.QueryResult
	err      error
	calls    int
	cache    bool
	hits     int64
	misses   int64
	flushErr error
	flushes  int
}

func (f *fakeSearcher) HandleQuery(context.Context, string) (*result.QueryResult, error) {
	f.calls++
	return f.res, f.err
}

func (f *fakeSearcher) InvalidateCache(context.Context) (int64, error) {
	f.flushes++
	return 3, f.flushErr
}

func (f *fakeSearcher) CacheStats() (int64, int64, bool) {
	return f.hits, f.misses, f.cache
}

type fakeReindexer struct {
	err   error
	calls int
}

func (f *fakeReindexer) Rebuild(context.Context) error {
	f.calls++
	return f.err
}

func serve(h *Handler, method, target string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func realService() *searcher.Service {
	idx := memory.NewMemoryIndex(document.StaticStore{
		{Filename: "a.txt", URL: "http://x", Content: "ADHD accommodations for students"},
	})
	idx.Build(context.Background(), false)
	return searcher.NewService(
		parser.NewNormalizer(parser.DefaultStopwords()),
		executor.New(idx),
		result.NewShaper(500),
		searcher.Options{},
	)
}

func TestQueryEndToEnd(t *testing.T) {
	h := New(realService(), nil, nil, noMatch)

	rec := serve(h, http.MethodGet, "/query?q="+url.QueryEscape("cases that deal with adhd"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"results":[{"filename":"a.txt","url":"http://x","content":"ADHD accommodations for students"}]}`, rec.Body.String())

	rec = serve(h, http.MethodGet, "/api/v1/search?q=xyzzy_nonexistent_term")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"answer":"No relevant information found."}`, rec.Body.String())

	rec = serve(h, http.MethodGet, "/query?q="+url.QueryEscape("the a an of"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"answer":"No relevant information found."}`, rec.Body.String())
}

func TestQueryRequiresQ(t *testing.T) {
	for _, target := range []string{"/query", "/query?q=", "/query?q=%20%20%09"} {
		t.Run(target, func(t *testing.T) {
			s := &fakeSearcher{}
			rec := serve(New(s, nil, nil, noMatch), http.MethodGet, target)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.JSONEq(t, `{"error":"Query is required."}`, rec.Body.String())
			assert.Zero(t, s.calls)
		})
	}
}

func TestQueryErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"index unavailable", fmt.Errorf("%w: boom", apperrors.ErrIndexUnavailable), http.StatusServiceUnavailable, "search index unavailable"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "Internal Server Error"},
		{"app error", apperrors.New(apperrors.ErrTimeout, http.StatusGatewayTimeout, "too slow"), http.StatusGatewayTimeout, "too slow"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(New(&fakeSearcher{err: tt.err}, nil, nil, noMatch), http.MethodGet, "/query?q=adhd")
			assert.Equal(t, tt.status, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.body, body.Error)
		})
	}
}

func TestQueryMethodNotAllowed(t *testing.T) {
	rec := serve(New(&fakeSearcher{}, nil, nil, noMatch), http.MethodPost, "/query?q=adhd")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestReindex(t *testing.T) {
	r := &fakeReindexer{}
	rec := serve(New(&fakeSearcher{}, r, nil, noMatch), http.MethodPost, PathReindex)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, r.calls)

	r.err = fmt.Errorf("%w: disk full", apperrors.ErrIndexUnavailable)
	rec = serve(New(&fakeSearcher{}, r, nil, noMatch), http.MethodPost, PathReindex)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(New(&fakeSearcher{}, nil, nil, noMatch), http.MethodPost, PathReindex)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestCacheEndpoints(t *testing.T) {
	s := &fakeSearcher{cache: true, hits: 3, misses: 1}
	h := New(s, nil, nil, noMatch)

	rec := serve(h, http.MethodGet, PathCacheStats)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"hits":3,"misses":1,"total":4,"hit_rate":"75.0%"}`, rec.Body.String())

	rec = serve(h, http.MethodPost, PathCacheInvalidate)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, s.flushes)

	s.cache = false
	rec = serve(h, http.MethodGet, PathCacheStats)
	assert.JSONEq(t, `{"status":"disabled"}`, rec.Body.String())
	rec = serve(h, http.MethodPost, PathCacheInvalidate)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAnalyticsStats(t *testing.T) {
	agg := analytics.NewAggregator()
	agg.Track(analytics.SearchEvent{Type: analytics.EventNoMatch, Expression: "xyzzy"})

	rec := serve(New(&fakeSearcher{}, nil, agg, noMatch), http.MethodGet, PathAnalyticsStats)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats analytics.Stats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.EqualValues(t, 1, stats.NoMatchCount)
}
