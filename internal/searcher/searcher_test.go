package searcher

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/indexer/memory"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/indexer/sqlitefts"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/searcher/result"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"zombiezen.com/go/sqlite/sqlitex"
)

var corpus = document.StaticStore{
	{Filename: "a.txt", URL: "http://x", Content: "ADHD accommodations for students"},
}

type recorder struct {
	mu     sync.Mutex
	events []analytics.SearchEvent
}

func (r *recorder) Track(e analytics.SearchEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return nil, goredis.Nil
}

func (m *memStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memStore) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, _ := strconv.ParseInt(string(m.data[key]), 10, 64)
	n++
	m.data[key] = []byte(strconv.FormatInt(n, 10))
	return n, nil
}

func (m *memStore) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.data {
		if strings.HasPrefix(k, strings.TrimSuffix(pattern, "*")) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

// countingIndex counts Match calls and can be told to fail.
type countingIndex struct {
	indexer.Index
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingIndex) Match(ctx context.Context, expr parser.Expression) ([]document.Document, error) {
	c.mu.Lock()
	c.calls++
	err := c.err
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c.Index.Match(ctx, expr)
}

func newService(t *testing.T, idx indexer.Index, opts Options) *Service {
	t.Helper()
	require.NoError(t, indexer.NewBuilder(idx, nil).EnsureIndex(context.Background()))
	return NewService(
		parser.NewNormalizer(parser.DefaultStopwords()),
		executor.New(idx),
		result.NewShaper(500),
		opts,
	)
}

func TestHandleQueryEndToEndMemory(t *testing.T) {
	svc := newService(t, memory.NewMemoryIndex(corpus), Options{})
	ctx := context.Background()

	res, err := svc.HandleQuery(ctx, "cases that deal with adhd")
	require.NoError(t, err)
	require.False(t, res.NoMatch)
	assert.Equal(t, []document.Document{corpus[0]}, res.Documents)

	res, err = svc.HandleQuery(ctx, "xyzzy_nonexistent_term")
	require.NoError(t, err)
	assert.True(t, res.NoMatch)
	assert.Empty(t, res.Documents)
}

func TestHandleQueryEndToEndSQLite(t *testing.T) {
	pool, err := sqlite.Open(config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "kb.db"), PoolSize: 2})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	conn, err := pool.Take(context.Background())
	require.NoError(t, err)
	require.NoError(t, sqlitex.ExecuteScript(conn, `
		CREATE TABLE documents (filename TEXT, url TEXT, content TEXT);
		INSERT INTO documents VALUES ('a.txt', 'http://x', 'ADHD accommodations for students');
	`, nil))
	pool.Put(conn)

	svc := newService(t, sqlitefts.New(pool, "documents", "documents_fts"), Options{})
	ctx := context.Background()

	res, err := svc.HandleQuery(ctx, "cases that deal with adhd")
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "a.txt", res.Documents[0].Filename)

	res, err = svc.HandleQuery(ctx, "xyzzy_nonexistent_term")
	require.NoError(t, err)
	assert.True(t, res.NoMatch)
}

func TestHandleQueryStopwordsOnly(t *testing.T) {
	idx := &countingIndex{Index: memory.NewMemoryIndex(corpus)}
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg, reg)
	svc := newService(t, idx, Options{Metrics: m})

	res, err := svc.HandleQuery(context.Background(), "the a an of for in")
	require.NoError(t, err)
	assert.True(t, res.NoMatch)
	assert.Zero(t, idx.calls, "index not queried")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchQueriesTotal.WithLabelValues(metrics.ResultEmptyExpression)))
}

func TestHandleQueryTruncatesContent(t *testing.T) {
	long := document.StaticStore{{Filename: "l.txt", Content: "adhd " + strings.Repeat("x", 600)}}
	svc := NewService(
		parser.NewNormalizer(parser.DefaultStopwords()),
		executor.New(mustBuild(t, long)),
		result.NewShaper(10),
		Options{},
	)
	res, err := svc.HandleQuery(context.Background(), "adhd")
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, 10+len(result.Ellipsis), len([]rune(res.Documents[0].Content)))
}

func mustBuild(t *testing.T, store document.Store) *memory.MemoryIndex {
	t.Helper()
	idx := memory.NewMemoryIndex(store)
	_, err := idx.Build(context.Background(), false)
	require.NoError(t, err)
	return idx
}

func TestHandleQueryUsesCache(t *testing.T) {
	idx := &countingIndex{Index: memory.NewMemoryIndex(corpus)}
	qc := cache.New(&memStore{data: make(map[string][]byte)}, time.Minute, nil)
	rec := &recorder{}
	svc := newService(t, idx, Options{Cache: qc, Tracker: rec})
	ctx := context.Background()

	for _, q := range []string{"adhd", "ADHD!", "cases about adhd"} {
		res, err := svc.HandleQuery(ctx, q)
		require.NoError(t, err)
		require.Len(t, res.Documents, 1)
	}
	assert.Equal(t, 1, idx.calls, "same expression served from cache")

	hits, misses, enabled := svc.CacheStats()
	assert.True(t, enabled)
	assert.EqualValues(t, 2, hits)
	assert.EqualValues(t, 1, misses)

	require.Len(t, rec.events, 3)
	assert.False(t, rec.events[0].CacheHit)
	assert.True(t, rec.events[1].CacheHit)
	assert.Equal(t, "adhd", rec.events[2].Expression)

	n, err := svc.InvalidateCache(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	_, err = svc.HandleQuery(ctx, "adhd")
	require.NoError(t, err)
	assert.Equal(t, 2, idx.calls)
}

func TestHandleQueryIndexFailure(t *testing.T) {
	idx := &countingIndex{Index: memory.NewMemoryIndex(corpus)}
	rec := &recorder{}
	svc := newService(t, idx, Options{Tracker: rec, BreakerThreshold: 2, BreakerResetTimeout: time.Hour})
	idx.err = errors.New("relation documents_fts does not exist")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := svc.HandleQuery(ctx, "adhd")
		assert.ErrorIs(t, err, apperrors.ErrIndexUnavailable)
	}
	_, err := svc.HandleQuery(ctx, "adhd")
	assert.ErrorIs(t, err, apperrors.ErrIndexUnavailable, "breaker open")
	assert.Equal(t, 2, idx.calls, "open breaker skips the index")
	assert.Equal(t, analytics.EventError, rec.events[0].Type)
}

func TestCacheDisabled(t *testing.T) {
	svc := newService(t, memory.NewMemoryIndex(corpus), Options{})
	_, _, enabled := svc.CacheStats()
	assert.False(t, enabled)
	n, err := svc.InvalidateCache(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

// swapStore serves one document set until replaced.
type swapStore struct {
	mu   sync.Mutex
	docs document.StaticStore
}

func (s *swapStore) replace(docs document.StaticStore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = docs
}

func (s *swapStore) current() document.StaticStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs
}

func (s *swapStore) Each(ctx context.Context, fn func(document.Document) error) error {
	return s.current().Each(ctx, fn)
}

func (s *swapStore) Count(ctx context.Context) (int64, error) {
	return s.current().Count(ctx)
}

// pausingIndex holds the next Match after it has read the index, until
// released.
type pausingIndex struct {
	indexer.Index
	matched chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *pausingIndex) Match(ctx context.Context, expr parser.Expression) ([]document.Document, error) {
	docs, err := p.Index.Match(ctx, expr)
	p.once.Do(func() {
		close(p.matched)
		<-p.release
	})
	return docs, err
}

func TestRebuildDuringSearchDoesNotLeaveStaleCache(t *testing.T) {
	store := &swapStore{docs: document.StaticStore{{Filename: "old.txt", Content: "adhd"}}}
	idx := &pausingIndex{
		Index:   memory.NewMemoryIndex(store),
		matched: make(chan struct{}),
		release: make(chan struct{}),
	}
	qc := cache.New(&memStore{data: make(map[string][]byte)}, time.Minute, nil)
	svc := newService(t, idx, Options{Cache: qc})
	builder := indexer.NewBuilder(idx, nil)
	builder.OnRebuild(func(ctx context.Context) {
		_, err := svc.InvalidateCache(ctx)
		assert.NoError(t, err)
	})
	ctx := context.Background()

	inflight := make(chan *result.QueryResult, 1)
	go func() {
		res, err := svc.HandleQuery(ctx, "adhd")
		assert.NoError(t, err)
		inflight <- res
	}()

	<-idx.matched
	store.replace(document.StaticStore{{Filename: "new.txt", Content: "adhd"}})
	require.NoError(t, builder.Rebuild(ctx))
	close(idx.release)
	res := <-inflight
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "old.txt", res.Documents[0].Filename)

	res, err := svc.HandleQuery(ctx, "adhd")
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "new.txt", res.Documents[0].Filename)
}
