// Package memory implements an in-process inverted index: term -> posting
// list of document ordinals. It is rebuilt from the document store on every
// process start and returns matches in store order.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/searcher/parser"
	apperrors "github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/errors"
)

const backendName = "memory"

// snapshot is immutable once published.
type snapshot struct {
	docs  []document.Document
	index map[string]PostingList
	size  int64
}

type MemoryIndex struct {
	store document.Store
	mu    sync.RWMutex
	snap  *snapshot
}

func NewMemoryIndex(store document.Store) *MemoryIndex {
	return &MemoryIndex{store: store}
}

func (m *MemoryIndex) Backend() string {
	return backendName
}

func (m *MemoryIndex) Exists(context.Context) (bool, error) {
	return m.current() != nil, nil
}

// Build reads the whole store into a fresh snapshot and publishes it in one
// pointer swap, so concurrent Match calls see either the old or the new
// index.
func (m *MemoryIndex) Build(ctx context.Context, replace bool) (int64, error) {
	if !replace {
		if snap := m.current(); snap != nil {
			return int64(len(snap.docs)), nil
		}
	}

	snap := &snapshot{index: make(map[string]PostingList)}
	err := m.store.Each(ctx, func(doc document.Document) error {
		snap.add(doc)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("reading documents: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !replace && m.snap != nil {
		return int64(len(m.snap.docs)), nil
	}
	m.snap = snap
	return int64(len(snap.docs)), nil
}

func (m *MemoryIndex) Match(ctx context.Context, expr parser.Expression) ([]document.Document, error) {
	if expr.IsEmpty() {
		return nil, apperrors.ErrMalformedPredicate
	}
	snap := m.current()
	if snap == nil {
		return nil, fmt.Errorf("memory index not built")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hit := make([]bool, len(snap.docs))
	total := 0
	for _, term := range expr.Terms {
		for _, p := range snap.index[term] {
			if !hit[p.Doc] {
				hit[p.Doc] = true
				total++
			}
		}
	}
	results := make([]document.Document, 0, total)
	for ord, ok := range hit {
		if ok {
			results = append(results, snap.docs[ord])
		}
	}
	return results, nil
}

func (m *MemoryIndex) Count(context.Context) (int64, error) {
	snap := m.current()
	if snap == nil {
		return 0, nil
	}
	return int64(len(snap.docs)), nil
}

// Size is a rough estimate of the index's memory footprint in bytes.
func (m *MemoryIndex) Size() int64 {
	snap := m.current()
	if snap == nil {
		return 0
	}
	return snap.size
}

// Postings returns the posting list of term, or nil.
func (m *MemoryIndex) Postings(term string) PostingList {
	snap := m.current()
	if snap == nil {
		return nil
	}
	return snap.index[term]
}

func (m *MemoryIndex) current() *snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

func (s *snapshot) add(doc document.Document) {
	ord := len(s.docs)
	s.docs = append(s.docs, doc)

	termData := make(map[string]*Posting)
	order := make([]string, 0)
	for _, token := range tokenizer.Tokenize(doc.Content) {
		p, exists := termData[token.Term]
		if !exists {
			p = &Posting{
				Doc:       ord,
				Positions: make([]int, 0, 4),
			}
			termData[token.Term] = p
			order = append(order, token.Term)
		}
		p.Frequency++
		p.Positions = append(p.Positions, token.Position)
	}
	for _, term := range order {
		posting := termData[term]
		s.index[term] = append(s.index[term], *posting)
		s.size += int64(len(term) + len(posting.Positions)*8 + 64)
	}
	s.size += int64(len(doc.Filename) + len(doc.URL) + len(doc.Content))
}
