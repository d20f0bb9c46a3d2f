// Package document defines the Document record and read-only access to the
// canonical documents table that the search index mirrors.
package document

import "context"

// Document is one row of the canonical store.
type Document struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
	Content  string `json:"content"`
}

// Store is read-only access to the canonical documents table. Implementations
// never write.
type Store interface {
	// Each calls fn for every document in the store's natural row order and
	// stops at the first error fn returns.
	Each(ctx context.Context, fn func(Document) error) error
	Count(ctx context.Context) (int64, error)
}

// StaticStore serves a fixed list of documents from memory.
type StaticStore []Document

func (s StaticStore) Each(ctx context.Context, fn func(Document) error) error {
	for _, doc := range s {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
	return nil
}

func (s StaticStore) Count(context.Context) (int64, error) {
	return int64(len(s)), nil
}
