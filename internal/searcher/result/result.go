// Package result turns raw index matches into the shape returned to callers.
package result

import (
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/document"
)

// Ellipsis is appended to content that was cut short.
const Ellipsis = "..."

// QueryResult is the outcome of one query. NoMatch is set exactly when
// Documents is empty.
type QueryResult struct {
	Documents []document.Document `json:"documents"`
	NoMatch   bool                `json:"no_match"`
}

// Shaper builds QueryResults. PreviewLength caps content at that many
// characters; zero or less keeps content whole.
type Shaper struct {
	PreviewLength int
}

func NewShaper(previewLength int) *Shaper {
	return &Shaper{PreviewLength: previewLength}
}

// Shape copies docs into a QueryResult, truncating content. Input order is
// kept. The input slice is not modified.
func (s *Shaper) Shape(docs []document.Document) *QueryResult {
	if len(docs) == 0 {
		return &QueryResult{Documents: []document.Document{}, NoMatch: true}
	}
	out := make([]document.Document, len(docs))
	for i, d := range docs {
		out[i] = document.Document{
			Filename: d.Filename,
			URL:      d.URL,
			Content:  Truncate(d.Content, s.PreviewLength),
		}
	}
	return &QueryResult{Documents: out}
}

// Truncate cuts s to at most n runes and appends Ellipsis when anything was
// removed. n <= 0 returns s unchanged.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos] + Ellipsis
		}
		i++
	}
	return s
}
