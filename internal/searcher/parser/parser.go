// Package parser turns a free-text user query into a keyword expression: the
// ordered, OR-combined list of non-stopword terms used as the match predicate
// against the full-text index.
package parser

import (
	"strings"

	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/indexer/tokenizer"
)

// Separator joins the terms of a rendered expression.
const Separator = " OR "

// Expression is an OR-combination of lowercase keywords in query order.
type Expression struct {
	Terms []string
}

// String renders the expression as "t1 OR t2 OR ...", or "" when empty.
func (e Expression) String() string {
	return strings.Join(e.Terms, Separator)
}

func (e Expression) IsEmpty() bool {
	return len(e.Terms) == 0
}

// Normalizer strips stopwords from tokenised queries. It is safe for
// concurrent use.
type Normalizer struct {
	stopwords StopwordSet
}

func NewNormalizer(stopwords StopwordSet) *Normalizer {
	return &Normalizer{stopwords: stopwords}
}

// Normalize lowercases raw, splits it into words and drops stopwords,
// keeping the surviving words in their original order.
func (n *Normalizer) Normalize(raw string) Expression {
	words := tokenizer.Words(raw)
	terms := make([]string, 0, len(words))
	for _, word := range words {
		if n.stopwords.Contains(word) {
			continue
		}
		terms = append(terms, word)
	}
	return Expression{Terms: terms}
}
