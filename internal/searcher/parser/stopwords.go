package parser

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// defaultStopwords are function words and query-framing words ("cases that
// deal with ...") that carry no search relevance.
var defaultStopwords = []string{
	"a", "about", "above", "after", "again", "against", "all", "also", "am",
	"an", "and", "any", "are", "as", "at", "be", "because", "been", "before",
	"being", "below", "between", "both", "but", "by", "can", "case", "cases",
	"could", "deal", "dealing", "deals", "did", "do", "does", "doing", "done",
	"during", "each", "few", "find", "for", "from", "further", "get", "give",
	"had", "has", "have", "having", "he", "her", "here", "hers", "him", "his",
	"how", "i", "if", "in", "into", "involving", "is", "it", "its", "just",
	"me", "might", "more", "most", "must", "my", "no", "nor", "not", "of",
	"off", "on", "once", "only", "or", "other", "our", "out", "over", "own",
	"please", "regarding", "same", "shall", "she", "should", "show", "so",
	"some", "such", "tell", "than", "that", "the", "their", "them", "then",
	"there", "these", "they", "this", "those", "through", "to", "too",
	"under", "until", "up", "very", "was", "we", "were", "what", "when",
	"where", "which", "while", "who", "whom", "why", "will", "with", "would",
	"you", "your",
}

// StopwordSet is an immutable set of lowercase words excluded from keyword
// expressions. The zero value is an empty set.
type StopwordSet struct {
	words map[string]struct{}
}

// NewStopwordSet builds a set from words, lowercasing and trimming each.
// Blank entries are ignored.
func NewStopwordSet(words ...string) StopwordSet {
	set := StopwordSet{words: make(map[string]struct{}, len(words))}
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		set.words[w] = struct{}{}
	}
	return set
}

// DefaultStopwords returns the built-in English stopword set.
func DefaultStopwords() StopwordSet {
	return NewStopwordSet(defaultStopwords...)
}

// ReadStopwords parses one stopword per line. Lines starting with '#' are
// comments.
func ReadStopwords(r io.Reader) (StopwordSet, error) {
	var words []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, line)
	}
	if err := scanner.Err(); err != nil {
		return StopwordSet{}, fmt.Errorf("reading stopwords: %w", err)
	}
	return NewStopwordSet(words...), nil
}

// LoadStopwords reads a stopword file from path. An empty path yields the
// default set.
func LoadStopwords(path string) (StopwordSet, error) {
	if path == "" {
		return DefaultStopwords(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return StopwordSet{}, fmt.Errorf("opening stopword file %s: %w", path, err)
	}
	defer f.Close()
	return ReadStopwords(f)
}

// Contains reports whether word (already lowercased) is a stopword.
func (s StopwordSet) Contains(word string) bool {
	_, ok := s.words[word]
	return ok
}

func (s StopwordSet) Len() int {
	return len(s.words)
}
