// Package tokenizer splits text into lowercase word tokens. A word is a
// maximal run of Unicode letters, numbers and underscores; every other rune
// separates words. Queries and the in-memory index share this tokenizer so a
// keyword always matches the term it was indexed under.
package tokenizer

import (
	"strings"
	"unicode"
)

// Token represents a single normalised term and its position in the
// original text.
type Token struct {
	Term     string
	Position int
}

// Tokenize breaks text into lowercased Tokens in order of appearance.
func Tokenize(text string) []Token {
	words := Words(text)
	tokens := make([]Token, len(words))
	for i, word := range words {
		tokens[i] = Token{Term: word, Position: i}
	}
	return tokens
}

// Words returns the lowercased words of text in order, duplicates included.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), isSeparator)
}

func isSeparator(r rune) bool {
	return !IsWordRune(r)
}

// IsWordRune reports whether r can be part of a word.
func IsWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r)
}
