package result

import (
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/knowledge-search/internal/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"shorter than limit", "hello", 10, "hello"},
		{"exactly at limit", "hello", 5, "hello"},
		{"over limit", "hello world", 5, "hello..."},
		{"disabled", "hello world", 0, "hello world"},
		{"negative disables", "hello world", -1, "hello world"},
		{"multibyte runes", "héllo wörld", 4, "héll..."},
		{"empty", "", 3, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truncate(tt.in, tt.n))
		})
	}
}

func TestShapeNoMatch(t *testing.T) {
	res := NewShaper(500).Shape(nil)
	assert.True(t, res.NoMatch)
	assert.NotNil(t, res.Documents)
	assert.Empty(t, res.Documents)
}

func TestShapeTruncatesAndKeepsOrder(t *testing.T) {
	long := strings.Repeat("a", 600)
	docs := []document.Document{
		{Filename: "b.txt", URL: "http://b", Content: long},
		{Filename: "a.txt", URL: "http://a", Content: "short"},
	}

	res := NewShaper(500).Shape(docs)
	require.False(t, res.NoMatch)
	require.Len(t, res.Documents, 2)
	assert.Equal(t, "b.txt", res.Documents[0].Filename)
	assert.Equal(t, "http://b", res.Documents[0].URL)
	assert.Equal(t, strings.Repeat("a", 500)+Ellipsis, res.Documents[0].Content)
	assert.Equal(t, "short", res.Documents[1].Content)
	assert.Equal(t, long, docs[0].Content, "input untouched")
}
