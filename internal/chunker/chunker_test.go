package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb/internal/domain"
)

func contents(chunks []domain.Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Content
	}
	return out
}

func TestWindowChunker(t *testing.T) {
	tests := []struct {
		name     string
		size     int
		overlap  int
		text     string
		expected []string
	}{
		{"short text is one chunk", 500, 50, "  hello world  ", []string{"hello world"}},
		{"empty text", 500, 50, "   ", []string{}},
		{"breaks at word boundary", 10, 0, "aaaa bbbb cccc dddd", []string{"aaaa bbbb", "cccc dddd"}},
		{"hard cut with overlap", 10, 3, "abcdefghijklmnop", []string{"abcdefghij", "hijklmnop"}},
		{"prefers paragraph break", 20, 0, "para one.\n\npara two is longer", []string{"para one.", "para two is longer"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewWindowChunker(tt.size, tt.overlap)
			chunks, err := c.Chunk(domain.Document{ID: "doc", Content: tt.text})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, append([]string{}, contents(chunks)...))
		})
	}
}

func TestWindowChunkerCoversLongText(t *testing.T) {
	words := make([]string, 400)
	for i := range words {
		words[i] = "word"
	}
	text := strings.Join(words, " ")
	c := NewWindowChunker(100, 10)
	chunks, err := c.Chunk(domain.Document{ID: "doc", Content: text})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	for _, ch := range chunks {
		assert.LessOrEqual(t, len([]rune(ch.Content)), 100)
		assert.False(t, strings.HasPrefix(ch.Content, "ord"), "window started mid-word: %q", ch.Content)
	}
	assert.True(t, strings.HasSuffix(chunks[len(chunks)-1].Content, "word"))
}

func TestWindowChunkerClampsArguments(t *testing.T) {
	c := NewWindowChunker(0, -1)
	assert.Equal(t, 500, c.size)
	assert.Equal(t, 0, c.overlap)

	c = NewWindowChunker(100, 100)
	assert.Equal(t, 10, c.overlap)
}

func TestChunkMetadata(t *testing.T) {
	doc := domain.Document{
		ID:       "abc",
		Path:     "/docs/manual.pdf",
		Content:  "aaaa bbbb cccc dddd",
		Metadata: domain.Metadata{domain.MetaPage: 4},
	}
	chunks, err := NewWindowChunker(10, 0).Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	for i, ch := range chunks {
		assert.Equal(t, "/docs/manual.pdf", ch.Source())
		assert.Equal(t, 4, ch.Metadata[domain.MetaPage])
		assert.Equal(t, i, ch.Metadata[domain.MetaChunkIndex])
	}
	assert.Equal(t, "abc:0", chunks[0].ID)
	assert.Equal(t, "abc:1", chunks[1].ID)
	_, leaked := doc.Metadata[domain.MetaChunkIndex]
	assert.False(t, leaked)
}

func TestSentenceChunker(t *testing.T) {
	t.Run("overlapping sentences", func(t *testing.T) {
		c := NewSentenceChunker(2, 1)
		chunks, err := c.Chunk(domain.Document{ID: "d", Content: "One. Two. Three."})
		require.NoError(t, err)
		assert.Equal(t, []string{"One. Two.", "Two. Three."}, contents(chunks))
	})

	t.Run("text without terminators", func(t *testing.T) {
		c := NewSentenceChunker(5, 1)
		chunks, err := c.Chunk(domain.Document{ID: "d", Content: "  no punctuation here "})
		require.NoError(t, err)
		assert.Equal(t, []string{"no punctuation here"}, contents(chunks))
	})

	t.Run("empty", func(t *testing.T) {
		chunks, err := NewSentenceChunker(5, 1).Chunk(domain.Document{ID: "d"})
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})

	t.Run("overlap clamped below chunk size", func(t *testing.T) {
		c := NewSentenceChunker(2, 5)
		assert.Equal(t, 1, c.overlapSentences)
	})
}
