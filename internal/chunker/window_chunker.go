package chunker

import (
	"strconv"
	"strings"
	"unicode"

	"kb/internal/domain"
)

// separators are tried in order when looking for a break inside a window.
var separators = []string{"\n\n", "\n", " "}

// WindowChunker splits text into fixed-size windows of runes that overlap by a
// fixed amount. Inside each window it prefers to cut at a paragraph, then a
// line, then a word boundary, and only cuts mid-word when none exists.
type WindowChunker struct {
	size    int
	overlap int
}

func NewWindowChunker(size, overlap int) *WindowChunker {
	if size <= 0 {
		size = 500
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 10
	}
	return &WindowChunker{size: size, overlap: overlap}
}

func (c *WindowChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	text := []rune(strings.TrimSpace(document.Content))
	if len(text) == 0 {
		return nil, nil
	}
	var texts []string
	start := 0
	for start < len(text) {
		end := start + c.size
		if end >= len(text) {
			end = len(text)
		} else {
			end = c.breakPoint(text, start, end)
		}
		piece := strings.TrimSpace(string(text[start:end]))
		if piece != "" {
			texts = append(texts, piece)
		}
		if end == len(text) {
			break
		}
		next := end - c.overlap
		if next <= start {
			next = end
		}
		// do not begin a window in the middle of whitespace
		for next < end && unicode.IsSpace(text[next]) {
			next++
		}
		start = next
	}
	return buildChunks(document, texts), nil
}

// breakPoint returns the rune offset to cut the window [start, end) at. The cut
// is never placed inside the overlap region so every window makes progress.
func (c *WindowChunker) breakPoint(text []rune, start, end int) int {
	window := string(text[start:end])
	floor := c.overlap + 1
	for _, sep := range separators {
		idx := strings.LastIndex(window, sep)
		if idx < 0 {
			continue
		}
		cut := len([]rune(window[:idx])) + len([]rune(sep))
		if cut >= floor {
			return start + cut
		}
	}
	return end
}

func buildChunks(document domain.Document, texts []string) []domain.Chunk {
	chunks := make([]domain.Chunk, 0, len(texts))
	for idx, text := range texts {
		meta := document.Metadata.Clone()
		if _, ok := meta[domain.MetaSource]; !ok && document.Path != "" {
			meta[domain.MetaSource] = document.Path
		}
		meta[domain.MetaChunkIndex] = idx
		chunks = append(chunks, domain.Chunk{
			ID:       document.ID + ":" + strconv.Itoa(idx),
			Content:  text,
			Metadata: meta,
		})
	}
	return chunks
}
