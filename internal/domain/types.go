package domain

import (
	"fmt"
	"math"
	"path/filepath"
)

// Metadata keys written during ingestion and read by the footer renderer.
const (
	MetaSource     = "source"
	MetaPage       = "page"
	MetaSection    = "section"
	MetaChunkIndex = "chunk_index"
)

// Metadata is the free-form attribute map carried by documents and chunks.
type Metadata map[string]any

// Clone returns a shallow copy so chunks never share a map with their document.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Document represents a single loaded unit of a source file (a whole text file or one PDF page).
type Document struct {
	ID       string
	Path     string
	Content  string
	Metadata Metadata
}

// Chunk is an immutable unit of retrievable text.
type Chunk struct {
	ID       string
	Content  string
	Metadata Metadata
}

// Source returns the origin path recorded at ingestion, or "Unknown".
func (c Chunk) Source() string {
	if v, ok := c.Metadata[MetaSource].(string); ok && v != "" {
		return v
	}
	return "Unknown"
}

// Origin is the basename of Source, used to group chunks for display.
func (c Chunk) Origin() string {
	src := c.Source()
	if src == "Unknown" {
		return src
	}
	return filepath.Base(src)
}

// Locator returns the page or section of the chunk inside its origin.
func (c Chunk) Locator() (string, bool) {
	for _, key := range []string{MetaPage, MetaSection} {
		v, ok := c.Metadata[key]
		if !ok || v == nil {
			continue
		}
		return formatLocator(v), true
	}
	return "", false
}

func formatLocator(v any) string {
	switch n := v.(type) {
	case int:
		return fmt.Sprintf("%d", n)
	case int64:
		return fmt.Sprintf("%d", n)
	case float64:
		// JSON round-trips integers as float64
		if n == math.Trunc(n) {
			return fmt.Sprintf("%d", int64(n))
		}
		return fmt.Sprintf("%g", n)
	default:
		return fmt.Sprintf("%v", n)
	}
}

// ScoredChunk pairs a chunk with its distance to the query. Lower is more similar.
type ScoredChunk struct {
	Chunk    Chunk
	Distance float64
}

// RetrievalResult is ordered ascending by distance and holds at most k entries.
type RetrievalResult []ScoredChunk

// Distances returns the distances in result order.
func (r RetrievalResult) Distances() []float64 {
	out := make([]float64, len(r))
	for i, sc := range r {
		out[i] = sc.Distance
	}
	return out
}
