package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkOrigin(t *testing.T) {
	t.Run("basename of source", func(t *testing.T) {
		c := Chunk{Metadata: Metadata{MetaSource: "/data/docs/notes/report.pdf"}}
		assert.Equal(t, "/data/docs/notes/report.pdf", c.Source())
		assert.Equal(t, "report.pdf", c.Origin())
	})

	t.Run("missing source", func(t *testing.T) {
		c := Chunk{}
		assert.Equal(t, "Unknown", c.Source())
		assert.Equal(t, "Unknown", c.Origin())
	})
}

func TestChunkLocator(t *testing.T) {
	tests := []struct {
		name     string
		meta     Metadata
		expected string
		found    bool
	}{
		{"int page", Metadata{MetaPage: 2}, "2", true},
		{"json page", Metadata{MetaPage: float64(5)}, "5", true},
		{"section", Metadata{MetaSection: "Intro"}, "Intro", true},
		{"page wins over section", Metadata{MetaPage: 3, MetaSection: "Intro"}, "3", true},
		{"nil page falls through", Metadata{MetaPage: nil}, "", false},
		{"none", Metadata{}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, ok := Chunk{Metadata: tt.meta}.Locator()
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.expected, loc)
		})
	}
}

func TestMetadataClone(t *testing.T) {
	m := Metadata{MetaSource: "a.txt"}
	c := m.Clone()
	c[MetaChunkIndex] = 1

	_, leaked := m[MetaChunkIndex]
	assert.False(t, leaked)
	assert.Equal(t, "a.txt", c[MetaSource])
}

func TestRetrievalResultDistances(t *testing.T) {
	r := RetrievalResult{{Distance: 0.2}, {Distance: 0.3}}
	assert.Equal(t, []float64{0.2, 0.3}, r.Distances())
	assert.Empty(t, RetrievalResult{}.Distances())
}
