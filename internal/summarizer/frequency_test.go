package summarizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"punctuation only", "... !?", nil},
		{"basic", "One. Two!  Three?", []string{"One.", "Two!", "Three?"}},
		{"trailing fragment", "Done. Not finished", []string{"Done.", "Not finished"}},
		{"collapses whitespace", "Line one\ncontinues here.", []string{"Line one continues here."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sentences(tt.in))
		})
	}
}

func TestSummarizePicksFrequentTopic(t *testing.T) {
	text := "Vector search finds similar chunks. " +
		"The weather was nice today. " +
		"Vector search ranks chunks by distance. " +
		"Lunch was late. " +
		"Chunks with small vector distance answer the search."

	f := NewFrequency()
	got, err := f.Summarize(text, 2)
	require.NoError(t, err)
	assert.NotContains(t, got, "weather")
	assert.NotContains(t, got, "Lunch")
	assert.Len(t, Sentences(got), 2)
}

func TestSummarizeKeepsDocumentOrder(t *testing.T) {
	text := "Alpha beta gamma. Zeta. Alpha beta. Eta. Alpha gamma beta alpha."
	got, err := NewFrequency().Summarize(text, 2)
	require.NoError(t, err)
	sents := Sentences(got)
	require.Len(t, sents, 2)
	assert.Less(t, indexOf(text, sents[0]), indexOf(text, sents[1]))
}

func TestSummarizeShortText(t *testing.T) {
	got, err := NewFrequency().Summarize("Only one sentence here", 0)
	require.NoError(t, err)
	assert.Equal(t, "Only one sentence here", got)

	got, err = NewFrequency().Summarize("   ", 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
