package tui

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"kb/internal/answer"
	"kb/internal/summarizer"
)

var (
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	unicodeWordRe  = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
)

// Details renders the verdict statistics shown before generation in
// verbose mode, with the best matching sentence of the top chunk.
func Details(s *answer.Stream, question string, threshold float64) string {
	v := s.Verdict()
	var b strings.Builder
	fmt.Fprintf(&b, "[details] top1=%.4f threshold=%.2f average=%.4f count=%d safe=%t label=%s\n",
		v.Details.Top1, threshold, v.Details.Average, v.Details.Count, v.SafeToAnswer, v.Label)
	if res := s.Result(); len(res) > 0 {
		fmt.Fprintf(&b, "[top match] %s: %s\n", res[0].Chunk.Origin(), HighlightBestSentence(res[0].Chunk.Content, question))
	}
	return b.String()
}

// HighlightBestSentence returns the sentence of text sharing the most words
// with query, styled. Ties go to the earliest sentence.
func HighlightBestSentence(text, query string) string {
	sentences := summarizer.Sentences(text)
	if len(sentences) == 0 {
		return strings.TrimSpace(text)
	}
	qTokens := toTokenSet(query)
	best, bestScore := 0, -1
	for i, s := range sentences {
		if score := tokenOverlapScore(qTokens, s); score > bestScore {
			best, bestScore = i, score
		}
	}
	return highlightStyle.Render(sentences[best])
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	seen := make(map[string]struct{})
	for _, t := range unicodeWordRe.FindAllString(strings.ToLower(sentence), -1) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
