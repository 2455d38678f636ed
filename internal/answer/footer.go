package answer

import (
	"fmt"
	"strings"

	"kb/internal/confidence"
	"kb/internal/domain"
)

// FooterHeading opens every metadata footer.
const FooterHeading = "--- METADATA ---"

// Render formats the verdict and the sources it was computed from. Sources
// are grouped by origin in first-seen order; chunks keep retrieval order
// inside their group. The output depends only on its arguments.
func Render(v confidence.Verdict, result domain.RetrievalResult) string {
	var b strings.Builder
	b.WriteString("\n\n" + FooterHeading + "\n")
	fmt.Fprintf(&b, "Confidence: %s (%.1f%%)\n", v.Label, v.Score)
	fmt.Fprintf(&b, "Explanation: %s\n", v.Explanation)

	if len(result) == 0 {
		b.WriteString("Sources: none\n")
		return b.String()
	}

	var order []string
	groups := make(map[string][]domain.ScoredChunk)
	for _, sc := range result {
		origin := sc.Chunk.Origin()
		if _, ok := groups[origin]; !ok {
			order = append(order, origin)
		}
		groups[origin] = append(groups[origin], sc)
	}

	b.WriteString("Sources:\n")
	for i, origin := range order {
		fmt.Fprintf(&b, "%d. %s\n", i+1, origin)
		for _, sc := range groups[origin] {
			fmt.Fprintf(&b, "   - %s - Dist: %.4f\n", locator(sc.Chunk), sc.Distance)
		}
	}
	return b.String()
}

func locator(ch domain.Chunk) string {
	loc, ok := ch.Locator()
	if !ok {
		return "N/A"
	}
	if _, isPage := ch.Metadata[domain.MetaPage]; isPage {
		return "Page " + loc
	}
	return "Section " + loc
}
