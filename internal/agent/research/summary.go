package research

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/articleflow/internal/agent/core"
)

// Summary renders the human readable research brief.
func Summary(keywords string, results []core.SearchResult, r core.ResearchResult) string {
	topics := make([]string, 0, 3)
	for _, res := range results {
		if len(topics) == 3 {
			break
		}
		if res.Title != "" {
			topics = append(topics, res.Title)
		}
	}

	var b strings.Builder
	b.WriteString("## Research summary\n\n")
	fmt.Fprintf(&b, "**Target keywords:** %s\n\n", keywords)
	b.WriteString("### Competitor analysis\n")
	fmt.Fprintf(&b, "- Articles analysed: %d\n", len(results))
	fmt.Fprintf(&b, "- Main topics: %s\n", strings.Join(topics, ", "))

	b.WriteString("\n### Differentiation\n")
	for _, g := range firstN(r.ContentGaps, 3) {
		fmt.Fprintf(&b, "- %s\n", g)
	}

	b.WriteString("\n### Suggested outline\n")
	for i, h := range r.Outline {
		fmt.Fprintf(&b, "%d. %s\n", i+1, h)
	}

	b.WriteString("\n### Competitor keywords\n")
	for _, k := range r.Keywords {
		fmt.Fprintf(&b, "- [%s] %s (%.0f%%)\n", k.Priority, k.Keyword, k.UsageRate)
	}
	for _, s := range KeywordSuggestions(r.Keywords) {
		fmt.Fprintf(&b, "- %s\n", s)
	}

	if r.Answer != "" {
		b.WriteString("\n### Search summary (reference)\n")
		b.WriteString(r.Answer)
		b.WriteByte('\n')
	}
	if len(r.InternalRefs) > 0 {
		b.WriteString("\n### Internal material\n")
		fmt.Fprintf(&b, "- %d related documents found\n", len(r.InternalRefs))
	}
	return strings.TrimRight(b.String(), "\n")
}
