package research

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/mohammad-safakhou/articleflow/internal/agent/core"
)

// Heading patterns, tried in order; the first match on a line wins.
var headingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^#{1,3}\s+(.+)$`),
	regexp.MustCompile(`^【(.+?)】`),
	regexp.MustCompile(`^■\s*(.+)$`),
	regexp.MustCompile(`^\d+\.\s+(.+)$`),
}

// ExtractHeadings returns the heading-like lines of competitor content.
func ExtractHeadings(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		for _, p := range headingPatterns {
			if m := p.FindStringSubmatch(line); m != nil {
				if h := strings.TrimSpace(m[1]); h != "" {
					out = append(out, h)
				}
				break
			}
		}
	}
	return out
}

// flattenHeadings takes up to perArticle headings from the first articles
// and caps the total.
func flattenHeadings(all [][]string, articles, perArticle, total int) []string {
	var flat []string
	for i, hs := range all {
		if i == articles {
			break
		}
		if len(hs) > perArticle {
			hs = hs[:perArticle]
		}
		flat = append(flat, hs...)
	}
	if len(flat) > total {
		flat = flat[:total]
	}
	return flat
}

// Competitor keyword priority thresholds, as usage rate percent.
const (
	RequiredUsageRate    = 70.0
	RecommendedUsageRate = 40.0
	maxCompetitorTerms   = 15
)

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "that": {}, "this": {}, "from": {}, "your": {},
	"are": {}, "you": {}, "how": {}, "what": {}, "why": {}, "can": {}, "will": {}, "not": {},
	"have": {}, "has": {}, "into": {}, "about": {}, "more": {}, "their": {}, "when": {}, "our": {},
	"also": {}, "its": {}, "they": {}, "was": {}, "but": {}, "all": {}, "use": {}, "which": {},
	"について": {}, "ため": {}, "こと": {}, "もの": {}, "よう": {}, "方法": {}, "ポイント": {},
}

// terms returns the distinct candidate keywords in text: latin words of
// three or more letters and runs of two or more CJK characters.
func terms(text string) map[string]struct{} {
	out := map[string]struct{}{}
	var (
		cur     []rune
		curCJK  bool
		flushFn = func() {
			if len(cur) == 0 {
				return
			}
			w := string(cur)
			minLen := 3
			if curCJK {
				minLen = 2
			}
			if len(cur) >= minLen {
				if _, stop := stopwords[w]; !stop {
					out[w] = struct{}{}
				}
			}
			cur = cur[:0]
		}
	)
	for _, r := range strings.ToLower(text) {
		cjk := unicode.In(r, unicode.Han, unicode.Katakana)
		letter := unicode.IsLetter(r) && !unicode.In(r, unicode.Hiragana)
		switch {
		case cjk:
			if !curCJK {
				flushFn()
			}
			curCJK = true
			cur = append(cur, r)
		case letter:
			if curCJK {
				flushFn()
			}
			curCJK = false
			cur = append(cur, r)
		default:
			flushFn()
			curCJK = false
		}
	}
	flushFn()
	return out
}

// CompetitorKeywords counts in how many results each term appears. Terms used
// by a single article are dropped unless there is only one result. Brief
// keywords are excluded since the writer already targets them.
func CompetitorKeywords(results []core.SearchResult, exclude []string) []core.CompetitorKeyword {
	if len(results) == 0 {
		return nil
	}
	skip := map[string]struct{}{}
	for _, e := range exclude {
		for t := range terms(e) {
			skip[t] = struct{}{}
		}
	}
	counts := map[string]int{}
	for _, r := range results {
		for t := range terms(r.Title + "\n" + r.Content) {
			if _, ok := skip[t]; ok {
				continue
			}
			counts[t]++
		}
	}
	minArticles := 2
	if len(results) == 1 {
		minArticles = 1
	}
	var out []core.CompetitorKeyword
	for t, n := range counts {
		if n < minArticles {
			continue
		}
		rate := math.Round(float64(n)/float64(len(results))*1000) / 10
		out = append(out, core.CompetitorKeyword{
			Keyword:      t,
			ArticleCount: n,
			UsageRate:    rate,
			Priority:     priorityFor(rate),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ArticleCount != out[j].ArticleCount {
			return out[i].ArticleCount > out[j].ArticleCount
		}
		return out[i].Keyword < out[j].Keyword
	})
	if len(out) > maxCompetitorTerms {
		out = out[:maxCompetitorTerms]
	}
	return out
}

func priorityFor(rate float64) string {
	switch {
	case rate >= RequiredUsageRate:
		return "required"
	case rate >= RecommendedUsageRate:
		return "recommended"
	default:
		return "optional"
	}
}

// KeywordSuggestions turns competitor keywords into writer guidance.
func KeywordSuggestions(kws []core.CompetitorKeyword) []string {
	if len(kws) == 0 {
		return []string{"No recurring competitor keywords were found."}
	}
	var required, recommended []string
	for _, k := range kws {
		switch k.Priority {
		case "required":
			required = append(required, k.Keyword)
		case "recommended":
			recommended = append(recommended, k.Keyword)
		}
	}
	var out []string
	if len(required) > 0 {
		out = append(out, fmt.Sprintf("Most top articles use: %s. Work them into headings.", strings.Join(required, ", ")))
	}
	if len(recommended) > 0 {
		out = append(out, fmt.Sprintf("Consider covering: %s.", strings.Join(recommended, ", ")))
	}
	if len(out) == 0 {
		out = append(out, "Competitor vocabulary is fragmented; no keyword is shared by most articles.")
	}
	return out
}

// sortByPreferred moves results on preferred domains first, keeping the
// original order within each group.
func sortByPreferred(results []core.SearchResult, prefer []string) []core.SearchResult {
	if len(prefer) == 0 {
		return results
	}
	out := append([]core.SearchResult(nil), results...)
	sort.SliceStable(out, func(i, j int) bool {
		return core.MatchesDomain(out[i].URL, prefer) && !core.MatchesDomain(out[j].URL, prefer)
	})
	return out
}
