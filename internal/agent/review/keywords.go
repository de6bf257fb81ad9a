package review

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/mohammad-safakhou/articleflow/config"
	"github.com/mohammad-safakhou/articleflow/internal/agent/checklist"
)

// Keyword placement positions.
const (
	PositionTitle          = "title"
	PositionH2             = "h2"
	PositionH3             = "h3"
	PositionFirstParagraph = "first_paragraph"
	PositionConclusion     = "conclusion"
	PositionBody           = "body"
)

// placementPositions are the scored positions, 20 points each.
var placementPositions = []string{PositionTitle, PositionH2, PositionH3, PositionFirstParagraph, PositionConclusion}

// KeywordOccurrence describes how one keyword is used in the content.
type KeywordOccurrence struct {
	Keyword          string   `json:"keyword"`
	Count            int      `json:"count"`
	Density          float64  `json:"density"`
	Positions        []string `json:"positions"`
	InFirstParagraph bool     `json:"in_first_paragraph"`
	InConclusion     bool     `json:"in_conclusion"`
}

// KeywordAnalysis is the quantitative SEO measurement for a draft.
type KeywordAnalysis struct {
	TargetKeywords      []string            `json:"target_keywords"`
	TotalWords          int                 `json:"total_words"`
	PrimaryKeyword      *KeywordOccurrence  `json:"primary_keyword"`
	RelatedKeywords     []KeywordOccurrence `json:"related_keywords"`
	KeywordDensityScore float64             `json:"keyword_density_score"`
	PlacementScore      float64             `json:"placement_score"`
	OverallSEOScore     float64             `json:"overall_seo_score"`
	Suggestions         []string            `json:"suggestions"`
}

// Available reports whether there was anything to measure.
func (a KeywordAnalysis) Available() bool {
	return a.PrimaryKeyword != nil && a.TotalWords > 0
}

var (
	keywordSplit   = regexp.MustCompile(`[,、，;\n]+`)
	conclusionHead = regexp.MustCompile(`(?i)(summary|conclusion|wrap[- ]?up|takeaways|まとめ|結論|おわりに)`)
)

// SplitKeywords splits a brief keyword string on commas, semicolons and
// newlines. Phrases separated by spaces stay together.
func SplitKeywords(s string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, part := range keywordSplit.Split(s, -1) {
		part = strings.TrimSpace(part)
		key := strings.ToLower(part)
		if part == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, part)
	}
	return out
}

// Tokenize lower-cases s and splits it into words. Runs of letters and
// digits form one token; each CJK character counts as its own token.
func Tokenize(s string) []string {
	var (
		tokens []string
		cur    strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range strings.ToLower(s) {
		switch {
		case isCJK(r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

// AnalyzeKeywords measures density and placement of keywords in content. The
// first keyword that occurs becomes the primary keyword. An empty keyword
// list or empty content yields a zero overall score.
func AnalyzeKeywords(content string, keywords []string, band config.KeywordDensityConfig) KeywordAnalysis {
	analysis := KeywordAnalysis{TargetKeywords: keywords}
	tokens := Tokenize(content)
	analysis.TotalWords = len(tokens)
	if len(keywords) == 0 {
		analysis.Suggestions = []string{"No target keywords were provided; SEO placement could not be measured."}
		return analysis
	}

	doc := splitDocument(content)
	occurrences := make([]KeywordOccurrence, len(keywords))
	primary := -1
	for i, kw := range keywords {
		occurrences[i] = measure(kw, doc, len(tokens))
		if primary == -1 && occurrences[i].Count > 0 {
			primary = i
		}
	}
	if primary == -1 {
		primary = 0
	}
	p := occurrences[primary]
	analysis.PrimaryKeyword = &p
	for i, occ := range occurrences {
		if i != primary {
			analysis.RelatedKeywords = append(analysis.RelatedKeywords, occ)
		}
	}
	if analysis.TotalWords == 0 {
		analysis.Suggestions = []string{"Content is empty."}
		return analysis
	}

	analysis.KeywordDensityScore = round1(DensityScore(p.Density, band))
	placed := 0
	for _, pos := range placementPositions {
		if contains(p.Positions, pos) {
			placed++
		}
	}
	analysis.PlacementScore = round1(float64(placed) / float64(len(placementPositions)) * 100)
	analysis.OverallSEOScore = round1(0.5*analysis.KeywordDensityScore + 0.5*analysis.PlacementScore)
	analysis.Suggestions = suggestions(p, analysis.RelatedKeywords, band)
	return analysis
}

// DensityScore maps a keyword density (percent) to 0..100. It peaks at 100 in
// the middle of the band, is 80 at either edge and falls off linearly outside.
func DensityScore(density float64, band config.KeywordDensityConfig) float64 {
	lo, hi := band.Min, band.Max
	if hi <= lo {
		return 0
	}
	mid := (lo + hi) / 2
	half := (hi - lo) / 2
	switch {
	case density <= 0:
		return 0
	case density < lo:
		return 80 * density / lo
	case density <= hi:
		return 100 - 20*math.Abs(density-mid)/half
	default:
		return math.Max(0, 80*(1-(density-hi)/hi))
	}
}

type document struct {
	lower          string
	title          string
	h2             []string
	h3             []string
	firstParagraph string
	conclusion     string
}

func splitDocument(content string) document {
	o := checklist.Parse(content)
	return document{
		lower:          strings.ToLower(content),
		title:          strings.ToLower(o.Title()),
		h2:             lowerAll(o.Headings(2)),
		h3:             lowerAll(o.Headings(3)),
		firstParagraph: strings.ToLower(o.FirstParagraph()),
		conclusion:     strings.ToLower(conclusionSection(o)),
	}
}

// conclusionSection returns the body of the last summary-like heading, or the
// last prose block before the closing rule.
func conclusionSection(o checklist.Outline) string {
	start := -1
	for i, b := range o.Blocks {
		if b.Kind == checklist.KindHeading && conclusionHead.MatchString(b.Text) {
			start = i
		}
	}
	if start >= 0 {
		var body []string
		for _, b := range o.Section(start) {
			body = append(body, b.Text)
		}
		return strings.Join(body, "\n")
	}
	end := len(o.Blocks)
	for i, b := range o.Blocks {
		if b.Kind == checklist.KindRule {
			end = i
		}
	}
	for i := end - 1; i >= 0; i-- {
		switch o.Blocks[i].Kind {
		case checklist.KindHeading, checklist.KindCode, checklist.KindRule:
			continue
		}
		return o.Blocks[i].Text
	}
	return ""
}

func lowerAll(list []string) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = strings.ToLower(s)
	}
	return out
}

func measure(keyword string, doc document, totalTokens int) KeywordOccurrence {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	occ := KeywordOccurrence{Keyword: keyword, Positions: []string{}}
	if kw == "" {
		return occ
	}
	occ.Count = strings.Count(doc.lower, kw)
	if totalTokens > 0 {
		kwTokens := len(Tokenize(kw))
		if kwTokens == 0 {
			kwTokens = 1
		}
		occ.Density = round2(float64(occ.Count*kwTokens) / float64(totalTokens) * 100)
	}
	if strings.Contains(doc.title, kw) {
		occ.Positions = append(occ.Positions, PositionTitle)
	}
	if anyContains(doc.h2, kw) {
		occ.Positions = append(occ.Positions, PositionH2)
	}
	if anyContains(doc.h3, kw) {
		occ.Positions = append(occ.Positions, PositionH3)
	}
	if strings.Contains(doc.firstParagraph, kw) {
		occ.InFirstParagraph = true
		occ.Positions = append(occ.Positions, PositionFirstParagraph)
	}
	if strings.Contains(doc.conclusion, kw) {
		occ.InConclusion = true
		occ.Positions = append(occ.Positions, PositionConclusion)
	}
	if occ.Count > 0 {
		occ.Positions = append(occ.Positions, PositionBody)
	}
	return occ
}

func suggestions(p KeywordOccurrence, related []KeywordOccurrence, band config.KeywordDensityConfig) []string {
	var out []string
	if p.Count == 0 {
		out = append(out, fmt.Sprintf("The primary keyword %q does not appear in the article.", p.Keyword))
	} else if p.Density < band.Min {
		out = append(out, fmt.Sprintf("Use %q more often (density %.2f%%, target %.1f-%.1f%%).", p.Keyword, p.Density, band.Min, band.Max))
	} else if p.Density > band.Max {
		out = append(out, fmt.Sprintf("Reduce repetitions of %q (density %.2f%%, target %.1f-%.1f%%).", p.Keyword, p.Density, band.Min, band.Max))
	}
	hints := map[string]string{
		PositionTitle:          "Put %q in the title.",
		PositionH2:             "Use %q in at least one ## heading.",
		PositionH3:             "Use %q in at least one ### heading.",
		PositionFirstParagraph: "Mention %q in the first paragraph.",
		PositionConclusion:     "Repeat %q in the conclusion.",
	}
	for _, pos := range placementPositions {
		if !contains(p.Positions, pos) {
			out = append(out, fmt.Sprintf(hints[pos], p.Keyword))
		}
	}
	for _, r := range related {
		if r.Count == 0 {
			out = append(out, fmt.Sprintf("Related keyword %q is missing.", r.Keyword))
		}
	}
	return out
}

func anyContains(list []string, kw string) bool {
	for _, s := range list {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
