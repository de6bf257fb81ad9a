package enrich

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/mohammad-safakhou/articleflow/internal/agent/core"
	"github.com/mohammad-safakhou/articleflow/internal/store"
)

const (
	maxLinkKeywords  = 10
	maxHeadingTerms  = 5
	maxBoldTerms     = 10
	maxBoldRunes     = 20
	contentScanRunes = 1000
)

// ArticleSource lists candidate articles for linking.
type ArticleSource interface {
	ListArticles(ctx context.Context, statuses ...core.ArticleStatus) ([]store.Article, error)
}

// LinkSuggester scores finished articles against the keywords of a draft.
// It implements core.LinkSuggester.
type LinkSuggester struct {
	articles ArticleSource
	md       goldmark.Markdown
}

func NewLinkSuggester(articles ArticleSource) *LinkSuggester {
	return &LinkSuggester{articles: articles, md: goldmark.New()}
}

// Suggest returns up to max articles related to content, best first.
// Only completed and in-review articles other than excludeID are considered.
func (l *LinkSuggester) Suggest(ctx context.Context, excludeID, content string, max int) ([]core.LinkSuggestion, error) {
	if max <= 0 {
		max = 5
	}
	keywords := l.Keywords(content)
	if len(keywords) == 0 {
		return nil, nil
	}
	candidates, err := l.articles.ListArticles(ctx, core.StatusCompleted, core.StatusReview)
	if err != nil {
		return nil, err
	}
	var out []core.LinkSuggestion
	for _, a := range candidates {
		if a.ID == excludeID {
			continue
		}
		score, matched := Relevance(a, keywords)
		if score <= 0 {
			continue
		}
		out = append(out, core.LinkSuggestion{ArticleID: a.ID, Title: a.Title, Score: score, MatchedKeywords: matched})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > max {
		out = out[:max]
	}
	return out, nil
}

var (
	reHeadingNoise = regexp.MustCompile(`[【】「」『』（）()\[\]\d.:：]`)
	commonTerms    = map[string]struct{}{
		"必須": {}, "重要": {}, "注意": {}, "ポイント": {}, "方法": {}, "例": {},
		"summary": {}, "introduction": {}, "conclusion": {},
	}
)

// Keywords extracts link keywords from the level 1 and 2 headings and the
// short bold phrases of a markdown document.
func (l *LinkSuggester) Keywords(content string) []string {
	source := []byte(content)
	doc := l.md.Parser().Parse(text.NewReader(source))

	var headingTerms, boldTerms []string
	headings := 0
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			if node.Level <= 2 && headings < maxHeadingTerms {
				headings++
				clean := reHeadingNoise.ReplaceAllString(nodeText(node, source), " ")
				headingTerms = append(headingTerms, strings.Fields(clean)...)
			}
		case *ast.Emphasis:
			if node.Level == 2 && len(boldTerms) < maxBoldTerms {
				if t := nodeText(node, source); utf8.RuneCountInString(t) < maxBoldRunes {
					boldTerms = append(boldTerms, t)
				}
				return ast.WalkSkipChildren, nil
			}
		}
		return ast.WalkContinue, nil
	})

	seen := map[string]struct{}{}
	var out []string
	for _, kw := range append(headingTerms, boldTerms...) {
		kw = strings.TrimSpace(kw)
		lower := strings.ToLower(kw)
		if utf8.RuneCountInString(kw) < 2 {
			continue
		}
		if _, common := commonTerms[lower]; common {
			continue
		}
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}
		out = append(out, kw)
		if len(out) == maxLinkKeywords {
			break
		}
	}
	return out
}

func nodeText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(source))
			if t.SoftLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

// Relevance scores a in [0,1]: 3 points per keyword found in the title, 2 in
// its target keywords, 1 in the start of its content, normalised by the
// maximum.
func Relevance(a store.Article, keywords []string) (float64, []string) {
	if len(keywords) == 0 {
		return 0, nil
	}
	title := strings.ToLower(a.Title)
	targets := strings.ToLower(a.Keywords)
	content := a.Content
	if utf8.RuneCountInString(content) > contentScanRunes {
		content = string([]rune(content)[:contentScanRunes])
	}
	content = strings.ToLower(content)

	var (
		points  int
		matched []string
	)
	for _, kw := range keywords {
		k := strings.ToLower(kw)
		switch {
		case strings.Contains(title, k):
			points += 3
		case strings.Contains(targets, k):
			points += 2
		case strings.Contains(content, k):
			points++
		default:
			continue
		}
		matched = append(matched, kw)
	}
	score := float64(points) / float64(len(keywords)*3)
	if score > 1 {
		score = 1
	}
	return score, matched
}
