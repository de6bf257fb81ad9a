// Package research gathers competitor evidence and internal knowledge for a
// brief and proposes differentiation angles and an outline.
package research

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/articleflow/config"
	"github.com/mohammad-safakhou/articleflow/internal/agent/core"
	"github.com/mohammad-safakhou/articleflow/internal/agent/review"
	"github.com/mohammad-safakhou/articleflow/internal/helpers"
	"github.com/mohammad-safakhou/articleflow/internal/logging"
)

//go:embed prompts/*.md
var promptFS embed.FS

var prompts = template.Must(template.ParseFS(promptFS, "prompts/*.md"))

// GapFallback is the single gap reported when the analysis call fails.
const GapFallback = "Content gap analysis failed. Work out the differentiation against competitors manually."

// OutlineFallback is used when no outline could be generated.
var OutlineFallback = []string{
	"Introduction",
	"Framing the problem",
	"Solutions",
	"Putting it into practice",
	"Summary",
}

const (
	answerChars      = 1200
	gapMaxTokens     = 1000
	outlineMaxTokens = 500
	maxGaps          = 5
	maxOutline       = 7
	fetchConcurrency = 3
)

// Options wires the research stage.
type Options struct {
	Search    core.SearchProvider
	LLM       core.LLMProvider
	Knowledge core.KnowledgeLookup
	Fetcher   PageFetcher

	Sources       config.WebSearchConfig
	Fetch         config.WebFetchConfig
	KnowledgeBase config.KnowledgeConfig
	Profiles      map[string]config.DomainProfile

	Logger logrus.FieldLogger
}

// Stage implements core.ResearchStage.
type Stage struct {
	opts   Options
	logger logrus.FieldLogger
}

// NewStage validates opts. Knowledge and Fetcher are optional.
func NewStage(opts Options) (*Stage, error) {
	if opts.Search == nil {
		return nil, fmt.Errorf("research: search provider required")
	}
	if opts.LLM == nil {
		return nil, fmt.Errorf("research: llm provider required")
	}
	if opts.Sources.MaxResults <= 0 {
		opts.Sources.MaxResults = 5
	}
	if opts.KnowledgeBase.TopK <= 0 {
		opts.KnowledgeBase.TopK = 5
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Component("research")
	}
	return &Stage{opts: opts, logger: logger}, nil
}

// Run researches brief. Only a failed search is returned as an error; the
// other steps degrade to defaults.
func (s *Stage) Run(ctx context.Context, brief core.Brief) (core.ResearchResult, error) {
	log := s.logger.WithField("keywords", brief.Keywords)

	req := core.SearchRequest{Query: s.query(brief.Keywords), MaxResults: s.opts.Sources.MaxResults}
	profile := s.profile(brief, log)
	req.IncludeDomains = profile.Include
	req.ExcludeDomains = profile.Exclude

	resp, err := s.opts.Search.Search(ctx, req)
	if err != nil {
		return core.ResearchResult{}, fmt.Errorf("search competitors: %w", err)
	}
	results := sortByPreferred(resp.Results, profile.Prefer)
	log.WithField("results", len(results)).Info("competitor search done")

	headings := s.headings(ctx, results)
	internal := s.lookupKnowledge(ctx, brief.Keywords, log)

	contents := make([]string, 0, len(results))
	urls := make([]string, 0, len(results))
	for _, r := range results {
		contents = append(contents, r.Content)
		urls = append(urls, r.URL)
	}
	answer := helpers.Truncate(resp.Answer, answerChars)

	gaps := s.contentGaps(ctx, contents, internal, answer, log)
	outline := s.outline(ctx, brief.Keywords, headings, gaps, answer, log)
	keywords := CompetitorKeywords(results, review.SplitKeywords(brief.Keywords))

	out := core.ResearchResult{
		CompetitorRefs:     helpers.DedupeURLs(urls),
		ContentGaps:        gaps,
		Outline:            outline,
		CompetitorHeadings: headings,
		InternalRefs:       internal,
		Answer:             answer,
		Keywords:           keywords,
	}
	out.Summary = Summary(brief.Keywords, results, out)
	return out, nil
}

func (s *Stage) query(keywords string) string {
	return strings.TrimSpace(strings.TrimSpace(keywords) + " " + strings.TrimSpace(s.opts.Sources.Qualifier))
}

func (s *Stage) profile(brief core.Brief, log logrus.FieldLogger) config.DomainProfile {
	name := brief.DomainProfile
	if name == "" {
		name = s.opts.Sources.DomainProfile
	}
	if name == "" {
		return config.DomainProfile{}
	}
	p, ok := s.opts.Profiles[name]
	if !ok {
		log.WithField("profile", name).Warn("unknown domain profile, searching without filters")
		return config.DomainProfile{}
	}
	return p
}

// headings extracts competitor headings from search snippets, replacing them
// with headings from the rendered page when fetching is enabled.
func (s *Stage) headings(ctx context.Context, results []core.SearchResult) [][]string {
	out := make([][]string, len(results))
	for i, r := range results {
		out[i] = ExtractHeadings(r.Content)
	}
	if s.opts.Fetcher == nil || !s.opts.Fetch.Enabled {
		return out
	}
	limit := s.opts.Fetch.MaxPages
	if limit <= 0 || limit > len(results) {
		limit = len(results)
	}
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(fetchConcurrency)
	for i := 0; i < limit; i++ {
		i := i
		g.Go(func() error {
			page, err := s.opts.Fetcher.Fetch(ctx, results[i].URL)
			if err != nil {
				s.logger.WithError(err).WithField("url", results[i].URL).Debug("page fetch failed")
				return nil
			}
			if hs := ExtractHeadings(page.Markdown); len(hs) > 0 {
				mu.Lock()
				out[i] = hs
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (s *Stage) lookupKnowledge(ctx context.Context, keywords string, log logrus.FieldLogger) []string {
	if s.opts.Knowledge == nil {
		return nil
	}
	hits, err := s.opts.Knowledge.SimilaritySearch(ctx, s.opts.KnowledgeBase.Collection, keywords, s.opts.KnowledgeBase.TopK)
	if err != nil {
		log.WithError(err).Warn("knowledge lookup failed")
		return nil
	}
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		if c := strings.TrimSpace(h.Content); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func (s *Stage) contentGaps(ctx context.Context, competitors, internal []string, answer string, log logrus.FieldLogger) []string {
	prompt, err := render("gaps.md", map[string]any{
		"Competitors": firstN(competitors, 3),
		"Internal":    firstN(internal, 3),
		"Answer":      answer,
	})
	if err != nil {
		log.WithError(err).Warn("gap prompt")
		return []string{GapFallback}
	}
	out, err := s.opts.LLM.Complete(ctx, core.CompletionRequest{
		System:    "You are an FP&A and management accounting expert.",
		Prompt:    prompt,
		MaxTokens: gapMaxTokens,
		Tier:      core.TierLow,
	})
	if err != nil {
		log.WithError(err).Warn("content gap analysis failed")
		return []string{GapFallback}
	}
	return ParseGaps(out)
}

func (s *Stage) outline(ctx context.Context, keywords string, headings [][]string, gaps []string, answer string, log logrus.FieldLogger) []string {
	prompt, err := render("outline.md", map[string]any{
		"Keywords": keywords,
		"Headings": flattenHeadings(headings, 3, 5, 15),
		"Gaps":     gaps,
		"Answer":   answer,
	})
	if err != nil {
		log.WithError(err).Warn("outline prompt")
		return append([]string(nil), OutlineFallback...)
	}
	out, err := s.opts.LLM.Complete(ctx, core.CompletionRequest{
		System:    "You are an SEO and management accounting expert.",
		Prompt:    prompt,
		MaxTokens: outlineMaxTokens,
		Tier:      core.TierLow,
	})
	if err != nil {
		log.WithError(err).Warn("outline generation failed")
		return append([]string(nil), OutlineFallback...)
	}
	return ParseOutline(out)
}

// ParseGaps reads bulleted lines. Output without bullets is kept whole.
func ParseGaps(text string) []string {
	var gaps []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "・") && !strings.HasPrefix(line, "*") {
			continue
		}
		g := strings.TrimSpace(strings.TrimLeft(line, "-・* "))
		if g != "" {
			gaps = append(gaps, g)
		}
	}
	if len(gaps) == 0 {
		if t := strings.TrimSpace(text); t != "" {
			return []string{t}
		}
		return []string{GapFallback}
	}
	return firstN(gaps, maxGaps)
}

var reOutlineItem = regexp.MustCompile(`^(?:\d+[.)、]|[-*・])\s*`)

// ParseOutline reads numbered or bulleted lines, falling back to
// OutlineFallback.
func ParseOutline(text string) []string {
	var outline []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !reOutlineItem.MatchString(line) {
			continue
		}
		h := strings.TrimSpace(reOutlineItem.ReplaceAllString(line, ""))
		h = strings.Trim(h, "[]* ")
		if h != "" {
			outline = append(outline, h)
		}
	}
	if len(outline) == 0 {
		return append([]string(nil), OutlineFallback...)
	}
	return firstN(outline, maxOutline)
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

func firstN(in []string, n int) []string {
	if len(in) > n {
		return in[:n]
	}
	return in
}
