// Package theme proposes article themes by combining search trends with the
// internal knowledge base.
package theme

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/articleflow/config"
	"github.com/mohammad-safakhou/articleflow/internal/agent/core"
	"github.com/mohammad-safakhou/articleflow/internal/helpers"
	"github.com/mohammad-safakhou/articleflow/internal/logging"
)

//go:embed prompts/*.md
var promptFS embed.FS

var prompts = template.Must(template.New("").
	Funcs(template.FuncMap{"inc": func(i int) int { return i + 1 }}).
	ParseFS(promptFS, "prompts/*.md"))

// Source types of a proposal.
const (
	SourceSEOTrend      = "seo_trend"
	SourceKnowledgeBase = "knowledge_base"
	SourceHybrid        = "hybrid"
)

const (
	DefaultCount     = 7
	MinCount         = 5
	MaxCount         = 10
	searchResults    = 10
	promptResults    = 7
	promptKnowledge  = 5
	snippetChars     = 200
	knowledgeChars   = 400
	answerChars      = 1500
	topicChars       = 100
	maxTrends        = 10
	defaultRelevance = 0.7
	proposeMaxTokens = 2500
)

// ErrKeywordRequired is returned for a request without a keyword.
var ErrKeywordRequired = errors.New("theme: keyword is required")

// Request asks for Count themes around Keyword.
type Request struct {
	Keyword       string `json:"keyword"`
	Persona       string `json:"persona"`
	DomainProfile string `json:"domain_profile,omitempty"`
	Count         int    `json:"count,omitempty"`
}

// Theme is one proposed article.
type Theme struct {
	Title              string   `json:"title"`
	SEOKeywords        []string `json:"seo_keywords"`
	Persona            string   `json:"persona"`
	Summary            string   `json:"summary"`
	SourceType         string   `json:"source_type"`
	Relevance          float64  `json:"relevance_score"`
	CompetitorInsights []string `json:"competitor_insights"`
}

// Result is the full proposal with the evidence it was built from.
type Result struct {
	Keyword         string   `json:"keyword"`
	Persona         string   `json:"persona"`
	Proposals       []Theme  `json:"proposals"`
	SEOTrends       []string `json:"seo_trends"`
	KnowledgeTopics []string `json:"knowledge_topics"`
}

// Options wires the proposer. Knowledge is optional.
type Options struct {
	Search    core.SearchProvider
	LLM       core.LLMProvider
	Knowledge core.KnowledgeLookup

	Sources       config.WebSearchConfig
	KnowledgeBase config.KnowledgeConfig
	Profiles      map[string]config.DomainProfile

	Logger logrus.FieldLogger
}

// Proposer generates theme proposals.
type Proposer struct {
	opts   Options
	logger logrus.FieldLogger
}

func NewProposer(opts Options) (*Proposer, error) {
	if opts.Search == nil || opts.LLM == nil {
		return nil, fmt.Errorf("theme: search and llm providers are required")
	}
	if opts.KnowledgeBase.TopK <= 0 {
		opts.KnowledgeBase.TopK = 10
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Component("theme")
	}
	return &Proposer{opts: opts, logger: logger}, nil
}

// Propose searches and looks up knowledge concurrently, then asks the model
// for themes. Search and knowledge failures degrade to empty evidence; a
// failed or unparseable model call is returned as an error.
func (p *Proposer) Propose(ctx context.Context, req Request) (Result, error) {
	req.Keyword = strings.TrimSpace(req.Keyword)
	if req.Keyword == "" {
		return Result{}, ErrKeywordRequired
	}
	req.Count = clampCount(req.Count)
	log := p.logger.WithFields(logrus.Fields{"keyword": req.Keyword, "count": req.Count})

	var (
		search    core.SearchResponse
		knowledge []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		search = p.searchTrends(gctx, req, log)
		return nil
	})
	g.Go(func() error {
		knowledge = p.lookupKnowledge(gctx, req.Keyword, log)
		return nil
	})
	_ = g.Wait()

	prompt, err := render("propose.md", map[string]any{
		"Count":     req.Count,
		"Keyword":   req.Keyword,
		"Persona":   req.Persona,
		"Results":   promptResultsOf(search.Results),
		"Answer":    helpers.Truncate(search.Answer, answerChars),
		"Knowledge": truncateAll(firstN(knowledge, promptKnowledge), knowledgeChars),
	})
	if err != nil {
		return Result{}, err
	}
	out, err := p.opts.LLM.Complete(ctx, core.CompletionRequest{
		System:    "You are a content marketing expert for EPM and FP&A. Answer in JSON.",
		Prompt:    prompt,
		MaxTokens: proposeMaxTokens,
		Tier:      core.TierHigh,
	})
	if err != nil {
		return Result{}, fmt.Errorf("theme: generate proposals: %w", err)
	}
	themes, err := ParseProposals(out, req.Persona, req.Count)
	if err != nil {
		return Result{}, err
	}
	log.WithField("proposals", len(themes)).Info("themes proposed")
	return Result{
		Keyword:         req.Keyword,
		Persona:         req.Persona,
		Proposals:       themes,
		SEOTrends:       Trends(search.Results),
		KnowledgeTopics: Topics(knowledge),
	}, nil
}

func (p *Proposer) searchTrends(ctx context.Context, req Request, log logrus.FieldLogger) core.SearchResponse {
	sreq := core.SearchRequest{
		Query:      strings.TrimSpace(req.Keyword + " " + p.opts.Sources.Qualifier),
		MaxResults: searchResults,
	}
	name := req.DomainProfile
	if name == "" {
		name = p.opts.Sources.DomainProfile
	}
	if name != "" {
		if profile, ok := p.opts.Profiles[name]; ok {
			sreq.IncludeDomains = profile.Include
			sreq.ExcludeDomains = profile.Exclude
		} else {
			log.WithField("profile", name).Warn("unknown domain profile, searching without filters")
		}
	}
	resp, err := p.opts.Search.Search(ctx, sreq)
	if err != nil {
		log.WithError(err).Warn("trend search failed")
		return core.SearchResponse{}
	}
	return resp
}

func (p *Proposer) lookupKnowledge(ctx context.Context, keyword string, log logrus.FieldLogger) []string {
	if p.opts.Knowledge == nil {
		return nil
	}
	hits, err := p.opts.Knowledge.SimilaritySearch(ctx, p.opts.KnowledgeBase.Collection, keyword, p.opts.KnowledgeBase.TopK)
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

// ParseProposals decodes the model answer. Untitled entries are dropped and
// missing fields take defaults: the request persona, a hybrid source and a
// relevance of 0.7.
func ParseProposals(text, persona string, count int) ([]Theme, error) {
	var payload struct {
		Proposals []Theme `json:"proposals"`
	}
	if err := helpers.DecodeJSON(text, &payload); err != nil {
		return nil, fmt.Errorf("theme: parse proposals: %w", err)
	}
	out := make([]Theme, 0, len(payload.Proposals))
	for _, t := range payload.Proposals {
		t.Title = strings.TrimSpace(t.Title)
		if t.Title == "" {
			continue
		}
		if strings.TrimSpace(t.Persona) == "" {
			t.Persona = persona
		}
		switch t.SourceType {
		case SourceSEOTrend, SourceKnowledgeBase, SourceHybrid:
		default:
			t.SourceType = SourceHybrid
		}
		switch {
		case t.Relevance <= 0:
			t.Relevance = defaultRelevance
		case t.Relevance > 1:
			t.Relevance = 1
		}
		if t.SEOKeywords == nil {
			t.SEOKeywords = []string{}
		}
		if t.CompetitorInsights == nil {
			t.CompetitorInsights = []string{}
		}
		out = append(out, t)
	}
	if count > 0 && len(out) > count {
		out = out[:count]
	}
	return out, nil
}

// Trends returns the titles of the search results.
func Trends(results []core.SearchResult) []string {
	out := []string{}
	for _, r := range results {
		if t := strings.TrimSpace(r.Title); t != "" {
			out = append(out, t)
		}
		if len(out) == maxTrends {
			break
		}
	}
	return out
}

// Topics takes the first sentence of each knowledge snippet.
func Topics(contents []string) []string {
	out := []string{}
	for _, c := range firstN(contents, promptKnowledge) {
		sentence := c
		if i := strings.Index(c, "。"); i >= 0 {
			sentence = c[:i]
		} else if i := strings.Index(c, ". "); i >= 0 {
			sentence = c[:i+1]
		} else if utf8.RuneCountInString(c) > 50 {
			sentence = string([]rune(c)[:50])
		}
		out = append(out, helpers.Truncate(strings.TrimSpace(sentence), topicChars))
	}
	return out
}

func clampCount(n int) int {
	switch {
	case n <= 0:
		return DefaultCount
	case n < MinCount:
		return MinCount
	case n > MaxCount:
		return MaxCount
	}
	return n
}

func promptResultsOf(results []core.SearchResult) []core.SearchResult {
	out := make([]core.SearchResult, 0, promptResults)
	for _, r := range firstN(results, promptResults) {
		r.Content = helpers.Truncate(r.Content, snippetChars)
		out = append(out, r)
	}
	return out
}

func truncateAll(in []string, n int) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = helpers.Truncate(s, n)
	}
	return out
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

func firstN[T any](in []T, n int) []T {
	if len(in) > n {
		return in[:n]
	}
	return in
}
