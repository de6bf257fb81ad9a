package theme

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/articleflow/config"
	"github.com/mohammad-safakhou/articleflow/internal/agent/core"
	"github.com/mohammad-safakhou/articleflow/internal/helpers"
	"github.com/mohammad-safakhou/articleflow/internal/logging"
)

type fakeSearch struct {
	mu   sync.Mutex
	resp core.SearchResponse
	err  error
	reqs []core.SearchRequest
}

func (f *fakeSearch) Search(_ context.Context, req core.SearchRequest) (core.SearchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.resp, f.err
}

type fakeLLM struct {
	out  string
	err  error
	reqs []core.CompletionRequest
}

func (f *fakeLLM) Complete(_ context.Context, req core.CompletionRequest) (string, error) {
	f.reqs = append(f.reqs, req)
	return f.out, f.err
}

type fakeKnowledge struct {
	hits []core.KnowledgeHit
	err  error
}

func (f fakeKnowledge) SimilaritySearch(context.Context, string, string, int) ([]core.KnowledgeHit, error) {
	return f.hits, f.err
}

const proposalsJSON = "```json\n" + `{"proposals": [
  {"title": "7 budget planning mistakes CFOs still make", "seo_keywords": ["budget planning", "CFO"], "summary": "Where plans break.", "source_type": "seo_trend", "relevance_score": 0.9},
  {"title": "  ", "summary": "dropped"},
  {"title": "Driver trees in 30 days", "persona": "FP&A lead", "source_type": "guess", "relevance_score": 3}
]}` + "\n```"

func newTestProposer(t *testing.T, search core.SearchProvider, llm core.LLMProvider, kb core.KnowledgeLookup) *Proposer {
	t.Helper()
	p, err := NewProposer(Options{
		Search:    search,
		LLM:       llm,
		Knowledge: kb,
		Sources:   config.WebSearchConfig{Qualifier: "FP&A", DomainProfile: "default"},
		Profiles: map[string]config.DomainProfile{
			"default": {Include: []string{"example.com"}},
			"strict":  {Exclude: []string{"spam.com"}},
		},
		Logger: logging.Discard(),
	})
	require.NoError(t, err)
	return p
}

func TestProposeCombinesSearchAndKnowledge(t *testing.T) {
	search := &fakeSearch{resp: core.SearchResponse{
		Answer: "Budget planning is moving to rolling forecasts.",
		Results: []core.SearchResult{
			{Title: "Budget planning guide", URL: "https://example.com/a", Content: strings.Repeat("x", 500)},
			{Title: "Rolling forecasts", URL: "https://example.com/b", Content: "short"},
		},
	}}
	llm := &fakeLLM{out: proposalsJSON}
	kb := fakeKnowledge{hits: []core.KnowledgeHit{{Content: "Drivers beat line items. Budgets follow."}, {Content: "  "}}}
	p := newTestProposer(t, search, llm, kb)

	res, err := p.Propose(context.Background(), Request{Keyword: " budget planning ", Persona: "CFO"})
	require.NoError(t, err)

	require.Len(t, search.reqs, 1)
	assert.Equal(t, "budget planning FP&A", search.reqs[0].Query)
	assert.Equal(t, []string{"example.com"}, search.reqs[0].IncludeDomains)

	require.Len(t, llm.reqs, 1)
	assert.Equal(t, core.TierHigh, llm.reqs[0].Tier)
	prompt := llm.reqs[0].Prompt
	assert.Contains(t, prompt, "Propose 7 article themes")
	assert.Contains(t, prompt, "1. Budget planning guide")
	assert.Contains(t, prompt, "[Insight 1] Drivers beat line items.")
	assert.NotContains(t, prompt, strings.Repeat("x", 201))

	require.Len(t, res.Proposals, 2)
	first, second := res.Proposals[0], res.Proposals[1]
	assert.Equal(t, "CFO", first.Persona)
	assert.Equal(t, SourceSEOTrend, first.SourceType)
	assert.Equal(t, 0.9, first.Relevance)
	assert.Equal(t, "FP&A lead", second.Persona)
	assert.Equal(t, SourceHybrid, second.SourceType)
	assert.Equal(t, 1.0, second.Relevance)
	assert.Equal(t, []string{"Budget planning guide", "Rolling forecasts"}, res.SEOTrends)
	assert.Equal(t, []string{"Drivers beat line items."}, res.KnowledgeTopics)
	assert.Equal(t, "budget planning", res.Keyword)
}

func TestProposeDegradesWithoutEvidence(t *testing.T) {
	search := &fakeSearch{err: errors.New("quota")}
	llm := &fakeLLM{out: `{"proposals":[{"title":"Budget planning from scratch"}]}`}
	p := newTestProposer(t, search, llm, fakeKnowledge{err: errors.New("index down")})

	res, err := p.Propose(context.Background(), Request{Keyword: "budget planning", DomainProfile: "strict", Count: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"spam.com"}, search.reqs[0].ExcludeDomains)
	assert.Contains(t, llm.reqs[0].Prompt, "Propose 5 article themes")
	assert.Contains(t, llm.reqs[0].Prompt, "(no search results)")
	assert.Contains(t, llm.reqs[0].Prompt, "(no knowledge base results)")
	require.Len(t, res.Proposals, 1)
	assert.Equal(t, defaultRelevance, res.Proposals[0].Relevance)
	assert.Empty(t, res.SEOTrends)
	assert.Empty(t, res.KnowledgeTopics)
}

func TestProposeErrors(t *testing.T) {
	p := newTestProposer(t, &fakeSearch{}, &fakeLLM{err: errors.New("rate limited")}, nil)
	_, err := p.Propose(context.Background(), Request{Keyword: "  "})
	assert.ErrorIs(t, err, ErrKeywordRequired)

	_, err = p.Propose(context.Background(), Request{Keyword: "budget"})
	assert.ErrorContains(t, err, "rate limited")

	p = newTestProposer(t, &fakeSearch{}, &fakeLLM{out: "Sorry, I cannot help with [that]."}, nil)
	_, err = p.Propose(context.Background(), Request{Keyword: "budget"})
	assert.ErrorIs(t, err, helpers.ErrNoJSON)
}

func TestParseProposalsCapsCount(t *testing.T) {
	raw := `{"proposals":[{"title":"a"},{"title":"b"},{"title":"c"}]}`
	themes, err := ParseProposals(raw, "CFO", 2)
	require.NoError(t, err)
	require.Len(t, themes, 2)
	assert.Equal(t, []string{}, themes[0].SEOKeywords)
}

func TestClampCount(t *testing.T) {
	for in, want := range map[int]int{0: 7, -1: 7, 3: 5, 8: 8, 20: 10} {
		assert.Equal(t, want, clampCount(in), "count %d", in)
	}
}

func TestTopics(t *testing.T) {
	got := Topics([]string{"予算は経営の言語である。次の文。", strings.Repeat("a", 80)})
	assert.Equal(t, []string{"予算は経営の言語である", strings.Repeat("a", 50)}, got)
}

func TestNewProposerRequiresProviders(t *testing.T) {
	_, err := NewProposer(Options{})
	assert.Error(t, err)
}
