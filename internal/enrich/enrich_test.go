package enrich

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/articleflow/config"
	"github.com/mohammad-safakhou/articleflow/internal/agent/core"
	"github.com/mohammad-safakhou/articleflow/internal/logging"
	"github.com/mohammad-safakhou/articleflow/internal/retry"
	"github.com/mohammad-safakhou/articleflow/internal/store"
)

var fastPolicy = retry.Policy{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Multiplier: 2}

func imageServers(t *testing.T, unsplashStatus int, unsplashBody string) (*httptest.Server, *httptest.Server, *int32, *int32) {
	t.Helper()
	var uHits, pHits int32
	unsplash := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&uHits, 1)
		assert.Equal(t, "Client-ID u-key", r.Header.Get("Authorization"))
		assert.Equal(t, "high", r.URL.Query().Get("content_filter"))
		w.WriteHeader(unsplashStatus)
		_, _ = w.Write([]byte(unsplashBody))
	}))
	pexels := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&pHits, 1)
		assert.Equal(t, "p-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"photos":[{"url":"https://pexels.com/p/1","alt":"desk","photographer":"Ann","src":{"small":"s.jpg","large":"l.jpg"}}]}`))
	}))
	t.Cleanup(unsplash.Close)
	t.Cleanup(pexels.Close)
	return unsplash, pexels, &uHits, &pHits
}

func newImageService(u, p *httptest.Server, cfg config.EnrichmentConfig, llm core.LLMProvider) *ImageService {
	return NewImageService(ImageOptions{
		Config:           cfg,
		Policy:           fastPolicy,
		LLM:              llm,
		UnsplashEndpoint: u.URL,
		PexelsEndpoint:   p.URL,
		Logger:           logging.Discard(),
	})
}

func TestSearchPrefersUnsplash(t *testing.T) {
	u, p, _, pHits := imageServers(t, http.StatusOK,
		`{"results":[{"id":"1","alt_description":"chart","urls":{"small":"s","regular":"r"},"links":{"html":"https://unsplash.com/1"},"user":{"name":"Bo"}}]}`)
	svc := newImageService(u, p, config.EnrichmentConfig{UnsplashAccessKey: "u-key", PexelsAPIKey: "p-key"}, nil)

	images, err := svc.Search(context.Background(), "budget cycle", 3)
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, core.Image{URL: "r", ThumbURL: "s", Author: "Bo", Source: "unsplash", Alt: "chart", PageURL: "https://unsplash.com/1"}, images[0])
	assert.Zero(t, atomic.LoadInt32(pHits))
}

func TestSearchFallsBackToPexels(t *testing.T) {
	u, p, uHits, _ := imageServers(t, http.StatusServiceUnavailable, `down`)
	svc := newImageService(u, p, config.EnrichmentConfig{UnsplashAccessKey: "u-key", PexelsAPIKey: "p-key"}, nil)

	images, err := svc.Search(context.Background(), "budget cycle", 3)
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, "pexels", images[0].Source)
	assert.Equal(t, int32(2), atomic.LoadInt32(uHits), "unsplash retried before fallback")

	// empty unsplash results also fall back
	u2, p2, _, _ := imageServers(t, http.StatusOK, `{"results":[]}`)
	svc = newImageService(u2, p2, config.EnrichmentConfig{UnsplashAccessKey: "u-key", PexelsAPIKey: "p-key"}, nil)
	images, err = svc.Search(context.Background(), "x", 3)
	require.NoError(t, err)
	assert.Equal(t, "pexels", images[0].Source)
}

func TestSearchFailsWhenOnlyProviderFails(t *testing.T) {
	u, p, _, _ := imageServers(t, http.StatusUnauthorized, `nope`)
	svc := newImageService(u, p, config.EnrichmentConfig{UnsplashAccessKey: "u-key"}, nil)
	assert.True(t, svc.Available())
	_, err := svc.Search(context.Background(), "x", 3)
	assert.Error(t, err)

	assert.False(t, newImageService(u, p, config.EnrichmentConfig{}, nil).Available())
}

type translator struct{ calls int32 }

func (tr *translator) Complete(_ context.Context, req core.CompletionRequest) (string, error) {
	atomic.AddInt32(&tr.calls, 1)
	return "budget management cycle", nil
}

func TestSearchForPromptsTranslatesAndKeepsOrder(t *testing.T) {
	var (
		mu      sync.Mutex
		queries []string
	)
	unsplash := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		queries = append(queries, r.URL.Query().Get("query"))
		mu.Unlock()
		_, _ = w.Write([]byte(`{"results":[{"id":"1","urls":{"small":"s","regular":"r"},"user":{"name":"Bo"}}]}`))
	}))
	defer unsplash.Close()
	tr := &translator{}
	svc := NewImageService(ImageOptions{
		Config:           config.EnrichmentConfig{UnsplashAccessKey: "u-key"},
		Policy:           fastPolicy,
		LLM:              tr,
		UnsplashEndpoint: unsplash.URL,
		Logger:           logging.Discard(),
	})

	prompts := []string{
		"### 図解1: 予算管理サイクル\n- 目的: PDCAを可視化",
		"### 図解2: 予算管理サイクル\n- 目的: 同じ",
	}
	res, err := svc.SearchForPrompts(context.Background(), prompts, 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "予算管理サイクル", res[0].Query)
	assert.Equal(t, prompts[1], res[1].Prompt)
	assert.Len(t, res[1].Images, 1)
	assert.LessOrEqual(t, atomic.LoadInt32(&tr.calls), int32(2))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, queries, 2)
	for _, q := range queries {
		assert.Equal(t, "budget management cycle", q)
	}
}

func TestImageQuery(t *testing.T) {
	assert.Equal(t, "Budget cycle", ImageQuery("### Diagram 1: Budget cycle\n- Purpose: show PDCA"))
	assert.Equal(t, "show PDCA", ImageQuery("### Overview\n- Purpose: show PDCA"))
	assert.Equal(t, "A plain line", ImageQuery("# Header\n- item\nA plain line"))
}

type fakeArticles struct {
	list     []store.Article
	statuses []core.ArticleStatus
}

func (f *fakeArticles) ListArticles(_ context.Context, statuses ...core.ArticleStatus) ([]store.Article, error) {
	f.statuses = statuses
	return f.list, nil
}

const draftContent = `# Budget variance in practice

## 1. Driver trees explained

Rolling forecasts need **rolling forecast** owners and a **source of truth**.

## Summary

**This bold phrase is far too long to be a keyword**
`

func TestLinkKeywords(t *testing.T) {
	l := NewLinkSuggester(&fakeArticles{})
	kws := l.Keywords(draftContent)
	assert.Equal(t, []string{"Budget", "variance", "in", "practice", "Driver", "trees", "explained", "rolling forecast", "source of truth"}, kws)
	assert.Empty(t, l.Keywords("plain text with nothing to extract"))
}

func TestSuggestLinks(t *testing.T) {
	articles := &fakeArticles{list: []store.Article{
		{ID: "self", Title: "Budget variance"},
		{ID: "a", Title: "Driver trees for FP&A", Keywords: "budget"},
		{ID: "b", Title: "Unrelated", Content: "empty"},
		{ID: "c", Title: "Close faster", Keywords: "rolling forecast"},
	}}
	l := NewLinkSuggester(articles)
	links, err := l.Suggest(context.Background(), "self", draftContent, 5)
	require.NoError(t, err)
	assert.Equal(t, []core.ArticleStatus{core.StatusCompleted, core.StatusReview}, articles.statuses)

	require.Len(t, links, 2)
	assert.Equal(t, "a", links[0].ArticleID)
	assert.Contains(t, links[0].MatchedKeywords, "Driver")
	assert.Equal(t, "c", links[1].ArticleID)
	assert.Greater(t, links[0].Score, links[1].Score)

	links, err = l.Suggest(context.Background(), "self", draftContent, 1)
	require.NoError(t, err)
	assert.Len(t, links, 1)
}

func TestRelevance(t *testing.T) {
	a := store.Article{Title: "Rolling forecast guide", Keywords: "variance", Content: "driver trees"}
	score, matched := Relevance(a, []string{"forecast", "variance", "driver", "missing"})
	assert.InDelta(t, 6.0/12.0, score, 1e-9)
	assert.Equal(t, []string{"forecast", "variance", "driver"}, matched)

	score, _ = Relevance(a, nil)
	assert.Zero(t, score)
}
