package core

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/mohammad-safakhou/articleflow/config"
)

// TavilyClient implements SearchProvider using api.tavily.com. It is the
// only provider with native domain filters and a summary answer.
type TavilyClient struct {
	cfg      config.WebSearchConfig
	http     *HTTPClient
	endpoint string
}

func NewTavilyClient(cfg config.WebSearchConfig, httpc *HTTPClient) *TavilyClient {
	return &TavilyClient{cfg: cfg, http: httpc, endpoint: endpointOr(cfg.Endpoint, "https://api.tavily.com/search")}
}

func (t *TavilyClient) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	body := map[string]any{
		"query":               req.Query,
		"search_depth":        "advanced",
		"max_results":         max1(req.MaxResults, max1(t.cfg.MaxResults, 5)),
		"include_answer":      true,
		"include_raw_content": false,
	}
	if len(req.IncludeDomains) > 0 {
		body["include_domains"] = req.IncludeDomains
	}
	if len(req.ExcludeDomains) > 0 {
		body["exclude_domains"] = req.ExcludeDomains
	}
	var resp struct {
		Answer  string `json:"answer"`
		Results []struct {
			Title   string  `json:"title"`
			URL     string  `json:"url"`
			Content string  `json:"content"`
			Score   float64 `json:"score"`
		} `json:"results"`
	}
	headers := map[string]string{"Authorization": "Bearer " + t.cfg.TavilyAPIKey}
	if err := t.http.DoJSON(ctx, "POST", t.endpoint, headers, body, &resp); err != nil {
		return SearchResponse{}, err
	}
	out := SearchResponse{Answer: strings.TrimSpace(resp.Answer)}
	for _, r := range resp.Results {
		out.Results = append(out.Results, SearchResult{
			URL: r.URL, Title: strings.TrimSpace(r.Title), Content: strings.TrimSpace(r.Content), Score: r.Score,
		})
	}
	return out, nil
}

// SerperClient implements SearchProvider using serper.dev
type SerperClient struct {
	cfg      config.WebSearchConfig
	http     *HTTPClient
	endpoint string
}

func NewSerperClient(cfg config.WebSearchConfig, httpc *HTTPClient) *SerperClient {
	return &SerperClient{cfg: cfg, http: httpc, endpoint: endpointOr(cfg.Endpoint, "https://google.serper.dev/search")}
}

func (s *SerperClient) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	var resp struct {
		AnswerBox struct {
			Answer  string `json:"answer"`
			Snippet string `json:"snippet"`
		} `json:"answerBox"`
		Organic []struct{ Title, Link, Snippet string } `json:"organic"`
	}
	headers := map[string]string{"X-API-KEY": s.cfg.SerperAPIKey}
	body := map[string]any{"q": req.Query, "num": max1(req.MaxResults, max1(s.cfg.MaxResults, 10))}
	if err := s.http.DoJSON(ctx, "POST", s.endpoint, headers, body, &resp); err != nil {
		return SearchResponse{}, err
	}
	var results []SearchResult
	for _, r := range resp.Organic {
		results = append(results, SearchResult{URL: r.Link, Title: r.Title, Content: r.Snippet})
	}
	answer := resp.AnswerBox.Answer
	if answer == "" {
		answer = resp.AnswerBox.Snippet
	}
	return SearchResponse{Results: filterByDomains(results, req.IncludeDomains, req.ExcludeDomains), Answer: answer}, nil
}

// BraveClient implements SearchProvider using Brave Search API
type BraveClient struct {
	cfg      config.WebSearchConfig
	http     *HTTPClient
	endpoint string
}

func NewBraveClient(cfg config.WebSearchConfig, httpc *HTTPClient) *BraveClient {
	return &BraveClient{cfg: cfg, http: httpc, endpoint: endpointOr(cfg.Endpoint, "https://api.search.brave.com/res/v1/web/search")}
}

func (b *BraveClient) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	var resp struct {
		Web struct {
			Results []struct{ Title, URL, Description string } `json:"results"`
		} `json:"web"`
	}
	headers := map[string]string{"X-Subscription-Token": b.cfg.BraveAPIKey, "Accept": "application/json"}
	q := url.Values{}
	q.Set("q", req.Query)
	q.Set("count", fmt.Sprint(max1(req.MaxResults, max1(b.cfg.MaxResults, 10))))
	if err := b.http.DoJSON(ctx, "GET", b.endpoint+"?"+q.Encode(), headers, nil, &resp); err != nil {
		return SearchResponse{}, err
	}
	var results []SearchResult
	for _, r := range resp.Web.Results {
		results = append(results, SearchResult{URL: r.URL, Title: r.Title, Content: r.Description})
	}
	return SearchResponse{Results: filterByDomains(results, req.IncludeDomains, req.ExcludeDomains)}, nil
}

// filterByDomains applies include/exclude lists client-side for providers
// without native filters.
func filterByDomains(results []SearchResult, include, exclude []string) []SearchResult {
	if len(include) == 0 && len(exclude) == 0 {
		return results
	}
	var out []SearchResult
	for _, r := range results {
		host := HostOf(r.URL)
		if matchesAnyDomain(host, exclude) {
			continue
		}
		if len(include) > 0 && !matchesAnyDomain(host, include) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// HostOf returns the lower-cased host of raw, or "" when unparsable.
func HostOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// MatchesDomain reports whether raw is on one of domains or a subdomain.
func MatchesDomain(raw string, domains []string) bool {
	return matchesAnyDomain(HostOf(raw), domains)
}

func matchesAnyDomain(host string, domains []string) bool {
	if host == "" {
		return false
	}
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func endpointOr(override, def string) string {
	if strings.TrimSpace(override) != "" {
		return override
	}
	return def
}

func max1(a, def int) int {
	if a > 0 {
		return a
	}
	return def
}
