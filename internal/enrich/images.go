// Package enrich adds best-effort decorations to a finished draft: stock
// images for the diagram briefs and internal link suggestions.
package enrich

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/articleflow/config"
	"github.com/mohammad-safakhou/articleflow/internal/agent/core"
	"github.com/mohammad-safakhou/articleflow/internal/logging"
	"github.com/mohammad-safakhou/articleflow/internal/retry"
)

const (
	defaultUnsplashEndpoint = "https://api.unsplash.com/search/photos"
	defaultPexelsEndpoint   = "https://api.pexels.com/v1/search"
	promptConcurrency       = 2
	maxQueryRunes           = 50
)

// ImageOptions wires the image service. LLM is optional and only used to
// turn non-latin queries into English keywords for Unsplash.
type ImageOptions struct {
	Config           config.EnrichmentConfig
	Policy           retry.Policy
	LLM              core.LLMProvider
	UnsplashEndpoint string
	PexelsEndpoint   string
	Locale           string
	Logger           logrus.FieldLogger
}

// ImageService searches Unsplash first and falls back to Pexels. It
// implements core.ImageSearcher.
type ImageService struct {
	opts   ImageOptions
	http   *core.HTTPClient
	logger logrus.FieldLogger

	mu           sync.Mutex
	translations map[string]string
}

func NewImageService(opts ImageOptions) *ImageService {
	if opts.UnsplashEndpoint == "" {
		opts.UnsplashEndpoint = defaultUnsplashEndpoint
	}
	if opts.PexelsEndpoint == "" {
		opts.PexelsEndpoint = defaultPexelsEndpoint
	}
	if opts.Locale == "" {
		opts.Locale = "ja-JP"
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Component("images")
	}
	return &ImageService{
		opts:         opts,
		http:         core.NewHTTPClient(opts.Config.Timeout, opts.Policy, 0),
		logger:       logger,
		translations: map[string]string{},
	}
}

// Available reports whether any image API key is configured.
func (s *ImageService) Available() bool {
	return s.opts.Config.UnsplashAccessKey != "" || s.opts.Config.PexelsAPIKey != ""
}

// Search returns up to perPage images for query. Unsplash results win when
// present; an error is returned only when every configured provider failed.
func (s *ImageService) Search(ctx context.Context, query string, perPage int) ([]core.Image, error) {
	if perPage <= 0 {
		perPage = 3
	}
	var errs []string
	if s.opts.Config.UnsplashAccessKey != "" {
		images, err := s.searchUnsplash(ctx, s.english(ctx, query), perPage)
		if err != nil {
			s.logger.WithError(err).WithField("query", query).Warn("unsplash search failed")
			errs = append(errs, "unsplash: "+err.Error())
		} else if len(images) > 0 {
			return images, nil
		}
	}
	if s.opts.Config.PexelsAPIKey != "" {
		images, err := s.searchPexels(ctx, query, perPage)
		if err != nil {
			s.logger.WithError(err).WithField("query", query).Warn("pexels search failed")
			errs = append(errs, "pexels: "+err.Error())
		} else {
			return images, nil
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("image search %q: %s", query, strings.Join(errs, "; "))
	}
	return nil, nil
}

// SearchForPrompts searches images for each diagram brief, keeping the
// prompt order. A failed prompt yields an empty suggestion; the call fails
// only when every prompt failed.
func (s *ImageService) SearchForPrompts(ctx context.Context, prompts []string, perPrompt int) ([]core.ImageSuggestion, error) {
	out := make([]core.ImageSuggestion, len(prompts))
	errs := make([]error, len(prompts))
	var g errgroup.Group
	g.SetLimit(promptConcurrency)
	for i, p := range prompts {
		i, p := i, p
		g.Go(func() error {
			q := ImageQuery(p)
			images, err := s.Search(ctx, q, perPrompt)
			out[i] = core.ImageSuggestion{Prompt: p, Query: q, Images: images}
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	var last error
	for _, err := range errs {
		if err != nil {
			failed++
			last = err
		}
	}
	if len(prompts) > 0 && failed == len(prompts) {
		return nil, last
	}
	return out, nil
}

var (
	reDiagramTitle = regexp.MustCompile(`(?i)(?:diagram|図解)\s*\d+\s*[:：]\s*(.+)`)
	rePurpose      = regexp.MustCompile(`(?i)(?:purpose|目的)\s*[:：]\s*(.+)`)
)

// ImageQuery derives a search query from a diagram brief: its title, else
// its purpose, else the first plain line.
func ImageQuery(prompt string) string {
	if m := reDiagramTitle.FindStringSubmatch(prompt); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := rePurpose.FindStringSubmatch(prompt); m != nil {
		return strings.TrimSpace(m[1])
	}
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") && !strings.HasPrefix(line, "-") {
			return truncateRunes(line, maxQueryRunes)
		}
	}
	return truncateRunes(strings.TrimSpace(prompt), maxQueryRunes)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func isLatin(s string) bool {
	for _, r := range s {
		if r > unicode.MaxLatin1 {
			return false
		}
	}
	return true
}

// english translates query into short English keywords for Unsplash, which
// indexes English descriptions only. Failures keep the original query.
func (s *ImageService) english(ctx context.Context, query string) string {
	if s.opts.LLM == nil || isLatin(query) {
		return query
	}
	s.mu.Lock()
	cached, ok := s.translations[query]
	s.mu.Unlock()
	if ok {
		return cached
	}
	temp := 0.3
	out, err := s.opts.LLM.Complete(ctx, core.CompletionRequest{
		System:      "You are a translator. Translate the given text to English keywords suitable for image search. Output ONLY the keywords (2-5 words).",
		Prompt:      query,
		MaxTokens:   50,
		Tier:        core.TierLow,
		Temperature: &temp,
	})
	out = strings.TrimSpace(out)
	if err != nil || out == "" {
		if err != nil {
			s.logger.WithError(err).Debug("query translation failed")
		}
		return query
	}
	s.mu.Lock()
	s.translations[query] = out
	s.mu.Unlock()
	return out
}

func (s *ImageService) searchUnsplash(ctx context.Context, query string, perPage int) ([]core.Image, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("content_filter", "high")
	var resp struct {
		Results []struct {
			ID             string `json:"id"`
			AltDescription string `json:"alt_description"`
			URLs           struct {
				Small   string `json:"small"`
				Regular string `json:"regular"`
			} `json:"urls"`
			Links struct {
				HTML string `json:"html"`
			} `json:"links"`
			User struct {
				Name string `json:"name"`
			} `json:"user"`
		} `json:"results"`
	}
	headers := map[string]string{"Authorization": "Client-ID " + s.opts.Config.UnsplashAccessKey}
	if err := s.http.DoJSON(ctx, "GET", s.opts.UnsplashEndpoint+"?"+q.Encode(), headers, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]core.Image, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, core.Image{
			URL:      r.URLs.Regular,
			ThumbURL: r.URLs.Small,
			Author:   r.User.Name,
			Source:   "unsplash",
			Alt:      r.AltDescription,
			PageURL:  r.Links.HTML,
		})
	}
	return out, nil
}

func (s *ImageService) searchPexels(ctx context.Context, query string, perPage int) ([]core.Image, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("locale", s.opts.Locale)
	var resp struct {
		Photos []struct {
			URL          string `json:"url"`
			Alt          string `json:"alt"`
			Photographer string `json:"photographer"`
			Src          struct {
				Small string `json:"small"`
				Large string `json:"large"`
			} `json:"src"`
		} `json:"photos"`
	}
	headers := map[string]string{"Authorization": s.opts.Config.PexelsAPIKey}
	if err := s.http.DoJSON(ctx, "GET", s.opts.PexelsEndpoint+"?"+q.Encode(), headers, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]core.Image, 0, len(resp.Photos))
	for _, p := range resp.Photos {
		out = append(out, core.Image{
			URL:      p.Src.Large,
			ThumbURL: p.Src.Small,
			Author:   p.Photographer,
			Source:   "pexels",
			Alt:      p.Alt,
			PageURL:  p.URL,
		})
	}
	return out, nil
}
