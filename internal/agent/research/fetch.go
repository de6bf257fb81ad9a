package research

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/chromedp/chromedp"
	"github.com/go-shiori/go-readability"

	"github.com/mohammad-safakhou/articleflow/internal/helpers"
)

// Page is a competitor article reduced to markdown.
type Page struct {
	URL      string
	Title    string
	Markdown string
}

// PageFetcher loads a competitor page.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// ChromeFetcher renders pages in headless Chrome, extracts the main article
// with readability and converts it to markdown so headings survive.
type ChromeFetcher struct {
	Timeout  time.Duration
	MaxChars int

	// render returns the page HTML; nil uses headless Chrome.
	render    func(ctx context.Context, rawURL string) (string, error)
	converter *md.Converter
}

// NewChromeFetcher returns a fetcher with the given per-page timeout.
func NewChromeFetcher(timeout time.Duration, maxChars int) *ChromeFetcher {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if maxChars <= 0 {
		maxChars = 20000
	}
	return &ChromeFetcher{
		Timeout:   timeout,
		MaxChars:  maxChars,
		render:    renderHTML,
		converter: md.NewConverter("", true, nil),
	}
}

func (f *ChromeFetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	if strings.TrimSpace(rawURL) == "" {
		return Page{}, errors.New("invalid url")
	}
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	html, err := f.render(ctx, rawURL)
	if err != nil {
		return Page{}, fmt.Errorf("render %s: %w", rawURL, err)
	}
	return f.extract(rawURL, html)
}

func (f *ChromeFetcher) extract(rawURL, html string) (Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		u = &url.URL{}
	}
	body := html
	title := ""
	if article, err := readability.FromReader(strings.NewReader(html), u); err == nil && strings.TrimSpace(article.Content) != "" {
		body = article.Content
		title = strings.TrimSpace(article.Title)
	}
	markdown, err := f.converter.ConvertString(body)
	if err != nil {
		return Page{}, fmt.Errorf("converting HTML to markdown: %w", err)
	}
	return Page{
		URL:      rawURL,
		Title:    title,
		Markdown: helpers.Truncate(strings.TrimSpace(markdown), f.MaxChars),
	}, nil
}

func renderHTML(ctx context.Context, rawURL string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent("articleflow/1.0 (+research)"),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}
