package search

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-shiori/go-readability"
)

// PageFetcher returns the raw HTML of a page.
type PageFetcher interface {
	FetchHTML(ctx context.Context, pageURL string) (string, error)
}

// HTTPFetcher downloads pages with a plain GET.
type HTTPFetcher struct {
	Client *http.Client
}

func (f HTTPFetcher) FetchHTML(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "autospook/1.0")
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch %s: %s", pageURL, resp.Status)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// BrowserFetcher renders pages in headless Chrome before reading the DOM.
type BrowserFetcher struct{}

func (BrowserFetcher) FetchHTML(ctx context.Context, pageURL string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent("autospook/1.0"),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}

// EnrichingSearcher fills in snippet text for results that arrive without any, using
// readability extraction over the fetched page.
type EnrichingSearcher struct {
	next     Searcher
	fetcher  PageFetcher
	maxChars int
	timeout  time.Duration
	logger   *log.Logger
}

func NewEnrichingSearcher(next Searcher, fetcher PageFetcher, maxChars int, timeout time.Duration, logger *log.Logger) *EnrichingSearcher {
	return &EnrichingSearcher{next: next, fetcher: fetcher, maxChars: maxChars, timeout: timeout, logger: logger}
}

func (e *EnrichingSearcher) Provider() string { return e.next.Provider() }

func (e *EnrichingSearcher) Search(ctx context.Context, query string) ([]Snippet, error) {
	results, err := e.next.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	for i := range results {
		if strings.TrimSpace(results[i].Text) != "" || results[i].URL == "" {
			continue
		}
		text, ferr := e.extract(ctx, results[i].URL)
		if ferr != nil {
			e.logger.Printf("warn: enrich %s: %v", results[i].URL, ferr)
			continue
		}
		results[i].Text = TrimSnippet(text, e.maxChars)
	}
	return results, nil
}

func (e *EnrichingSearcher) extract(ctx context.Context, pageURL string) (string, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	html, err := e.fetcher.FetchHTML(ctx, pageURL)
	if err != nil {
		return "", err
	}
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", err
	}
	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err != nil {
		return "", err
	}
	return article.TextContent, nil
}

var _ Searcher = (*EnrichingSearcher)(nil)
