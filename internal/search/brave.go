package search

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/mohammad-safakhou/autospook/internal/httpx"
)

type BraveClient struct {
	apiKey   string
	baseURL  string
	count    int
	maxChars int
	http     *httpx.Client
}

func NewBraveClient(apiKey, baseURL string, count, maxChars int, http *httpx.Client) *BraveClient {
	if baseURL == "" {
		baseURL = "https://api.search.brave.com/res/v1"
	}
	return &BraveClient{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), count: count, maxChars: maxChars, http: http}
}

func (c *BraveClient) Provider() string { return "brave" }

func (c *BraveClient) Search(ctx context.Context, query string) ([]Snippet, error) {
	// https://api.search.brave.com/app/documentation/web-search
	endpoint := fmt.Sprintf("%s/web/search?q=%s&count=%d", c.baseURL, url.QueryEscape(query), c.count)
	headers := map[string]string{"X-Subscription-Token": c.apiKey}
	var raw struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
				PageAge     string `json:"page_age"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := c.http.DoJSON(ctx, "GET", endpoint, headers, nil, &raw); err != nil {
		return nil, wrapErr(c.Provider(), query, err)
	}
	out := make([]Snippet, 0, len(raw.Web.Results))
	for i, r := range raw.Web.Results {
		if i >= c.count {
			break
		}
		out = append(out, newSnippet(r.Title, r.URL, r.Description, r.PageAge, query, c.maxChars))
	}
	return out, nil
}

var _ Searcher = (*BraveClient)(nil)
