package search

import (
	"context"
	"strings"

	"github.com/mohammad-safakhou/autospook/internal/httpx"
)

type SerperClient struct {
	apiKey   string
	baseURL  string
	num      int
	maxChars int
	http     *httpx.Client
}

func NewSerperClient(apiKey, baseURL string, num, maxChars int, http *httpx.Client) *SerperClient {
	if baseURL == "" {
		baseURL = "https://google.serper.dev"
	}
	return &SerperClient{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), num: num, maxChars: maxChars, http: http}
}

func (c *SerperClient) Provider() string { return "serper" }

func (c *SerperClient) Search(ctx context.Context, query string) ([]Snippet, error) {
	body := map[string]any{"q": query, "num": c.num}
	headers := map[string]string{"X-API-KEY": c.apiKey}
	var raw struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
			Date    string `json:"date"`
		} `json:"organic"`
	}
	if err := c.http.DoJSON(ctx, "POST", c.baseURL+"/search", headers, body, &raw); err != nil {
		return nil, wrapErr(c.Provider(), query, err)
	}
	out := make([]Snippet, 0, len(raw.Organic))
	for i, r := range raw.Organic {
		if i >= c.num {
			break
		}
		out = append(out, newSnippet(r.Title, r.Link, r.Snippet, r.Date, query, c.maxChars))
	}
	return out, nil
}

var _ Searcher = (*SerperClient)(nil)
