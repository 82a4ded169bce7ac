package search

import (
	"context"
	"strings"

	"github.com/mohammad-safakhou/autospook/internal/httpx"
)

// ExaClient queries the Exa search API with page text included.
type ExaClient struct {
	apiKey     string
	baseURL    string
	numResults int
	maxChars   int
	http       *httpx.Client
}

func NewExaClient(apiKey, baseURL string, numResults, maxChars int, http *httpx.Client) *ExaClient {
	if baseURL == "" {
		baseURL = "https://api.exa.ai"
	}
	return &ExaClient{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), numResults: numResults, maxChars: maxChars, http: http}
}

func (c *ExaClient) Provider() string { return "exa" }

type exaRequest struct {
	Query      string `json:"query"`
	NumResults int    `json:"numResults"`
	Contents   struct {
		Text bool `json:"text"`
	} `json:"contents"`
}

type exaResponse struct {
	Results []struct {
		ID            string  `json:"id"`
		Title         string  `json:"title"`
		URL           string  `json:"url"`
		Score         float64 `json:"score"`
		PublishedDate string  `json:"publishedDate"`
		Text          string  `json:"text"`
	} `json:"results"`
}

func (c *ExaClient) Search(ctx context.Context, query string) ([]Snippet, error) {
	body := exaRequest{Query: query, NumResults: c.numResults}
	body.Contents.Text = true
	headers := map[string]string{"x-api-key": c.apiKey}

	var resp exaResponse
	if err := c.http.DoJSON(ctx, "POST", c.baseURL+"/search", headers, body, &resp); err != nil {
		return nil, wrapErr(c.Provider(), query, err)
	}
	out := make([]Snippet, 0, len(resp.Results))
	for _, r := range resp.Results {
		s := newSnippet(r.Title, r.URL, r.Text, r.PublishedDate, query, c.maxChars)
		s.Score = r.Score
		out = append(out, s)
	}
	return out, nil
}

var _ Searcher = (*ExaClient)(nil)
