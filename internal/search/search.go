// Package search wraps web-search APIs behind a single Searcher returning evidence snippets.
package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mohammad-safakhou/autospook/internal/helpers"
	"github.com/mohammad-safakhou/autospook/internal/httpx"
)

// Snippet is one search result attributed to the query that produced it.
type Snippet struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Text          string  `json:"snippet"`
	PublishedDate string  `json:"published_date,omitempty"`
	Query         string  `json:"query,omitempty"`
	Score         float64 `json:"score,omitempty"`
}

// Searcher runs a single query against a provider.
type Searcher interface {
	Provider() string
	Search(ctx context.Context, query string) ([]Snippet, error)
}

// SearchError reports a failed search call.
type SearchError struct {
	Provider   string
	Query      string
	StatusCode int
	Err        error
}

func (e *SearchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("search %s %q: status %d: %v", e.Provider, e.Query, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("search %s %q: %v", e.Provider, e.Query, e.Err)
}

func (e *SearchError) Unwrap() error { return e.Err }

// Retryable is false for client errors other than timeouts and throttling, and for
// cancelled contexts.
func (e *SearchError) Retryable() bool {
	if errors.Is(e.Err, context.Canceled) || errors.Is(e.Err, context.DeadlineExceeded) {
		return false
	}
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode == http.StatusRequestTimeout:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

func wrapErr(provider, query string, err error) error {
	serr := &SearchError{Provider: provider, Query: query, Err: err}
	var status *httpx.StatusError
	if errors.As(err, &status) {
		serr.StatusCode = status.StatusCode
	}
	return serr
}

// newSnippet normalises provider output into a Snippet.
func newSnippet(title, url, text, published, query string, maxChars int) Snippet {
	s := Snippet{
		Title:         strings.TrimSpace(title),
		URL:           strings.TrimSpace(url),
		Text:          TrimSnippet(text, maxChars),
		PublishedDate: strings.TrimSpace(published),
		Query:         query,
	}
	s.ID = SnippetID(s.URL, s.Title)
	return s
}

// SnippetID fingerprints the canonical URL, falling back to the raw url and title.
func SnippetID(url, title string) string {
	if fp, err := helpers.URLFingerprint(url); err == nil {
		return fp[:16]
	}
	sum := sha256.Sum256([]byte(url + "\x00" + title))
	return hex.EncodeToString(sum[:8])
}

// TrimSnippet collapses whitespace and cuts s to max runes, marking the cut with an ellipsis.
func TrimSnippet(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max])) + "…"
}
