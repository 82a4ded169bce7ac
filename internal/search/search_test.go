package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/autospook/internal/httpx"
)

func TestExaClientSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" || r.Header.Get("x-api-key") != "k" {
			t.Errorf("unexpected request %s key=%q", r.URL.Path, r.Header.Get("x-api-key"))
		}
		var body exaRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Query != "jane smith director" || body.NumResults != 3 || !body.Contents.Text {
			t.Errorf("unexpected body %+v", body)
		}
		_, _ = w.Write([]byte(`{"results":[
{"id":"1","title":"Jane Smith appointed","url":"https://news.example.com/a?utm_source=x","score":0.9,"publishedDate":"2024-03-01","text":"` + strings.Repeat("word ", 100) + `"},
{"id":"2","title":"Profile","url":"https://example.org/jane","text":"Short bio"}]}`))
	}))
	defer srv.Close()

	c := NewExaClient("k", srv.URL, 3, 20, httpx.NewClient(time.Second, 0, time.Millisecond))
	got, err := c.Search(context.Background(), "jane smith director")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 snippets, got %d", len(got))
	}
	first := got[0]
	if first.Query != "jane smith director" || first.PublishedDate != "2024-03-01" || first.Score != 0.9 {
		t.Fatalf("unexpected snippet %+v", first)
	}
	if !strings.HasSuffix(first.Text, "…") || len([]rune(first.Text)) > 21 {
		t.Fatalf("expected trimmed snippet, got %q", first.Text)
	}
	if first.ID == "" || first.ID == got[1].ID {
		t.Fatalf("expected distinct ids, got %q and %q", first.ID, got[1].ID)
	}
}

func TestBraveAndSerperMapping(t *testing.T) {
	brave := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "acme fraud" || r.Header.Get("X-Subscription-Token") != "b" {
			t.Errorf("unexpected brave request %s", r.URL.String())
		}
		_, _ = w.Write([]byte(`{"web":{"results":[{"title":"T","url":"https://a.example/1","description":"D","page_age":"2023-01-01"},{"title":"T2","url":"https://a.example/2","description":"D2"}]}}`))
	}))
	defer brave.Close()
	serper := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-KEY") != "s" {
			t.Errorf("missing serper key")
		}
		_, _ = w.Write([]byte(`{"organic":[{"title":"S","link":"https://s.example/1","snippet":"SS","date":"Jan 2, 2024"}]}`))
	}))
	defer serper.Close()

	client := httpx.NewClient(time.Second, 0, time.Millisecond)
	b, err := NewBraveClient("b", brave.URL, 1, 280, client).Search(context.Background(), "acme fraud")
	if err != nil {
		t.Fatalf("brave: %v", err)
	}
	if len(b) != 1 || b[0].Text != "D" || b[0].PublishedDate != "2023-01-01" {
		t.Fatalf("unexpected brave snippets %+v", b)
	}
	s, err := NewSerperClient("s", serper.URL, 3, 280, client).Search(context.Background(), "acme fraud")
	if err != nil {
		t.Fatalf("serper: %v", err)
	}
	if len(s) != 1 || s[0].URL != "https://s.example/1" || s[0].Text != "SS" {
		t.Fatalf("unexpected serper snippets %+v", s)
	}
}

func TestSearchErrorClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("q") {
		case "throttled":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer srv.Close()

	c := NewBraveClient("b", srv.URL, 3, 280, httpx.NewClient(time.Second, 0, time.Millisecond))
	_, err := c.Search(context.Background(), "throttled")
	var serr *SearchError
	if !errors.As(err, &serr) || serr.StatusCode != http.StatusTooManyRequests || !serr.Retryable() {
		t.Fatalf("expected retryable 429 search error, got %v", err)
	}
	_, err = c.Search(context.Background(), "forbidden")
	if !errors.As(err, &serr) || serr.StatusCode != http.StatusForbidden || serr.Retryable() {
		t.Fatalf("expected permanent 403 search error, got %v", err)
	}
	cancelled := &SearchError{Provider: "exa", Err: context.Canceled}
	if cancelled.Retryable() {
		t.Fatalf("cancelled searches must not be retried")
	}
}

func TestTrimSnippet(t *testing.T) {
	if got := TrimSnippet("  a\n\tb  ", 10); got != "a b" {
		t.Fatalf("expected whitespace collapse, got %q", got)
	}
	if got := TrimSnippet("ééééé", 3); got != "ééé…" {
		t.Fatalf("expected rune-safe cut, got %q", got)
	}
}

type staticSearcher struct {
	results []Snippet
	calls   int
}

func (s *staticSearcher) Provider() string { return "static" }

func (s *staticSearcher) Search(ctx context.Context, query string) ([]Snippet, error) {
	s.calls++
	out := make([]Snippet, len(s.results))
	copy(out, s.results)
	return out, nil
}

type fakeFetcher map[string]string

func (f fakeFetcher) FetchHTML(ctx context.Context, pageURL string) (string, error) {
	html, ok := f[pageURL]
	if !ok {
		return "", fmt.Errorf("not found")
	}
	return html, nil
}

func TestEnrichingSearcherFillsMissingText(t *testing.T) {
	inner := &staticSearcher{results: []Snippet{
		{Title: "has text", URL: "https://a.example/1", Text: "already here"},
		{Title: "empty", URL: "https://a.example/2"},
		{Title: "unreachable", URL: "https://a.example/3"},
	}}
	page := `<html><head><title>Board</title></head><body><article><h1>Board changes</h1>
<p>Jane Smith was appointed to the board of Acme Corporation in March after a long career in logistics and supply chain management.</p>
<p>She previously served as chief operating officer at a regional carrier for over a decade.</p></article></body></html>`
	e := NewEnrichingSearcher(inner, fakeFetcher{"https://a.example/2": page}, 280, time.Second, log.New(io.Discard, "", 0))
	got, err := e.Search(context.Background(), "q")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if got[0].Text != "already here" {
		t.Fatalf("existing text must be kept, got %q", got[0].Text)
	}
	if !strings.Contains(got[1].Text, "Jane Smith was appointed") {
		t.Fatalf("expected readability text, got %q", got[1].Text)
	}
	if got[2].Text != "" {
		t.Fatalf("failed fetch should leave text empty, got %q", got[2].Text)
	}
}
