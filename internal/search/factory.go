package search

import (
	"fmt"
	"log"

	"github.com/mohammad-safakhou/autospook/config"
	"github.com/mohammad-safakhou/autospook/internal/httpx"
	"github.com/redis/go-redis/v9"
)

// New builds the configured provider client and layers enrichment and caching on top.
// rdb may be nil, in which case caching is skipped.
func New(cfg config.SearchConfig, rdb redis.Cmdable, logger *log.Logger) (Searcher, error) {
	// retries are driven by the orchestrator so the client makes a single attempt
	client := httpx.NewClient(cfg.Timeout, 0, cfg.Backoff)

	var s Searcher
	switch cfg.Provider {
	case "exa":
		s = NewExaClient(cfg.Exa.APIKey, cfg.Exa.BaseURL, cfg.ResultsPerQuery, cfg.SnippetChars, client)
	case "brave":
		s = NewBraveClient(cfg.Brave.APIKey, cfg.Brave.BaseURL, cfg.ResultsPerQuery, cfg.SnippetChars, client)
	case "serper":
		s = NewSerperClient(cfg.Serper.APIKey, cfg.Serper.BaseURL, cfg.ResultsPerQuery, cfg.SnippetChars, client)
	default:
		return nil, fmt.Errorf("unsupported search provider: %s", cfg.Provider)
	}

	if cfg.Enrich.Enabled {
		var fetcher PageFetcher = HTTPFetcher{Client: client.HTTPClient()}
		if cfg.Enrich.Mode == "chromedp" {
			fetcher = BrowserFetcher{}
		}
		s = NewEnrichingSearcher(s, fetcher, cfg.SnippetChars, cfg.Enrich.Timeout, logger)
	}
	if cfg.Cache.Enabled && rdb != nil {
		s = NewCachedSearcher(s, rdb, cfg.Cache.TTL, cfg.Cache.Prefix, logger)
	}
	return s, nil
}
