package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedSearcher memoises result sets in Redis keyed by provider and normalised query.
// Redis failures degrade to uncached searches.
type CachedSearcher struct {
	next   Searcher
	client redis.Cmdable
	ttl    time.Duration
	prefix string
	logger *log.Logger
}

func NewCachedSearcher(next Searcher, client redis.Cmdable, ttl time.Duration, prefix string, logger *log.Logger) *CachedSearcher {
	if prefix == "" {
		prefix = "autospook:search"
	}
	return &CachedSearcher{next: next, client: client, ttl: ttl, prefix: prefix, logger: logger}
}

func (c *CachedSearcher) Provider() string { return c.next.Provider() }

func (c *CachedSearcher) key(query string) string {
	norm := strings.ToLower(strings.Join(strings.Fields(query), " "))
	sum := sha256.Sum256([]byte(norm))
	return c.prefix + ":" + c.next.Provider() + ":" + hex.EncodeToString(sum[:])
}

func (c *CachedSearcher) Search(ctx context.Context, query string) ([]Snippet, error) {
	key := c.key(query)
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached []Snippet
		if jerr := json.Unmarshal(raw, &cached); jerr == nil {
			for i := range cached {
				cached[i].Query = query
			}
			return cached, nil
		}
	case !errors.Is(err, redis.Nil):
		c.logger.Printf("warn: search cache read %s: %v", key, err)
	}

	results, err := c.next.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	if data, jerr := json.Marshal(results); jerr == nil {
		if serr := c.client.Set(ctx, key, data, c.ttl).Err(); serr != nil {
			c.logger.Printf("warn: search cache write %s: %v", key, serr)
		}
	}
	return results, nil
}

var _ Searcher = (*CachedSearcher)(nil)
