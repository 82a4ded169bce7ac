package worker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClaims tracks requests in two keys. The running key is taken with SETNX before
// the investigation starts and expires after runningTTL, so an entry reclaimed from a
// crashed worker can run again. The done key is written once the outcome is published
// and keeps duplicates out for doneTTL.
type RedisClaims struct {
	client     redis.Cmdable
	prefix     string
	runningTTL time.Duration
	doneTTL    time.Duration
}

func NewRedisClaims(client redis.Cmdable, prefix string, runningTTL, doneTTL time.Duration) *RedisClaims {
	if prefix == "" {
		prefix = "autospook:claim:"
	}
	return &RedisClaims{client: client, prefix: prefix, runningTTL: runningTTL, doneTTL: doneTTL}
}

func (c *RedisClaims) key(scope, key string) string { return c.prefix + scope + ":" + key }

func (c *RedisClaims) doneKey(scope, key string) string { return c.key(scope, key) + ":done" }

func (c *RedisClaims) ClaimIdempotency(ctx context.Context, scope, key string) (bool, error) {
	return c.client.SetNX(ctx, c.key(scope, key), time.Now().UTC().Format(time.RFC3339), c.runningTTL).Result()
}

func (c *RedisClaims) ReleaseIdempotency(ctx context.Context, scope, key string) error {
	return c.client.Del(ctx, c.key(scope, key)).Err()
}

func (c *RedisClaims) CompleteIdempotency(ctx context.Context, scope, key string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.doneKey(scope, key), time.Now().UTC().Format(time.RFC3339), c.doneTTL)
		pipe.Del(ctx, c.key(scope, key))
		return nil
	})
	return err
}

func (c *RedisClaims) Completed(ctx context.Context, scope, key string) (bool, error) {
	n, err := c.client.Exists(ctx, c.doneKey(scope, key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
