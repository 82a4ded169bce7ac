package scheduler

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/mohammad-safakhou/autospook/config"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestSlotLockOverRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	redisC, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	defer func() { _ = redisC.Terminate(ctx) }()

	uri, err := redisC.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("redis uri: %v", err)
	}
	opts, err := redis.ParseURL(uri)
	if err != nil {
		t.Fatalf("parse redis uri: %v", err)
	}
	rdb := redis.NewClient(opts)
	defer func() { _ = rdb.Close() }()

	target := config.WatchTarget{Name: "Jane Smith", Schedule: "@daily"}
	clock := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	newShared := func(rec *recorder) *Scheduler {
		s, err := New([]config.WatchTarget{target}, rec.enqueue, rdb, log.New(io.Discard, "", 0))
		if err != nil {
			t.Fatalf("new scheduler: %v", err)
		}
		s.now = func() time.Time { return clock }
		return s
	}

	failing := &recorder{err: errors.New("stream unavailable")}
	first := newShared(failing)
	if n := first.Tick(ctx); n != 0 {
		t.Fatalf("failed enqueue should not count, got %d", n)
	}
	key := lockKey(target.Name, clock.Truncate(time.Minute))
	if n, err := rdb.Exists(ctx, key).Result(); err != nil || n != 0 {
		t.Fatalf("slot lock should be released after a failed enqueue: exists=%d err=%v", n, err)
	}

	failing.err = nil
	if n := first.Tick(ctx); n != 1 {
		t.Fatalf("slot should be retried on the next tick, got %d", n)
	}

	other := &recorder{}
	if n := newShared(other).Tick(ctx); n != 0 {
		t.Fatalf("a second scheduler must not enqueue a locked slot, got %d", n)
	}
}
