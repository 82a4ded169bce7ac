package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorhill/cronexpr"
	"github.com/mohammad-safakhou/autospook/config"
	"github.com/mohammad-safakhou/autospook/internal/queue/streams"
	"github.com/redis/go-redis/v9"
)

// EnqueueFunc publishes an investigation request and returns its ID.
type EnqueueFunc func(ctx context.Context, req streams.InvestigationRequested) (string, error)

type entry struct {
	target config.WatchTarget
	expr   *cronexpr.Expression
}

// Scheduler enqueues investigations for watch-list targets when their cron schedule
// is due. Several schedulers may share one Redis; a per-slot lock keeps them from
// enqueueing the same slot twice.
type Scheduler struct {
	entries []entry
	enqueue EnqueueFunc
	rdb     redis.Cmdable
	logger  *log.Logger
	now     func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// New parses every schedule up front. rdb may be nil for a single scheduler.
func New(targets []config.WatchTarget, enqueue EnqueueFunc, rdb redis.Cmdable, logger *log.Logger) (*Scheduler, error) {
	if enqueue == nil {
		return nil, fmt.Errorf("scheduler: enqueue func is required")
	}
	s := &Scheduler{
		enqueue: enqueue,
		rdb:     rdb,
		logger:  logger,
		now:     time.Now,
		last:    make(map[string]time.Time),
	}
	for _, t := range targets {
		expr, err := cronexpr.Parse(t.Schedule)
		if err != nil {
			return nil, fmt.Errorf("watch target %q: schedule %q: %w", t.Name, t.Schedule, err)
		}
		s.entries = append(s.entries, entry{target: t, expr: expr})
	}
	return s, nil
}

// Run ticks every interval until ctx is cancelled. The first tick is immediate.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick enqueues every target that is due and returns how many were enqueued.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.now()
	enqueued := 0
	for _, e := range s.entries {
		s.mu.Lock()
		last, seen := s.last[e.target.Name]
		s.mu.Unlock()

		slot, due := dueSlot(e.expr, last, seen, now)
		if !due {
			continue
		}
		if !s.lock(ctx, e.target.Name, slot) {
			s.markRun(e.target.Name, now)
			continue
		}
		id, err := s.enqueue(ctx, streams.InvestigationRequested{
			InvestigationID: slotID(e.target.Name, slot),
			TargetName:      e.target.Name,
			TargetContext:   e.target.Context,
			RequestedBy:     "watch",
			RequestedAt:     now.UTC(),
		})
		if err != nil {
			s.logger.Printf("watch %q: enqueue failed: %v", e.target.Name, err)
			s.unlock(ctx, e.target.Name, slot)
			continue
		}
		s.markRun(e.target.Name, now)
		enqueued++
		s.logger.Printf("watch %q: enqueued investigation %s", e.target.Name, id)
	}
	return enqueued
}

func (s *Scheduler) markRun(name string, at time.Time) {
	s.mu.Lock()
	s.last[name] = at
	s.mu.Unlock()
}

func (s *Scheduler) lock(ctx context.Context, name string, slot time.Time) bool {
	if s.rdb == nil {
		return true
	}
	ok, err := s.rdb.SetNX(ctx, lockKey(name, slot), "1", 24*time.Hour).Result()
	if err != nil {
		s.logger.Printf("watch %q: lock failed, enqueueing anyway: %v", name, err)
		return true
	}
	return ok
}

// unlock frees a slot whose enqueue failed so the next tick can retry it.
func (s *Scheduler) unlock(ctx context.Context, name string, slot time.Time) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(context.WithoutCancel(ctx), lockKey(name, slot)).Err(); err != nil {
		s.logger.Printf("watch %q: unlock failed: %v", name, err)
	}
}

func lockKey(name string, slot time.Time) string {
	return fmt.Sprintf("autospook:watch:lock:%s:%d", name, slot.Unix())
}

// dueSlot reports whether a schedule fires at or before now since the last run. A
// target that never ran is due immediately, in the slot of the current minute.
func dueSlot(expr *cronexpr.Expression, last time.Time, seen bool, now time.Time) (time.Time, bool) {
	if !seen {
		return now.Truncate(time.Minute), true
	}
	next := expr.Next(last)
	if next.IsZero() || next.After(now) {
		return time.Time{}, false
	}
	return next, true
}

// slotID derives a stable investigation ID so duplicate enqueues of one slot collapse
// in the worker's idempotency check.
func slotID(name string, slot time.Time) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("autospook:watch:%s:%d", name, slot.Unix()))).String()
}
