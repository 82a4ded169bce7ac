package scheduler

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/mohammad-safakhou/autospook/config"
	"github.com/mohammad-safakhou/autospook/internal/queue/streams"
)

type recorder struct {
	reqs []streams.InvestigationRequested
	err  error
}

func (r *recorder) enqueue(ctx context.Context, req streams.InvestigationRequested) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.reqs = append(r.reqs, req)
	return req.InvestigationID, nil
}

func newTestScheduler(t *testing.T, rec *recorder, clock *time.Time, targets ...config.WatchTarget) *Scheduler {
	t.Helper()
	s, err := New(targets, rec.enqueue, nil, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	s.now = func() time.Time { return *clock }
	return s
}

func TestTickEnqueuesWhenDue(t *testing.T) {
	rec := &recorder{}
	clock := time.Date(2026, 3, 2, 9, 0, 30, 0, time.UTC)
	s := newTestScheduler(t, rec, &clock, config.WatchTarget{Name: "Acme Corp", Context: "supplier", Schedule: "0 * * * *"})

	if n := s.Tick(context.Background()); n != 1 {
		t.Fatalf("first tick should enqueue, got %d", n)
	}
	req := rec.reqs[0]
	if req.TargetName != "Acme Corp" || req.TargetContext != "supplier" || req.RequestedBy != "watch" || req.InvestigationID == "" {
		t.Fatalf("unexpected request %+v", req)
	}

	clock = clock.Add(20 * time.Minute)
	if n := s.Tick(context.Background()); n != 0 {
		t.Fatalf("not due until 10:00, got %d", n)
	}
	clock = time.Date(2026, 3, 2, 10, 0, 5, 0, time.UTC)
	if n := s.Tick(context.Background()); n != 1 {
		t.Fatalf("due at 10:00, got %d", n)
	}
	if rec.reqs[0].InvestigationID == rec.reqs[1].InvestigationID {
		t.Fatalf("distinct slots must have distinct IDs")
	}
}

func TestSlotIDIsStable(t *testing.T) {
	slot := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	if slotID("Acme", slot) != slotID("Acme", slot) {
		t.Fatalf("slot IDs should be deterministic")
	}
	if slotID("Acme", slot) == slotID("Other", slot) {
		t.Fatalf("slot IDs should differ per target")
	}
}

func TestEnqueueFailureRetriesNextTick(t *testing.T) {
	rec := &recorder{err: errors.New("redis down")}
	clock := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	s := newTestScheduler(t, rec, &clock, config.WatchTarget{Name: "Jane Smith", Schedule: "@daily"})

	if n := s.Tick(context.Background()); n != 0 {
		t.Fatalf("failed enqueue should not count")
	}
	rec.err = nil
	if n := s.Tick(context.Background()); n != 1 {
		t.Fatalf("target should still be due after a failed enqueue, got %d", n)
	}
}

func TestNewRejectsBadSchedule(t *testing.T) {
	_, err := New([]config.WatchTarget{{Name: "x", Schedule: "every tuesday"}}, (&recorder{}).enqueue, nil, log.New(io.Discard, "", 0))
	if err == nil {
		t.Fatalf("expected parse error")
	}
}
