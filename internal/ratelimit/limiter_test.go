package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestAcquireEnforcesMinInterval(t *testing.T) {
	reg := NewRegistry(map[string]Policy{
		"exa": {RequestsPerMinute: 6000, Burst: 10, MinInterval: 40 * time.Millisecond},
	})
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := reg.Acquire(ctx, "exa"); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 70*time.Millisecond {
		t.Fatalf("expected spacing between calls, elapsed %v", elapsed)
	}
}

func TestProvidersAreIndependent(t *testing.T) {
	reg := NewRegistry(map[string]Policy{
		"openai": {RequestsPerMinute: 1, Burst: 1},
		"exa":    {RequestsPerMinute: 6000, Burst: 5},
	})
	ctx := context.Background()
	if err := reg.Acquire(ctx, "openai"); err != nil {
		t.Fatalf("first openai acquire: %v", err)
	}
	// openai is now exhausted for a minute; exa must still be admitted immediately.
	done := make(chan error, 1)
	go func() { done <- reg.Acquire(ctx, "exa") }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("exa acquire: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("exa acquire blocked by openai budget")
	}
}

func TestAcquireHonoursContext(t *testing.T) {
	reg := NewRegistry(map[string]Policy{"openai": {RequestsPerMinute: 1, Burst: 1}})
	if err := reg.Acquire(context.Background(), "openai"); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := reg.Acquire(ctx, "openai"); err == nil {
		t.Fatalf("expected context error while waiting for permit")
	}
}

func TestUnknownProviderUsesDefault(t *testing.T) {
	reg := NewRegistry(nil)
	if err := reg.Acquire(context.Background(), "serper"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := reg.Acquire(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty provider")
	}
}
