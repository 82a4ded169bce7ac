// Package ratelimit provides process-wide, per-provider admission for outbound LLM and
// search calls.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mohammad-safakhou/autospook/config"
	"golang.org/x/time/rate"
)

// Limiter blocks until the caller may invoke provider. It only fails when ctx ends.
type Limiter interface {
	Acquire(ctx context.Context, provider string) error
}

// Policy bounds a single provider.
type Policy struct {
	RequestsPerMinute int
	Burst             int
	MinInterval       time.Duration
}

// DefaultPolicy applies to providers without an explicit entry.
var DefaultPolicy = Policy{RequestsPerMinute: 60, MinInterval: 100 * time.Millisecond}

type bucket struct {
	rpm     *rate.Limiter
	spacing *rate.Limiter
}

// Registry keeps one token bucket per provider, created on first use.
type Registry struct {
	mu       sync.Mutex
	policies map[string]Policy
	buckets  map[string]*bucket
}

// NewRegistry builds a registry from explicit policies.
func NewRegistry(policies map[string]Policy) *Registry {
	cp := make(map[string]Policy, len(policies))
	for k, v := range policies {
		cp[k] = v
	}
	return &Registry{policies: cp, buckets: make(map[string]*bucket)}
}

// FromConfig converts the rate_limits config section.
func FromConfig(cfg map[string]config.RateLimitConfig) *Registry {
	policies := make(map[string]Policy, len(cfg))
	for name, rl := range cfg {
		policies[name] = Policy{
			RequestsPerMinute: rl.RequestsPerMinute,
			Burst:             rl.Burst,
			MinInterval:       rl.MinInterval,
		}
	}
	return NewRegistry(policies)
}

func (r *Registry) bucketFor(provider string) *bucket {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.buckets[provider]; ok {
		return b
	}
	p, ok := r.policies[provider]
	if !ok {
		p = DefaultPolicy
	}
	b := &bucket{}
	if p.RequestsPerMinute > 0 {
		burst := p.Burst
		if burst <= 0 {
			burst = 1
		}
		b.rpm = rate.NewLimiter(rate.Limit(float64(p.RequestsPerMinute)/60.0), burst)
	}
	if p.MinInterval > 0 {
		b.spacing = rate.NewLimiter(rate.Every(p.MinInterval), 1)
	}
	r.buckets[provider] = b
	return b
}

// Acquire waits for both the per-minute budget and the minimum spacing of provider.
func (r *Registry) Acquire(ctx context.Context, provider string) error {
	if provider == "" {
		return fmt.Errorf("ratelimit: provider is required")
	}
	b := r.bucketFor(provider)
	if b.rpm != nil {
		if err := b.rpm.Wait(ctx); err != nil {
			return fmt.Errorf("ratelimit %s: %w", provider, err)
		}
	}
	if b.spacing != nil {
		if err := b.spacing.Wait(ctx); err != nil {
			return fmt.Errorf("ratelimit %s: %w", provider, err)
		}
	}
	return nil
}

// Unlimited admits every call immediately.
type Unlimited struct{}

func (Unlimited) Acquire(ctx context.Context, _ string) error { return ctx.Err() }

var (
	_ Limiter = (*Registry)(nil)
	_ Limiter = Unlimited{}
)
