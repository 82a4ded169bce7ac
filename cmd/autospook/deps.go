package main

import (
	"context"
	"fmt"
	"log"

	"github.com/mohammad-safakhou/autospook/config"
	"github.com/mohammad-safakhou/autospook/internal/gateway"
	"github.com/mohammad-safakhou/autospook/internal/investigation"
	"github.com/mohammad-safakhou/autospook/internal/llm"
	"github.com/mohammad-safakhou/autospook/internal/queue/streams"
	"github.com/mohammad-safakhou/autospook/internal/ratelimit"
	"github.com/mohammad-safakhou/autospook/internal/search"
	"github.com/mohammad-safakhou/autospook/internal/telemetry"
	"github.com/redis/go-redis/v9"
)

// connectRedis returns a pinged client.
func connectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  -1,
		WriteTimeout: cfg.Timeout,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed (%s): %w", cfg.Addr(), err)
	}
	return rdb, nil
}

// buildOrchestrator wires the gateway, search stack and limiter from cfg. rdb may be
// nil, which disables the search cache.
func buildOrchestrator(cfg *config.Config, rdb redis.Cmdable) (*investigation.Orchestrator, error) {
	limiter := ratelimit.FromConfig(cfg.RateLimits)

	router, err := llm.NewRouter(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("llm router: %w", err)
	}
	gw := gateway.New(router, limiter, telemetry.NewLogger(cfg.Telemetry, "[GATEWAY] "))

	searcher, err := search.New(cfg.Search, rdb, telemetry.NewLogger(cfg.Telemetry, "[SEARCH] "))
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	return investigation.New(investigation.Options{
		Config:      cfg.Investigation,
		SearchRetry: investigation.SearchPolicy(cfg.Search),
		Gateway:     gw,
		Searcher:    searcher,
		Limiter:     limiter,
		Ranker:      investigation.NewRanker(cfg.Investigation.EvidenceRanking),
		Logger:      telemetry.NewLogger(cfg.Telemetry, "[ORCH] "),
	})
}

func setupTelemetry(ctx context.Context, cfg *config.Config, service string) *telemetry.Provider {
	provider, err := telemetry.Setup(ctx, cfg.Telemetry, telemetry.Options{
		ServiceName:    service,
		ServiceVersion: cfg.General.Version,
	})
	if err != nil {
		log.Printf("warn: telemetry disabled: %v", err)
		return nil
	}
	return provider
}

func newRegistry() (*streams.SchemaRegistry, error) {
	registry := streams.NewSchemaRegistry()
	if err := streams.RegisterBaseSchemas(registry); err != nil {
		return nil, err
	}
	return registry, nil
}
