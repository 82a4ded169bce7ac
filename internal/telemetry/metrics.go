package telemetry

import (
	"context"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce         sync.Once
	investigationsTotal otelmetric.Int64Counter
	investigationTime   otelmetric.Float64Histogram
	roundsTotal         otelmetric.Int64Counter
	forcedTotal         otelmetric.Int64Counter
	llmCallsTotal       otelmetric.Int64Counter
	llmTokensTotal      otelmetric.Int64Counter
	llmCostTotal        otelmetric.Float64Counter
	searchCallsTotal    otelmetric.Int64Counter
	retriesTotal        otelmetric.Int64Counter
	riskTotal           otelmetric.Int64Counter
)

func initMetrics() {
	meter := otel.Meter("autospook/investigation")
	var err error
	report := func(name string) {
		if err != nil {
			log.Printf("telemetry metrics init: %s: %v", name, err)
		}
	}
	investigationsTotal, err = meter.Int64Counter("autospook_investigations_total",
		otelmetric.WithDescription("Investigations finished, by outcome"))
	report("autospook_investigations_total")
	investigationTime, err = meter.Float64Histogram("autospook_investigation_duration_seconds",
		otelmetric.WithDescription("Wall time of an investigation"), otelmetric.WithUnit("s"))
	report("autospook_investigation_duration_seconds")
	roundsTotal, err = meter.Int64Counter("autospook_question_rounds_total",
		otelmetric.WithDescription("Query/search/evaluate rounds executed"))
	report("autospook_question_rounds_total")
	forcedTotal, err = meter.Int64Counter("autospook_forced_terminations_total",
		otelmetric.WithDescription("Questions or topics forced into a terminal state"))
	report("autospook_forced_terminations_total")
	llmCallsTotal, err = meter.Int64Counter("autospook_llm_calls_total",
		otelmetric.WithDescription("Gateway function calls, by function and status"))
	report("autospook_llm_calls_total")
	llmTokensTotal, err = meter.Int64Counter("autospook_llm_tokens_total",
		otelmetric.WithDescription("Tokens consumed by gateway calls"))
	report("autospook_llm_tokens_total")
	llmCostTotal, err = meter.Float64Counter("autospook_llm_cost_usd_total",
		otelmetric.WithDescription("Estimated LLM spend"), otelmetric.WithUnit("USD"))
	report("autospook_llm_cost_usd_total")
	searchCallsTotal, err = meter.Int64Counter("autospook_search_calls_total",
		otelmetric.WithDescription("Search calls, by provider and status"))
	report("autospook_search_calls_total")
	retriesTotal, err = meter.Int64Counter("autospook_retries_total",
		otelmetric.WithDescription("Retried external calls"))
	report("autospook_retries_total")
	riskTotal, err = meter.Int64Counter("autospook_risk_levels_total",
		otelmetric.WithDescription("Final risk levels assigned"))
	report("autospook_risk_levels_total")
}

func ensureMetrics() { metricsOnce.Do(initMetrics) }

func status(ok bool) attribute.KeyValue {
	if ok {
		return attribute.String("status", "ok")
	}
	return attribute.String("status", "error")
}

// RecordInvestigation counts a finished investigation.
func RecordInvestigation(ctx context.Context, outcome string, seconds float64) {
	ensureMetrics()
	attrs := otelmetric.WithAttributes(attribute.String("outcome", outcome))
	if investigationsTotal != nil {
		investigationsTotal.Add(ctx, 1, attrs)
	}
	if investigationTime != nil {
		investigationTime.Record(ctx, seconds, attrs)
	}
}

func RecordRound(ctx context.Context) {
	ensureMetrics()
	if roundsTotal != nil {
		roundsTotal.Add(ctx, 1)
	}
}

// RecordForced counts a forced terminal transition; reason is the rationale string.
func RecordForced(ctx context.Context, scope, reason string) {
	ensureMetrics()
	if forcedTotal != nil {
		forcedTotal.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("scope", scope),
			attribute.String("reason", reason),
		))
	}
}

func RecordLLMCall(ctx context.Context, function, provider string, ok bool, tokens int64, cost float64) {
	ensureMetrics()
	attrs := otelmetric.WithAttributes(
		attribute.String("function", function),
		attribute.String("provider", provider),
	)
	if llmCallsTotal != nil {
		llmCallsTotal.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("function", function),
			attribute.String("provider", provider),
			status(ok),
		))
	}
	if tokens > 0 && llmTokensTotal != nil {
		llmTokensTotal.Add(ctx, tokens, attrs)
	}
	if cost > 0 && llmCostTotal != nil {
		llmCostTotal.Add(ctx, cost, attrs)
	}
}

func RecordSearch(ctx context.Context, provider string, ok bool) {
	ensureMetrics()
	if searchCallsTotal != nil {
		searchCallsTotal.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("provider", provider), status(ok)))
	}
}

func RecordRetry(ctx context.Context, operation string) {
	ensureMetrics()
	if retriesTotal != nil {
		retriesTotal.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("operation", operation)))
	}
}

func RecordRisk(ctx context.Context, level string) {
	ensureMetrics()
	if riskTotal != nil {
		riskTotal.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("level", level)))
	}
}
