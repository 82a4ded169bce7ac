package streams

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	streamMetricsOnce sync.Once
	eventsPublished   otelmetric.Int64Counter
	entriesRejected   otelmetric.Int64Counter
	requestedBudget   otelmetric.Float64Histogram
)

func initStreamMetrics() {
	meter := otel.Meter("autospook/queue/streams")
	var err error
	eventsPublished, err = meter.Int64Counter(
		"stream_events_published_total",
		otelmetric.WithDescription("Events appended to investigation streams"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: stream_events_published_total: %v", err)
	}
	entriesRejected, err = meter.Int64Counter(
		"stream_entries_rejected_total",
		otelmetric.WithDescription("Stream entries acked without processing because they failed validation"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: stream_entries_rejected_total: %v", err)
	}
	requestedBudget, err = meter.Float64Histogram(
		"investigation_requested_budget_seconds",
		otelmetric.WithDescription("Time budget attached to investigation requests"),
		otelmetric.WithUnit("s"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: investigation_requested_budget_seconds: %v", err)
	}
}

func recordPublished(ctx context.Context, eventType string, payload []byte) {
	streamMetricsOnce.Do(initStreamMetrics)
	attrs := []attribute.KeyValue{attribute.String("event_type", eventType)}
	switch eventType {
	case EventInvestigationCompleted:
		var doc struct {
			RiskLevel   string `json:"risk_level"`
			Interrupted bool   `json:"interrupted"`
		}
		if json.Unmarshal(payload, &doc) == nil {
			attrs = append(attrs,
				attribute.String("risk_level", doc.RiskLevel),
				attribute.Bool("interrupted", doc.Interrupted),
			)
		}
	case EventInvestigationRequested:
		var doc InvestigationRequested
		if json.Unmarshal(payload, &doc) == nil {
			attrs = append(attrs, attribute.String("requested_by", doc.RequestedBy))
			if doc.Budget != nil && doc.Budget.MaxSeconds > 0 && requestedBudget != nil {
				requestedBudget.Record(ctx, float64(doc.Budget.MaxSeconds))
			}
		}
	}
	if eventsPublished != nil {
		eventsPublished.Add(ctx, 1, otelmetric.WithAttributes(attrs...))
	}
}

func recordRejected(ctx context.Context, stream string) {
	streamMetricsOnce.Do(initStreamMetrics)
	if entriesRejected != nil {
		entriesRejected.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("stream", stream)))
	}
}
