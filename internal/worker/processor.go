package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mohammad-safakhou/autospook/config"
	"github.com/mohammad-safakhou/autospook/internal/budget"
	"github.com/mohammad-safakhou/autospook/internal/gateway"
	"github.com/mohammad-safakhou/autospook/internal/investigation"
	"github.com/mohammad-safakhou/autospook/internal/queue/streams"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

const claimScope = streams.EventInvestigationRequested

// Investigator runs one investigation to completion.
type Investigator interface {
	Run(ctx context.Context, req investigation.Request) (*investigation.Investigation, error)
}

// Source is the consumer side of the request stream.
type Source interface {
	Read(ctx context.Context, stream string, opts ...streams.ConsumerOption) ([]streams.Message, error)
	Ack(ctx context.Context, stream string, ids ...string) error
	AutoClaim(ctx context.Context, stream string, minIdle time.Duration, start string, count int64) ([]streams.Message, string, error)
}

// Sink publishes result events.
type Sink interface {
	PublishEvent(ctx context.Context, stream, eventType string, payload interface{}, opts ...streams.PublishOption) (string, error)
}

// Claims guards against running the same request twice. A claim marks a request as
// running; Complete marks it done once its outcome is published.
type Claims interface {
	ClaimIdempotency(ctx context.Context, scope, key string) (bool, error)
	ReleaseIdempotency(ctx context.Context, scope, key string) error
	CompleteIdempotency(ctx context.Context, scope, key string) error
	Completed(ctx context.Context, scope, key string) (bool, error)
}

// errInFlight leaves an entry pending while another worker holds its running claim.
var errInFlight = errors.New("investigation already running")

// Processor consumes investigation.requested events, runs them and publishes the outcome.
type Processor struct {
	logger   *log.Logger
	inv      Investigator
	claims   Claims
	source   Source
	sink     Sink
	cfg      config.QueueConfig
	tracer   trace.Tracer
	handled  otelmetric.Int64Counter
	skipped  otelmetric.Int64Counter
	reclaims otelmetric.Int64Counter
}

// NewProcessor constructs a Processor.
func NewProcessor(logger *log.Logger, inv Investigator, claims Claims, source Source, sink Sink, cfg config.QueueConfig, meter otelmetric.Meter, tracer trace.Tracer) *Processor {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("worker")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	proc := &Processor{
		logger: logger,
		inv:    inv,
		claims: claims,
		source: source,
		sink:   sink,
		cfg:    cfg,
		tracer: tracer,
	}
	if meter != nil {
		var err error
		proc.handled, err = meter.Int64Counter("worker_investigations_handled")
		if err != nil {
			logger.Printf("warn: create handled counter failed: %v", err)
		}
		proc.skipped, err = meter.Int64Counter("worker_duplicate_requests")
		if err != nil {
			logger.Printf("warn: create duplicate counter failed: %v", err)
		}
		proc.reclaims, err = meter.Int64Counter("worker_reclaimed_requests")
		if err != nil {
			logger.Printf("warn: create reclaim counter failed: %v", err)
		}
	}
	return proc
}

// Start blocks, processing requests until ctx is cancelled. In-flight investigations
// are interrupted with ctx and still publish their partial report.
func (p *Processor) Start(ctx context.Context) error {
	p.logger.Printf("worker processor starting; consuming stream %s (concurrency %d)", p.cfg.RequestStream, p.cfg.Concurrency)

	g, gctx := errgroup.WithContext(ctx)
	work := make(chan streams.Message)
	for i := 0; i < p.cfg.Concurrency; i++ {
		g.Go(func() error {
			for msg := range work {
				p.process(gctx, msg)
			}
			return nil
		})
	}
	g.Go(func() error {
		defer close(work)
		p.pump(gctx, work)
		return nil
	})
	err := g.Wait()
	p.logger.Printf("worker processor stopped: %v", ctx.Err())
	return err
}

func (p *Processor) pump(ctx context.Context, work chan<- streams.Message) {
	var reclaim <-chan time.Time
	if p.cfg.ClaimIdle > 0 {
		ticker := time.NewTicker(p.cfg.ClaimIdle)
		defer ticker.Stop()
		reclaim = ticker.C
	}
	send := func(msgs []streams.Message) bool {
		for _, msg := range msgs {
			select {
			case work <- msg:
			case <-ctx.Done():
				return false
			}
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-reclaim:
			msgs := p.reclaim(ctx)
			if !send(msgs) {
				return
			}
			continue
		default:
		}

		msgs, err := p.source.Read(ctx, p.cfg.RequestStream, streams.WithBlock(p.cfg.Block), streams.WithCount(int64(p.cfg.Concurrency)))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Printf("error reading stream: %v", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		if !send(msgs) {
			return
		}
	}
}

// reclaim takes over requests another consumer read but never acked.
func (p *Processor) reclaim(ctx context.Context) []streams.Message {
	var out []streams.Message
	start := "0-0"
	for {
		msgs, next, err := p.source.AutoClaim(ctx, p.cfg.RequestStream, p.cfg.ClaimIdle, start, 16)
		if err != nil {
			p.logger.Printf("warn: autoclaim failed: %v", err)
			return out
		}
		out = append(out, msgs...)
		if next == "" || next == "0-0" || len(msgs) == 0 {
			break
		}
		start = next
	}
	if len(out) > 0 {
		p.logger.Printf("reclaimed %d idle requests", len(out))
		if p.reclaims != nil {
			p.reclaims.Add(ctx, int64(len(out)))
		}
	}
	return out
}

// process handles one message and acks it unless the outcome could not be published
// or another worker still holds its running claim.
func (p *Processor) process(ctx context.Context, msg streams.Message) {
	if err := p.handle(ctx, msg); err != nil {
		p.logger.Printf("error handling request %s: %v", msg.ID, err)
		return
	}
	if err := p.source.Ack(context.WithoutCancel(ctx), p.cfg.RequestStream, msg.ID); err != nil {
		p.logger.Printf("warn: failed to ack message %s: %v", msg.ID, err)
	}
}

func (p *Processor) handle(ctx context.Context, msg streams.Message) error {
	ctx, span := p.tracer.Start(ctx, "worker.handle_investigation")
	defer span.End()

	var req streams.InvestigationRequested
	if err := msg.Envelope.Decode(&req); err != nil {
		return p.publishFailed(ctx, streams.InvestigationFailed{
			InvestigationID: msg.Envelope.EventID,
			Error:           err.Error(),
			Kind:            "invalid_input",
		})
	}
	if req.InvestigationID == "" {
		req.InvestigationID = msg.Envelope.EventID
	}
	span.SetAttributes(attribute.String("investigation.id", req.InvestigationID))

	done, err := p.claims.Completed(ctx, claimScope, req.InvestigationID)
	if err != nil {
		return fmt.Errorf("check idempotency: %w", err)
	}
	if done {
		p.logger.Printf("skip investigation %s, already processed", req.InvestigationID)
		if p.skipped != nil {
			p.skipped.Add(ctx, 1)
		}
		return nil
	}
	claimed, err := p.claims.ClaimIdempotency(ctx, claimScope, req.InvestigationID)
	if err != nil {
		return fmt.Errorf("claim idempotency: %w", err)
	}
	if !claimed {
		return fmt.Errorf("investigation %s: %w", req.InvestigationID, errInFlight)
	}

	inv, runErr := p.inv.Run(ctx, investigation.Request{
		ID:      req.InvestigationID,
		Name:    req.TargetName,
		Context: req.TargetContext,
		Budget:  budgetOverride(req.Budget),
	})
	if p.handled != nil {
		p.handled.Add(ctx, 1, otelmetric.WithAttributes(attribute.Bool("ok", runErr == nil)))
	}

	var pubErr error
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "investigation failed")
		pubErr = p.publishFailed(ctx, streams.InvestigationFailed{
			InvestigationID: req.InvestigationID,
			TargetName:      req.TargetName,
			Error:           runErr.Error(),
			Kind:            failureKind(runErr),
		})
	} else {
		pubErr = p.publishCompleted(ctx, inv)
	}
	if pubErr != nil {
		if err := p.claims.ReleaseIdempotency(context.WithoutCancel(ctx), claimScope, req.InvestigationID); err != nil {
			p.logger.Printf("warn: release claim for %s: %v", req.InvestigationID, err)
		}
		return pubErr
	}
	if err := p.claims.CompleteIdempotency(context.WithoutCancel(ctx), claimScope, req.InvestigationID); err != nil {
		p.logger.Printf("warn: mark %s done: %v", req.InvestigationID, err)
	}
	return nil
}

func (p *Processor) publishCompleted(ctx context.Context, inv *investigation.Investigation) error {
	payload := CompletedPayload(inv)
	_, err := p.sink.PublishEvent(context.WithoutCancel(ctx), p.cfg.ResultStream, streams.EventInvestigationCompleted, payload, streams.WithMaxLenApprox(p.cfg.MaxLen))
	if err != nil {
		return fmt.Errorf("publish %s: %w", streams.EventInvestigationCompleted, err)
	}
	p.logger.Printf("investigation %s completed: risk %s", inv.ID, inv.RiskLevel)
	return nil
}

func (p *Processor) publishFailed(ctx context.Context, payload streams.InvestigationFailed) error {
	payload.FailedAt = time.Now().UTC()
	_, err := p.sink.PublishEvent(context.WithoutCancel(ctx), p.cfg.ResultStream, streams.EventInvestigationFailed, payload, streams.WithMaxLenApprox(p.cfg.MaxLen))
	if err != nil {
		return fmt.Errorf("publish %s: %w", streams.EventInvestigationFailed, err)
	}
	p.logger.Printf("investigation %s failed (%s): %s", payload.InvestigationID, payload.Kind, payload.Error)
	return nil
}

// CompletedPayload converts a finished investigation into its result event.
func CompletedPayload(inv *investigation.Investigation) streams.InvestigationCompleted {
	out := streams.InvestigationCompleted{
		InvestigationID: inv.ID,
		TargetName:      inv.Target.Name,
		RiskLevel:       string(inv.RiskLevel),
		ReportHTML:      inv.ReportHTML,
		Interrupted:     inv.Interrupted,
		Topics:          make([]streams.TopicSummary, 0, len(inv.Topics)),
		Notes:           inv.Notes,
		Warnings:        inv.Warnings,
		Tokens:          inv.Usage.Tokens,
		Cost:            inv.Usage.Cost,
		FinishedAt:      inv.FinishedAt.UTC(),
	}
	for _, t := range inv.Topics {
		out.Topics = append(out.Topics, streams.TopicSummary{
			Title:     t.Title,
			Status:    string(t.Status),
			Rationale: t.Rationale,
		})
	}
	return out
}

func budgetOverride(o *streams.BudgetOverride) budget.Config {
	if o == nil {
		return budget.Config{}
	}
	return budget.Config{
		MaxTokens: o.MaxTokens,
		MaxCost:   o.MaxCost,
		MaxTime:   time.Duration(o.MaxSeconds) * time.Second,
	}
}

func failureKind(err error) string {
	var gen *gateway.GenerationError
	var schema *gateway.SchemaViolationError
	switch {
	case errors.Is(err, investigation.ErrInvalidInput):
		return "invalid_input"
	case errors.As(err, &schema):
		return "schema_violation"
	case errors.As(err, &gen):
		return "generation"
	default:
		return "internal"
	}
}
