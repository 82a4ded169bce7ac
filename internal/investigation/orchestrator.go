// Package investigation runs the bounded control loop that turns a target into topics,
// questions, searches and finally a sanitized report with a risk level.
package investigation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/autospook/config"
	"github.com/mohammad-safakhou/autospook/internal/budget"
	"github.com/mohammad-safakhou/autospook/internal/gateway"
	"github.com/mohammad-safakhou/autospook/internal/helpers"
	"github.com/mohammad-safakhou/autospook/internal/osint"
	"github.com/mohammad-safakhou/autospook/internal/ratelimit"
	"github.com/mohammad-safakhou/autospook/internal/search"
	"github.com/mohammad-safakhou/autospook/internal/telemetry"
)

// Options wires an Orchestrator. Gateway and Searcher are required.
type Options struct {
	Config      config.InvestigationConfig
	SearchRetry RetryPolicy
	Gateway     gateway.Functions
	Searcher    search.Searcher
	// Limiter is shared with the gateway; search permits are taken per search provider.
	Limiter ratelimit.Limiter
	Ranker  Ranker
	Logger  *log.Logger
}

type Orchestrator struct {
	cfg         config.InvestigationConfig
	retry       RetryPolicy
	searchRetry RetryPolicy
	budget      budget.Config
	gw          gateway.Functions
	searcher    search.Searcher
	limiter     ratelimit.Limiter
	ranker      Ranker
	logger      *log.Logger
	tracer      trace.Tracer
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Gateway == nil {
		return nil, errors.New("investigation: gateway is required")
	}
	if opts.Searcher == nil {
		return nil, errors.New("investigation: searcher is required")
	}
	cfg := withDefaults(opts.Config)
	o := &Orchestrator{
		cfg:         cfg,
		retry:       PolicyFromConfig(cfg.Retry),
		searchRetry: opts.SearchRetry,
		budget:      budget.FromConfig(cfg),
		gw:          opts.Gateway,
		searcher:    opts.Searcher,
		limiter:     opts.Limiter,
		ranker:      opts.Ranker,
		logger:      opts.Logger,
		tracer:      otel.Tracer("autospook/investigation"),
	}
	if o.searchRetry.MaxAttempts <= 0 {
		o.searchRetry = o.retry
	}
	if o.limiter == nil {
		o.limiter = ratelimit.Unlimited{}
	}
	if o.ranker == nil {
		o.ranker = NewRanker(cfg.EvidenceRanking)
	}
	if o.logger == nil {
		o.logger = telemetry.DiscardLogger()
	}
	return o, nil
}

func withDefaults(c config.InvestigationConfig) config.InvestigationConfig {
	if c.MaxTopics <= 0 {
		c.MaxTopics = 3
	}
	if c.MaxQuestionsPerTopic <= 0 {
		c.MaxQuestionsPerTopic = 2
	}
	if c.MaxQueriesPerRound <= 0 {
		c.MaxQueriesPerRound = 2
	}
	if c.MaxRoundsPerQuestion <= 0 {
		c.MaxRoundsPerQuestion = 3
	}
	if c.MaxEvidencePerEvaluation <= 0 {
		c.MaxEvidencePerEvaluation = 5
	}
	if c.TopicConcurrency <= 0 {
		c.TopicConcurrency = 1
	}
	if c.QuestionConcurrency <= 0 {
		c.QuestionConcurrency = 1
	}
	if c.CancelGrace <= 0 {
		c.CancelGrace = 30 * time.Second
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 2
	}
	return c
}

// Request describes one investigation. ID and Budget are optional; Budget overrides the
// configured limits field by field.
type Request struct {
	ID      string
	Name    string
	Context string
	Budget  budget.Config
}

// RunInvestigation investigates a target with the configured limits.
func (o *Orchestrator) RunInvestigation(ctx context.Context, targetName, targetContext string) (*Investigation, error) {
	return o.Run(ctx, Request{Name: targetName, Context: targetContext})
}

// Run drives one investigation to completion. Only invalid input and Stepback or
// GenerateTopics failures return an error; once topics exist an Investigation with a
// report and a risk level is always returned, even after cancellation.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Investigation, error) {
	target, err := NewTarget(req.Name, req.Context)
	if err != nil {
		return nil, err
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	limits := budget.Merge(o.budget, req.Budget)
	if err := limits.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	ctx, span := o.tracer.Start(ctx, "investigation.run", trace.WithAttributes(
		attribute.String("investigation.id", id),
	))
	defer span.End()

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if limits.MaxTime > 0 {
		var stop context.CancelFunc
		runCtx, stop = context.WithTimeout(runCtx, limits.MaxTime)
		defer stop()
	}

	r := &run{
		o:       o,
		monitor: budget.NewMonitor(limits),
		cancel:  cancel,
		inv: &Investigation{
			ID:        id,
			Target:    target,
			StartedAt: time.Now(),
		},
	}
	runCtx = gateway.WithUsageSink(runCtx, r.recordUsage)

	if limits.IsZero() {
		o.logger.Printf("investigation %s started for %q without budget limits", id, target.Name)
	} else {
		o.logger.Printf("investigation %s started for %q", id, target.Name)
	}
	if err := r.plan(runCtx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "planning failed")
		telemetry.RecordInvestigation(ctx, "failed", time.Since(r.inv.StartedAt).Seconds())
		o.logger.Printf("investigation %s failed: %v", id, err)
		return nil, err
	}
	r.runTopics(runCtx)
	r.sweep(runCtx)
	r.synthesize(runCtx)
	return r.finish(ctx), nil
}

// run holds the mutable state of one investigation. Topics and questions are owned by
// the goroutine processing them; the fields below are shared.
type run struct {
	o       *Orchestrator
	inv     *Investigation
	monitor *budget.Monitor
	cancel  context.CancelCauseFunc

	mu             sync.Mutex
	warnings       []string
	searchCalls    int
	searchFailures int
}

func (r *run) recordUsage(u gateway.Usage) {
	if err := r.monitor.Add(u.Cost, u.InputTokens+u.OutputTokens); err != nil {
		r.cancel(&BudgetExhaustedError{Scope: "investigation", Limit: err.Error()})
	}
}

func (r *run) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.o.logger.Printf("investigation %s: %s", r.inv.ID, msg)
	r.mu.Lock()
	r.warnings = append(r.warnings, msg)
	r.mu.Unlock()
}

// interruptReason names why ctx ended: the global budget or cancellation.
func interruptReason(ctx context.Context) string {
	var exhausted *BudgetExhaustedError
	if errors.As(context.Cause(ctx), &exhausted) {
		return reasonBudget
	}
	return reasonCancelled
}

func (r *run) plan(ctx context.Context) error {
	o := r.o
	var expanded string
	err := retry(ctx, o.retry, "stepback", gatewayRetryable, o.logger, func(ctx context.Context) error {
		var err error
		expanded, err = o.gw.Stepback(ctx, r.inv.Target.Name, r.inv.Target.Context)
		return err
	})
	if err != nil {
		return fmt.Errorf("stepback: %w", err)
	}
	r.inv.ExpandedContext = expanded

	var titles []string
	err = retry(ctx, o.retry, "generate_topics", gatewayRetryable, o.logger, func(ctx context.Context) error {
		var err error
		titles, err = o.gw.GenerateTopics(ctx, expanded, o.cfg.MaxTopics)
		return err
	})
	if err != nil {
		return fmt.Errorf("generate topics: %w", err)
	}
	if len(titles) > o.cfg.MaxTopics {
		titles = titles[:o.cfg.MaxTopics]
	}
	for _, title := range titles {
		r.inv.Topics = append(r.inv.Topics, newTopic(title))
	}
	o.logger.Printf("investigation %s: %d topics planned", r.inv.ID, len(titles))
	return nil
}

func (r *run) runTopics(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(r.o.cfg.TopicConcurrency)
	for _, t := range r.inv.Topics {
		g.Go(func() error {
			r.runTopic(ctx, t)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *run) runTopic(ctx context.Context, t *Topic) {
	o := r.o
	ctx, span := o.tracer.Start(ctx, "investigation.topic", trace.WithAttributes(attribute.String("topic", t.Title)))
	defer span.End()

	var specs []gateway.QuestionSpec
	err := retry(ctx, o.retry, "generate_questions", gatewayRetryable, o.logger, func(ctx context.Context) error {
		var err error
		specs, err = o.gw.GenerateQuestions(ctx, t.Title, r.inv.ExpandedContext, o.cfg.MaxQuestionsPerTopic)
		return err
	})
	if err != nil {
		reason := reasonQuestionGeneration
		if ctx.Err() != nil {
			reason = interruptReason(ctx)
		} else {
			r.warn("topic %q: question generation failed: %v", t.Title, err)
		}
		span.RecordError(err)
		t.settle(osint.TopicUnsatisfiable, reason)
		telemetry.RecordForced(ctx, "topic", reason)
		return
	}
	if len(specs) > o.cfg.MaxQuestionsPerTopic {
		specs = specs[:o.cfg.MaxQuestionsPerTopic]
	}
	for _, s := range specs {
		t.Questions = append(t.Questions, newQuestion(s.Text, s.Criticality))
	}

	var g errgroup.Group
	g.SetLimit(o.cfg.QuestionConcurrency)
	for _, q := range t.Questions {
		g.Go(func() error {
			r.runQuestion(ctx, t, q)
			return nil
		})
	}
	_ = g.Wait()

	r.evaluateTopic(ctx, t)
}

// runQuestion loops until the question is terminal. Every exit path is terminal: the
// round cap forces UNANSWERABLE even if the evaluator keeps answering OPEN.
func (r *run) runQuestion(ctx context.Context, t *Topic, q *Question) {
	limit := r.o.cfg.MaxRoundsPerQuestion
	for q.Status == osint.QuestionOpen {
		if ctx.Err() != nil {
			r.force(ctx, q, interruptReason(ctx))
			return
		}
		if q.Rounds >= limit {
			exhausted := &BudgetExhaustedError{Scope: "question", Limit: fmt.Sprintf("%d rounds", limit)}
			r.o.logger.Printf("investigation %s: %q: %v", r.inv.ID, q.Text, exhausted)
			r.force(ctx, q, reasonEvidenceBudget)
			return
		}
		r.round(ctx, t, q)
	}
}

func (r *run) force(ctx context.Context, q *Question, reason string) {
	if q.force(reason) {
		telemetry.RecordForced(ctx, "question", reason)
	}
}

// round is one GenerateQueries, Search, EvaluateQuestion pass.
func (r *run) round(ctx context.Context, t *Topic, q *Question) {
	o := r.o
	q.Rounds++
	telemetry.RecordRound(ctx)
	ctx, span := o.tracer.Start(ctx, "investigation.round", trace.WithAttributes(
		attribute.String("question", q.Text),
		attribute.Int("round", q.Rounds),
	))
	defer span.End()

	var candidates []string
	err := retry(ctx, o.retry, "generate_queries", gatewayRetryable, o.logger, func(ctx context.Context) error {
		var err error
		candidates, err = o.gw.GenerateQueries(ctx, gateway.QueryRequest{
			Question:        q.Text,
			Criticality:     q.Criticality,
			ExpandedContext: r.inv.ExpandedContext,
			Topic:           t.Title,
			PreviousQueries: append([]string(nil), q.Queries...),
			MaxQueries:      o.cfg.MaxQueriesPerRound,
		})
		return err
	})
	if err != nil {
		if ctx.Err() == nil {
			span.RecordError(err)
			r.warn("question %q: query generation failed: %v", q.Text, err)
			r.force(ctx, q, reasonQueryGeneration)
		}
		return
	}

	queries := q.freshQueries(candidates, o.cfg.MaxQueriesPerRound)
	if dropped := len(candidates) - len(queries); dropped > 0 {
		o.logger.Printf("investigation %s: %q: dropped %d repeated queries", r.inv.ID, q.Text, dropped)
	}
	for _, query := range queries {
		if ctx.Err() != nil {
			return
		}
		q.Queries = append(q.Queries, query)
		snippets, err := r.search(ctx, query)
		if err != nil {
			o.logger.Printf("investigation %s: search %q failed: %v", r.inv.ID, query, err)
			continue
		}
		q.appendEvidence(snippets)
	}
	if ctx.Err() != nil {
		return
	}

	evidence := o.ranker.Rank(q.Text, q.Evidence, o.cfg.MaxEvidencePerEvaluation)
	var verdict gateway.QuestionVerdict
	err = retry(ctx, o.retry, "evaluate_question", gatewayRetryable, o.logger, func(ctx context.Context) error {
		var err error
		verdict, err = o.gw.EvaluateQuestion(ctx, gateway.EvaluateQuestionRequest{
			Question:        q.Text,
			Criticality:     q.Criticality,
			Evidence:        evidence,
			ExpandedContext: r.inv.ExpandedContext,
			Topic:           t.Title,
		})
		return err
	})
	if err != nil {
		if ctx.Err() == nil {
			span.RecordError(err)
			r.warn("question %q: evaluation failed in round %d: %v", q.Text, q.Rounds, err)
			r.force(ctx, q, reasonEvaluation)
		}
		return
	}

	switch verdict.Label {
	case osint.QuestionClosed:
		supporting := verdict.Evidence
		if len(supporting) == 0 {
			supporting = evidence
		}
		_ = q.transition(osint.QuestionClosed, verdict.Rationale, supporting)
	case osint.QuestionUnanswerable:
		_ = q.transition(osint.QuestionUnanswerable, verdict.Rationale, nil)
	default:
		_ = q.transition(osint.QuestionOpen, verdict.Rationale, nil)
	}
}

func (r *run) search(ctx context.Context, query string) ([]search.Snippet, error) {
	o := r.o
	provider := o.searcher.Provider()
	var out []search.Snippet
	err := retry(ctx, o.searchRetry, "search", searchRetryable, o.logger, func(ctx context.Context) error {
		if err := o.limiter.Acquire(ctx, provider); err != nil {
			return err
		}
		res, err := o.searcher.Search(ctx, query)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	telemetry.RecordSearch(ctx, provider, err == nil)
	r.mu.Lock()
	r.searchCalls++
	if err != nil {
		r.searchFailures++
	}
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Query == "" {
			out[i].Query = query
		}
	}
	return out, nil
}

// reevaluate gives a still-open question one extra evaluation on the evidence it has.
func (r *run) reevaluate(ctx context.Context, t *Topic, q *Question) {
	o := r.o
	evidence := o.ranker.Rank(q.Text, q.Evidence, o.cfg.MaxEvidencePerEvaluation)
	var verdict gateway.QuestionVerdict
	err := retry(ctx, o.retry, "evaluate_question", gatewayRetryable, o.logger, func(ctx context.Context) error {
		var err error
		verdict, err = o.gw.EvaluateQuestion(ctx, gateway.EvaluateQuestionRequest{
			Question:        q.Text,
			Criticality:     q.Criticality,
			Evidence:        evidence,
			ExpandedContext: r.inv.ExpandedContext,
			Topic:           t.Title,
		})
		return err
	})
	if err == nil && verdict.Label.Terminal() {
		supporting := verdict.Evidence
		if len(supporting) == 0 {
			supporting = evidence
		}
		_ = q.transition(verdict.Label, verdict.Rationale, supporting)
		return
	}
	r.force(ctx, q, reasonTopicUnresolved)
}

// evaluateTopic settles the topic with DeriveTopicStatus. The model's own verdict only
// contributes its rationale; a disagreement is recorded as a warning.
func (r *run) evaluateTopic(ctx context.Context, t *Topic) {
	if t.Status.Terminal() {
		return
	}
	status := DeriveTopicStatus(t.Questions)
	if status == osint.TopicOpen && ctx.Err() == nil {
		for _, q := range openCritical(t.Questions) {
			r.reevaluate(ctx, t, q)
		}
		status = DeriveTopicStatus(t.Questions)
	}

	var rationale string
	switch {
	case ctx.Err() != nil && status != osint.TopicSatisfied:
		status, rationale = osint.TopicUnsatisfiable, interruptReason(ctx)
	case status == osint.TopicOpen:
		status, rationale = osint.TopicUnsatisfiable, reasonTopicUnresolved
	case status == osint.TopicUnsatisfiable:
		rationale = "no security-critical question could be answered"
	case !hasCritical(t.Questions):
		rationale = "no security-critical questions"
	default:
		rationale = "all security-critical questions answered"
	}
	t.settle(status, rationale)
	if status == osint.TopicUnsatisfiable {
		telemetry.RecordForced(ctx, "topic", rationale)
	}

	if ctx.Err() != nil {
		return
	}
	outcomes := make([]gateway.QuestionOutcome, 0, len(t.Questions))
	for _, q := range t.Questions {
		outcomes = append(outcomes, gateway.QuestionOutcome{
			Text:        q.Text,
			Criticality: q.Criticality,
			Status:      q.Status,
			Rationale:   q.Rationale,
		})
	}
	var verdict gateway.TopicVerdict
	err := retry(ctx, r.o.retry, "evaluate_topic", gatewayRetryable, r.o.logger, func(ctx context.Context) error {
		var err error
		verdict, err = r.o.gw.EvaluateTopic(ctx, t.Title, outcomes)
		return err
	})
	if err != nil {
		if ctx.Err() == nil {
			r.warn("topic %q: model assessment unavailable: %v", t.Title, err)
		}
		return
	}
	t.Assessment = verdict.Rationale
	if verdict.Completion != t.Status {
		r.warn("topic %q: model assessed %s, rule decided %s", t.Title, verdict.Completion, t.Status)
	}
}

func hasCritical(questions []*Question) bool {
	for _, q := range questions {
		if q.Criticality == osint.SecurityCritical {
			return true
		}
	}
	return false
}

// sweep guarantees nothing is left OPEN before synthesis.
func (r *run) sweep(ctx context.Context) {
	reason := reasonTopicUnresolved
	if ctx.Err() != nil {
		reason = interruptReason(ctx)
	}
	for _, t := range r.inv.Topics {
		for _, q := range t.Questions {
			if q.Status == osint.QuestionOpen {
				r.force(ctx, q, reason)
			}
		}
		if !t.Status.Terminal() {
			t.settle(osint.TopicUnsatisfiable, reason)
		}
	}
}

// synthesize writes the report and assesses risk on a detached context, so a budget
// breach or cancellation during synthesis still leaves both steps their grace period.
func (r *run) synthesize(parent context.Context) {
	o := r.o
	inv := r.inv
	if parent.Err() != nil {
		o.logger.Printf("investigation %s interrupted (%s), synthesizing with collected evidence", inv.ID, interruptReason(parent))
	}
	ctx, cancel := graceContext(parent, o.cfg.CancelGrace)
	defer cancel()
	defer func() {
		if parent.Err() != nil {
			inv.Interrupted = true
		}
	}()
	ctx, span := o.tracer.Start(ctx, "investigation.synthesize")
	defer span.End()

	sections := evidenceByTopic(inv.Topics)
	inv.Notes = collectNotes(inv.Topics)

	var html string
	err := retry(ctx, o.retry, "write_report", gatewayRetryable, o.logger, func(ctx context.Context) error {
		var err error
		html, err = o.gw.WriteReport(ctx, gateway.ReportRequest{
			TargetName:      inv.Target.Name,
			ExpandedContext: inv.ExpandedContext,
			Sections:        sections,
			Notes:           inv.Notes,
		})
		return err
	})
	if err == nil {
		html = helpers.SanitizeReportHTML(html)
		if strings.TrimSpace(html) == "" {
			err = errors.New("report is empty after sanitization")
		}
	}
	if err != nil {
		span.RecordError(err)
		r.warn("report generation failed, using fallback report: %v", err)
		html, err = renderFallbackReport(inv, sections)
		if err != nil {
			r.warn("fallback report failed: %v", err)
			html = "<p>Report unavailable.</p>"
		}
	}
	inv.ReportHTML = html

	var level osint.RiskLevel
	err = retry(ctx, o.retry, "assess_risk", gatewayRetryable, o.logger, func(ctx context.Context) error {
		var err error
		level, err = o.gw.AssessRisk(ctx, inv.ReportHTML)
		return err
	})
	if err == nil {
		if _, ok := osint.ParseRiskLevel(string(level)); !ok {
			err = &gateway.SchemaViolationError{Function: gateway.FnAssessRisk, Raw: string(level), Err: errors.New("risk level outside {Low, Medium, High}")}
		}
	}
	if err != nil {
		var sv *gateway.SchemaViolationError
		if errors.As(err, &sv) {
			r.warn("risk level %q is not one of Low, Medium, High; using %s", sv.Raw, osint.DefaultRisk)
		} else {
			r.warn("risk assessment failed, using %s: %v", osint.DefaultRisk, err)
		}
		level = osint.DefaultRisk
	}
	inv.RiskLevel = level
}

// graceContext detaches ctx. Once ctx ends, the detached context lives for grace more.
func graceContext(ctx context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	detached, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, func() {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-timer.C:
			cancel()
		case <-detached.Done():
		}
	})
	return detached, func() {
		stop()
		cancel()
	}
}

func (r *run) finish(ctx context.Context) *Investigation {
	inv := r.inv
	if err := r.monitor.Exceeded(); err != nil {
		r.warn("investigation budget exhausted: %v", err)
	}
	cost, tokens, calls, elapsed := r.monitor.Usage()
	r.mu.Lock()
	inv.Warnings = append(inv.Warnings, r.warnings...)
	inv.Usage = Usage{
		Tokens:         tokens,
		Cost:           cost,
		LLMCalls:       calls,
		SearchCalls:    r.searchCalls,
		SearchFailures: r.searchFailures,
		Elapsed:        elapsed,
	}
	r.mu.Unlock()
	inv.FinishedAt = time.Now()

	outcome := "completed"
	if inv.Interrupted {
		outcome = "interrupted"
	}
	telemetry.RecordInvestigation(ctx, outcome, elapsed.Seconds())
	telemetry.RecordRisk(ctx, string(inv.RiskLevel))
	r.o.logger.Printf("investigation %s %s in %s: risk=%s topics=%d warnings=%d tokens=%d",
		inv.ID, outcome, elapsed.Round(time.Millisecond), inv.RiskLevel, len(inv.Topics), len(inv.Warnings), tokens)
	return inv
}
