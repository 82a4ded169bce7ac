// Package gateway exposes the named structured-output LLM functions used by an
// investigation. Every answer is validated against an embedded JSON schema before it is
// returned, so callers never see raw model output.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/autospook/internal/llm"
	"github.com/mohammad-safakhou/autospook/internal/osint"
	"github.com/mohammad-safakhou/autospook/internal/ratelimit"
	"github.com/mohammad-safakhou/autospook/internal/telemetry"
)

// Usage is the accounting for one completed LLM call.
type Usage struct {
	Function     Function
	Provider     string
	Model        string
	InputTokens  int64
	OutputTokens int64
	Cost         float64
}

// UsageSink receives usage for every call made with a context carrying it.
type UsageSink func(Usage)

type usageKey struct{}

// WithUsageSink attributes the usage of calls made with ctx to sink.
func WithUsageSink(ctx context.Context, sink UsageSink) context.Context {
	return context.WithValue(ctx, usageKey{}, sink)
}

// RecordUsage hands u to the sink carried by ctx, if any.
func RecordUsage(ctx context.Context, u Usage) {
	if sink, ok := ctx.Value(usageKey{}).(UsageSink); ok && sink != nil {
		sink(u)
	}
}

// Gateway routes each function to its configured model. It is safe for concurrent use
// and is meant to be shared process-wide together with its limiter.
type Gateway struct {
	router  *llm.Router
	limiter ratelimit.Limiter
	logger  *log.Logger
	tracer  trace.Tracer
}

func New(router *llm.Router, limiter ratelimit.Limiter, logger *log.Logger) *Gateway {
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	if logger == nil {
		logger = telemetry.DiscardLogger()
	}
	return &Gateway{
		router:  router,
		limiter: limiter,
		logger:  logger,
		tracer:  otel.Tracer("autospook/gateway"),
	}
}

func (g *Gateway) call(ctx context.Context, fn Function, prompt string, out any) error {
	route := g.router.RouteFor(string(fn))
	provider := route.Provider.Name()

	ctx, span := g.tracer.Start(ctx, "gateway."+string(fn), trace.WithAttributes(
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", route.Model.APIName),
	))
	defer span.End()

	if err := g.limiter.Acquire(ctx, provider); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rate limit")
		return &GenerationError{Function: fn, Provider: provider, Err: fmt.Errorf("acquire permit: %w", err)}
	}

	start := time.Now()
	resp, err := route.Provider.Complete(ctx, llm.Request{
		Model:       route.Model.APIName,
		System:      systemPrompt,
		Prompt:      prompt,
		MaxTokens:   route.Model.MaxTokens,
		Temperature: route.Model.Temperature,
		JSON:        true,
	})
	if err != nil {
		telemetry.RecordLLMCall(ctx, string(fn), provider, false, 0, 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		g.logger.Printf("%s via %s failed after %s: %v", fn, provider, time.Since(start).Round(time.Millisecond), err)
		return &GenerationError{Function: fn, Provider: provider, Err: err}
	}

	usage := Usage{
		Function:     fn,
		Provider:     provider,
		Model:        resp.Model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		Cost:         llm.Cost(route.Model, resp.InputTokens, resp.OutputTokens),
	}
	if usage.Model == "" {
		usage.Model = route.Model.APIName
	}
	RecordUsage(ctx, usage)
	span.SetAttributes(
		attribute.Int64("llm.input_tokens", resp.InputTokens),
		attribute.Int64("llm.output_tokens", resp.OutputTokens),
	)

	if err := decode(fn, resp.Text, out); err != nil {
		telemetry.RecordLLMCall(ctx, string(fn), provider, false, resp.InputTokens+resp.OutputTokens, usage.Cost)
		span.RecordError(err)
		span.SetStatus(codes.Error, "schema violation")
		g.logger.Printf("%s via %s returned invalid output: %v", fn, provider, err)
		return err
	}
	telemetry.RecordLLMCall(ctx, string(fn), provider, true, resp.InputTokens+resp.OutputTokens, usage.Cost)
	return nil
}

// Stepback expands the raw target description into security-relevant dimensions.
func (g *Gateway) Stepback(ctx context.Context, targetName, targetContext string) (string, error) {
	var out struct {
		ExpandedContext string `json:"expanded_context"`
	}
	if err := g.call(ctx, FnStepback, stepbackPrompt(targetName, targetContext), &out); err != nil {
		return "", err
	}
	expanded := strings.TrimSpace(out.ExpandedContext)
	if expanded == "" {
		return "", &SchemaViolationError{Function: FnStepback, Err: errors.New("empty expanded_context")}
	}
	return expanded, nil
}

// GenerateTopics returns topics in generation order, trimmed of blanks and duplicates,
// and capped at max when max > 0.
func (g *Gateway) GenerateTopics(ctx context.Context, expandedContext string, max int) ([]string, error) {
	var out struct {
		Topics []string `json:"topics"`
	}
	if err := g.call(ctx, FnGenerateTopics, topicsPrompt(expandedContext, max), &out); err != nil {
		return nil, err
	}
	topics := dedupe(out.Topics, max)
	if len(topics) == 0 {
		return nil, &SchemaViolationError{Function: FnGenerateTopics, Err: errors.New("no usable topics")}
	}
	return topics, nil
}

func (g *Gateway) GenerateQuestions(ctx context.Context, topic, expandedContext string, max int) ([]QuestionSpec, error) {
	var out struct {
		Questions []QuestionSpec `json:"questions"`
	}
	if err := g.call(ctx, FnGenerateQuestions, questionsPrompt(topic, expandedContext, max), &out); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(out.Questions))
	questions := make([]QuestionSpec, 0, len(out.Questions))
	for _, q := range out.Questions {
		q.Text = strings.TrimSpace(q.Text)
		key := strings.ToLower(q.Text)
		if q.Text == "" || seen[key] {
			continue
		}
		seen[key] = true
		questions = append(questions, q)
		if max > 0 && len(questions) == max {
			break
		}
	}
	if len(questions) == 0 {
		return nil, &SchemaViolationError{Function: FnGenerateQuestions, Err: errors.New("no usable questions")}
	}
	return questions, nil
}

// GenerateQueries asks for new search queries. The previous queries are part of the
// prompt; the caller still filters verbatim repeats.
func (g *Gateway) GenerateQueries(ctx context.Context, req QueryRequest) ([]string, error) {
	var out struct {
		Queries []string `json:"queries"`
	}
	if err := g.call(ctx, FnGenerateQueries, queriesPrompt(req), &out); err != nil {
		return nil, err
	}
	return dedupe(out.Queries, req.MaxQueries), nil
}

func (g *Gateway) EvaluateQuestion(ctx context.Context, req EvaluateQuestionRequest) (QuestionVerdict, error) {
	var out struct {
		Label     osint.QuestionStatus `json:"label"`
		Rationale string               `json:"rationale"`
		Evidence  []int                `json:"evidence"`
	}
	if err := g.call(ctx, FnEvaluateQuestion, evaluateQuestionPrompt(req), &out); err != nil {
		return QuestionVerdict{}, err
	}
	verdict := QuestionVerdict{Label: out.Label, Rationale: strings.TrimSpace(out.Rationale)}
	if out.Label != osint.QuestionClosed {
		return verdict, nil
	}
	// Evidence numbers are 1-based positions in the prompt; unknown numbers are dropped.
	used := make(map[int]bool, len(out.Evidence))
	for _, n := range out.Evidence {
		if n < 1 || n > len(req.Evidence) || used[n] {
			continue
		}
		used[n] = true
		verdict.Evidence = append(verdict.Evidence, req.Evidence[n-1])
	}
	return verdict, nil
}

func (g *Gateway) EvaluateTopic(ctx context.Context, topic string, outcomes []QuestionOutcome) (TopicVerdict, error) {
	var out TopicVerdict
	if err := g.call(ctx, FnEvaluateTopic, evaluateTopicPrompt(topic, outcomes), &out); err != nil {
		return TopicVerdict{}, err
	}
	out.Rationale = strings.TrimSpace(out.Rationale)
	return out, nil
}

// WriteReport returns the model's HTML fragment unsanitized.
func (g *Gateway) WriteReport(ctx context.Context, req ReportRequest) (string, error) {
	var out struct {
		HTML string `json:"html"`
	}
	if err := g.call(ctx, FnWriteReport, reportPrompt(req), &out); err != nil {
		return "", err
	}
	return out.HTML, nil
}

// AssessRisk returns exactly Low, Medium or High. A bare one-word answer is accepted
// when the model skips the JSON wrapper; anything else is a SchemaViolationError.
func (g *Gateway) AssessRisk(ctx context.Context, reportHTML string) (osint.RiskLevel, error) {
	var out struct {
		RiskLevel string `json:"risk_level"`
		Rationale string `json:"rationale"`
	}
	err := g.call(ctx, FnAssessRisk, riskPrompt(reportHTML), &out)
	if err != nil {
		var sv *SchemaViolationError
		if errors.As(err, &sv) && errors.Is(sv.Err, errNoJSON) {
			if level, ok := osint.ParseRiskLevel(bareToken(sv.Raw)); ok {
				return level, nil
			}
		}
		return "", err
	}
	level, ok := osint.ParseRiskLevel(out.RiskLevel)
	if !ok {
		return "", &SchemaViolationError{Function: FnAssessRisk, Raw: out.RiskLevel, Err: fmt.Errorf("risk level %q not in {Low, Medium, High}", out.RiskLevel)}
	}
	return level, nil
}

func dedupe(items []string, max int) []string {
	seen := make(map[string]bool, len(items))
	res := make([]string, 0, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		key := strings.ToLower(it)
		if it == "" || seen[key] {
			continue
		}
		seen[key] = true
		res = append(res, it)
		if max > 0 && len(res) == max {
			break
		}
	}
	return res
}
