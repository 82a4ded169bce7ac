package gateway

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/mohammad-safakhou/autospook/config"
	"github.com/mohammad-safakhou/autospook/internal/llm"
	"github.com/mohammad-safakhou/autospook/internal/osint"
	"github.com/mohammad-safakhou/autospook/internal/ratelimit"
	"github.com/mohammad-safakhou/autospook/internal/search"
)

type scriptedProvider struct {
	mu       sync.Mutex
	replies  []string
	err      error
	requests []llm.Request
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return llm.Response{}, p.err
	}
	if len(p.replies) == 0 {
		return llm.Response{}, errors.New("no scripted reply")
	}
	text := p.replies[0]
	p.replies = p.replies[1:]
	return llm.Response{Text: text, InputTokens: 100, OutputTokens: 20}, nil
}

type countingLimiter struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func (l *countingLimiter) Acquire(_ context.Context, provider string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.calls == nil {
		l.calls = map[string]int{}
	}
	l.calls[provider]++
	return l.err
}

func newTestGateway(p *scriptedProvider, lim ratelimit.Limiter) *Gateway {
	model := config.LLMModel{APIName: "test-model", MaxTokens: 512, CostPer1K: 1, CostPer1KOutput: 2}
	return New(llm.NewStaticRouter(p, model), lim, nil)
}

func TestStepbackAcquiresPermitAndRecordsUsage(t *testing.T) {
	p := &scriptedProvider{replies: []string{"Sure! ```json\n{\"expanded_context\": \"Jane Smith, possible executive {role}\"}\n```"}}
	lim := &countingLimiter{}
	g := newTestGateway(p, lim)

	var usage []Usage
	ctx := WithUsageSink(context.Background(), func(u Usage) { usage = append(usage, u) })
	got, err := g.Stepback(ctx, "Jane Smith", "")
	if err != nil {
		t.Fatalf("Stepback: %v", err)
	}
	if got != "Jane Smith, possible executive {role}" {
		t.Fatalf("unexpected expanded context %q", got)
	}
	if lim.calls["scripted"] != 1 {
		t.Fatalf("expected one permit, got %d", lim.calls["scripted"])
	}
	if len(usage) != 1 || usage[0].Function != FnStepback || usage[0].InputTokens != 100 {
		t.Fatalf("unexpected usage %+v", usage)
	}
	if math.Abs(usage[0].Cost-0.14) > 1e-9 {
		t.Fatalf("unexpected cost %v", usage[0].Cost)
	}
	if !p.requests[0].JSON || p.requests[0].Model != "test-model" {
		t.Fatalf("unexpected request %+v", p.requests[0])
	}
}

func TestSchemaViolation(t *testing.T) {
	cases := map[string]string{
		"no json":        "I cannot help with that",
		"missing field":  `{"topic": ["a"]}`,
		"empty list":     `{"topics": []}`,
		"wrong type":     `{"topics": "one"}`,
		"truncated json": `{"topics": ["a", "b"`,
	}
	for name, reply := range cases {
		t.Run(name, func(t *testing.T) {
			g := newTestGateway(&scriptedProvider{replies: []string{reply}}, nil)
			_, err := g.GenerateTopics(context.Background(), "ctx", 3)
			var sv *SchemaViolationError
			if !errors.As(err, &sv) {
				t.Fatalf("expected SchemaViolationError, got %v", err)
			}
			if sv.Function != FnGenerateTopics {
				t.Fatalf("unexpected function %s", sv.Function)
			}
			if !Retryable(err) {
				t.Fatalf("schema violations should be retryable")
			}
		})
	}
}

func TestGenerationErrorWrapsProviderFailure(t *testing.T) {
	boom := errors.New("503 from upstream")
	g := newTestGateway(&scriptedProvider{err: boom}, nil)
	_, err := g.Stepback(context.Background(), "x", "")
	var ge *GenerationError
	if !errors.As(err, &ge) || !errors.Is(err, boom) {
		t.Fatalf("expected GenerationError wrapping cause, got %v", err)
	}
	if ge.Provider != "scripted" {
		t.Fatalf("unexpected provider %q", ge.Provider)
	}
}

func TestLimiterFailureIsGenerationError(t *testing.T) {
	p := &scriptedProvider{replies: []string{`{"expanded_context":"x"}`}}
	g := newTestGateway(p, &countingLimiter{err: context.DeadlineExceeded})
	_, err := g.Stepback(context.Background(), "x", "")
	var ge *GenerationError
	if !errors.As(err, &ge) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
	if len(p.requests) != 0 {
		t.Fatalf("provider must not be called without a permit")
	}
	if Retryable(err) {
		t.Fatalf("deadline errors are not retryable")
	}
}

func TestGenerateTopicsTrimsAndCaps(t *testing.T) {
	g := newTestGateway(&scriptedProvider{replies: []string{`{"topics": [" Corporate roles ", "corporate roles", "", "Litigation", "Press"]}`}}, nil)
	topics, err := g.GenerateTopics(context.Background(), "ctx", 2)
	if err != nil {
		t.Fatalf("GenerateTopics: %v", err)
	}
	if len(topics) != 2 || topics[0] != "Corporate roles" || topics[1] != "Litigation" {
		t.Fatalf("unexpected topics %q", topics)
	}
}

func TestGenerateQuestionsRejectsUnknownCriticality(t *testing.T) {
	g := newTestGateway(&scriptedProvider{replies: []string{`{"questions": [{"text": "q", "criticality": "URGENT"}]}`}}, nil)
	_, err := g.GenerateQuestions(context.Background(), "topic", "ctx", 2)
	var sv *SchemaViolationError
	if !errors.As(err, &sv) {
		t.Fatalf("expected SchemaViolationError, got %v", err)
	}
}

func TestGenerateQueriesPromptCarriesHistory(t *testing.T) {
	p := &scriptedProvider{replies: []string{`{"queries": ["jane smith acme board"]}`}}
	g := newTestGateway(p, nil)
	_, err := g.GenerateQueries(context.Background(), QueryRequest{
		Question:        "Who employs Jane?",
		Criticality:     osint.SecurityCritical,
		PreviousQueries: []string{"jane smith employer", "jane smith linkedin"},
		MaxQueries:      2,
	})
	if err != nil {
		t.Fatalf("GenerateQueries: %v", err)
	}
	prompt := p.requests[0].Prompt
	for _, q := range []string{"jane smith employer", "jane smith linkedin"} {
		if !strings.Contains(prompt, q) {
			t.Fatalf("prompt missing previous query %q", q)
		}
	}
}

func TestEvaluateQuestionMapsEvidenceNumbers(t *testing.T) {
	evidence := []search.Snippet{
		{ID: "a", Title: "A", URL: "https://a.example"},
		{ID: "b", Title: "B", URL: "https://b.example"},
	}
	p := &scriptedProvider{replies: []string{`{"label": "CLOSED", "rationale": " confirmed ", "evidence": [2, 2, 7]}`}}
	g := newTestGateway(p, nil)
	v, err := g.EvaluateQuestion(context.Background(), EvaluateQuestionRequest{Question: "q", Evidence: evidence})
	if err != nil {
		t.Fatalf("EvaluateQuestion: %v", err)
	}
	if v.Label != osint.QuestionClosed || v.Rationale != "confirmed" {
		t.Fatalf("unexpected verdict %+v", v)
	}
	if len(v.Evidence) != 1 || v.Evidence[0].ID != "b" {
		t.Fatalf("unexpected supporting evidence %+v", v.Evidence)
	}
	if !strings.Contains(p.requests[0].Prompt, "[2] B | https://b.example") {
		t.Fatalf("evidence not numbered in prompt:\n%s", p.requests[0].Prompt)
	}
}

func TestEvaluateQuestionOpenDropsEvidence(t *testing.T) {
	evidence := []search.Snippet{{ID: "a"}}
	g := newTestGateway(&scriptedProvider{replies: []string{`{"label": "OPEN", "rationale": "thin", "evidence": [1]}`}}, nil)
	v, err := g.EvaluateQuestion(context.Background(), EvaluateQuestionRequest{Question: "q", Evidence: evidence})
	if err != nil {
		t.Fatalf("EvaluateQuestion: %v", err)
	}
	if v.Label != osint.QuestionOpen || len(v.Evidence) != 0 {
		t.Fatalf("unexpected verdict %+v", v)
	}
}

func TestAssessRisk(t *testing.T) {
	cases := []struct {
		reply   string
		want    osint.RiskLevel
		wantErr bool
	}{
		{reply: `{"risk_level": "High", "rationale": "sanctions"}`, want: osint.RiskHigh},
		{reply: `Low.`, want: osint.RiskLow},
		{reply: `"Medium"`, want: osint.RiskMedium},
		{reply: `{"risk_level": "high"}`, wantErr: true},
		{reply: `{"risk_level": "Critical"}`, wantErr: true},
		{reply: `Severe`, wantErr: true},
	}
	for _, tc := range cases {
		g := newTestGateway(&scriptedProvider{replies: []string{tc.reply}}, nil)
		got, err := g.AssessRisk(context.Background(), "<p>report</p>")
		if tc.wantErr {
			var sv *SchemaViolationError
			if !errors.As(err, &sv) {
				t.Fatalf("%q: expected SchemaViolationError, got %v (%q)", tc.reply, err, got)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%q: got %q, %v", tc.reply, got, err)
		}
	}
}

func TestWriteReportPromptKeepsTopicOrder(t *testing.T) {
	p := &scriptedProvider{replies: []string{`{"html": "<h2>x</h2>"}`}}
	g := newTestGateway(p, nil)
	_, err := g.WriteReport(context.Background(), ReportRequest{
		TargetName: "Jane Smith",
		Sections: []TopicEvidence{
			{Topic: "Zeta topic"},
			{Topic: "Alpha topic"},
		},
		Notes: []string{"Litigation: evidence budget exhausted"},
	})
	if err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
	prompt := p.requests[0].Prompt
	if strings.Index(prompt, "Zeta topic") > strings.Index(prompt, "Alpha topic") {
		t.Fatalf("sections reordered in prompt")
	}
	if !strings.Contains(prompt, "evidence budget exhausted") {
		t.Fatalf("notes missing from prompt")
	}
}

func TestExtractJSONObject(t *testing.T) {
	cases := map[string]string{
		`{"a":1}`:                     `{"a":1}`,
		"text {\"a\":\"}\"} trailing": `{"a":"}"}`,
		`{"a":{"b":[1,{"c":2}]}} {}`:  `{"a":{"b":[1,{"c":2}]}}`,
	}
	for in, want := range cases {
		got, ok := extractJSONObject(in)
		if !ok || got != want {
			t.Fatalf("extractJSONObject(%q) = %q, %v", in, got, ok)
		}
	}
	if _, ok := extractJSONObject("no braces here"); ok {
		t.Fatalf("expected no object")
	}
}
