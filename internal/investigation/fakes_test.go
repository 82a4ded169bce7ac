package investigation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mohammad-safakhou/autospook/config"
	"github.com/mohammad-safakhou/autospook/internal/gateway"
	"github.com/mohammad-safakhou/autospook/internal/osint"
	"github.com/mohammad-safakhou/autospook/internal/search"
)

// fakeGateway answers every function from overridable hooks. Unset hooks use a
// cooperative default: two topics, one critical and one contextual question each, one
// fresh query per round, CLOSED as soon as evidence exists.
type fakeGateway struct {
	mu sync.Mutex

	stepbackErr  error
	topics       []string
	topicsErr    error
	questions    func(topic string) ([]gateway.QuestionSpec, error)
	queries      func(req gateway.QueryRequest) ([]string, error)
	evaluate     func(req gateway.EvaluateQuestionRequest) (gateway.QuestionVerdict, error)
	topicVerdict func(topic string, outcomes []gateway.QuestionOutcome) (gateway.TopicVerdict, error)
	report       func(req gateway.ReportRequest) (string, error)
	risk         func() (osint.RiskLevel, error)
	tokens       int64
	reportTokens int64

	calls          map[gateway.Function]int
	perQuestion    map[string]map[gateway.Function]int
	queryRequests  map[string][]gateway.QueryRequest
	reportRequests []gateway.ReportRequest
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		topics:        []string{"Corporate affiliations", "Legal exposure"},
		calls:         map[gateway.Function]int{},
		perQuestion:   map[string]map[gateway.Function]int{},
		queryRequests: map[string][]gateway.QueryRequest{},
	}
}

func (f *fakeGateway) enter(ctx context.Context, fn gateway.Function, question string) error {
	f.mu.Lock()
	f.calls[fn]++
	if question != "" {
		if f.perQuestion[question] == nil {
			f.perQuestion[question] = map[gateway.Function]int{}
		}
		f.perQuestion[question][fn]++
	}
	tokens := f.tokens
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return &gateway.GenerationError{Function: fn, Provider: "fake", Err: err}
	}
	if tokens > 0 {
		gateway.RecordUsage(ctx, gateway.Usage{Function: fn, Provider: "fake", InputTokens: tokens, Cost: 0.01})
	}
	return nil
}

func (f *fakeGateway) count(fn gateway.Function) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[fn]
}

func (f *fakeGateway) Stepback(ctx context.Context, name, _ string) (string, error) {
	if err := f.enter(ctx, gateway.FnStepback, ""); err != nil {
		return "", err
	}
	if f.stepbackErr != nil {
		return "", f.stepbackErr
	}
	return "Security-relevant dimensions of " + name, nil
}

func (f *fakeGateway) GenerateTopics(ctx context.Context, _ string, max int) ([]string, error) {
	if err := f.enter(ctx, gateway.FnGenerateTopics, ""); err != nil {
		return nil, err
	}
	if f.topicsErr != nil {
		return nil, f.topicsErr
	}
	if len(f.topics) > max {
		return f.topics[:max], nil
	}
	return f.topics, nil
}

func (f *fakeGateway) GenerateQuestions(ctx context.Context, topic, _ string, _ int) ([]gateway.QuestionSpec, error) {
	if err := f.enter(ctx, gateway.FnGenerateQuestions, ""); err != nil {
		return nil, err
	}
	if f.questions != nil {
		return f.questions(topic)
	}
	return []gateway.QuestionSpec{
		{Text: topic + ": critical", Criticality: osint.SecurityCritical},
		{Text: topic + ": background", Criticality: osint.Contextual},
	}, nil
}

func (f *fakeGateway) GenerateQueries(ctx context.Context, req gateway.QueryRequest) ([]string, error) {
	if err := f.enter(ctx, gateway.FnGenerateQueries, req.Question); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.queryRequests[req.Question] = append(f.queryRequests[req.Question], req)
	f.mu.Unlock()
	if f.queries != nil {
		return f.queries(req)
	}
	return []string{fmt.Sprintf("%s query %d", req.Question, len(req.PreviousQueries)+1)}, nil
}

func (f *fakeGateway) EvaluateQuestion(ctx context.Context, req gateway.EvaluateQuestionRequest) (gateway.QuestionVerdict, error) {
	if err := f.enter(ctx, gateway.FnEvaluateQuestion, req.Question); err != nil {
		return gateway.QuestionVerdict{}, err
	}
	if f.evaluate != nil {
		return f.evaluate(req)
	}
	if len(req.Evidence) == 0 {
		return gateway.QuestionVerdict{Label: osint.QuestionOpen, Rationale: "no evidence yet"}, nil
	}
	return gateway.QuestionVerdict{Label: osint.QuestionClosed, Rationale: "answered", Evidence: req.Evidence[:1]}, nil
}

func (f *fakeGateway) EvaluateTopic(ctx context.Context, topic string, outcomes []gateway.QuestionOutcome) (gateway.TopicVerdict, error) {
	if err := f.enter(ctx, gateway.FnEvaluateTopic, ""); err != nil {
		return gateway.TopicVerdict{}, err
	}
	if f.topicVerdict != nil {
		return f.topicVerdict(topic, outcomes)
	}
	var qs []*Question
	for _, o := range outcomes {
		qs = append(qs, &Question{Criticality: o.Criticality, Status: o.Status})
	}
	return gateway.TopicVerdict{Completion: DeriveTopicStatus(qs), Rationale: "summary of " + topic}, nil
}

func (f *fakeGateway) WriteReport(ctx context.Context, req gateway.ReportRequest) (string, error) {
	if err := f.enter(ctx, gateway.FnWriteReport, ""); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.reportRequests = append(f.reportRequests, req)
	f.mu.Unlock()
	if f.reportTokens > 0 {
		gateway.RecordUsage(ctx, gateway.Usage{Function: gateway.FnWriteReport, Provider: "fake", OutputTokens: f.reportTokens})
	}
	if f.report != nil {
		return f.report(req)
	}
	var b strings.Builder
	b.WriteString(`<h1 onclick="steal()">Report on ` + req.TargetName + `</h1><script>alert(1)</script>`)
	for _, s := range req.Sections {
		b.WriteString("<h2>" + s.Topic + "</h2>")
	}
	return b.String(), nil
}

func (f *fakeGateway) AssessRisk(ctx context.Context, _ string) (osint.RiskLevel, error) {
	if err := f.enter(ctx, gateway.FnAssessRisk, ""); err != nil {
		return "", err
	}
	if f.risk != nil {
		return f.risk()
	}
	return osint.RiskLow, nil
}

// fakeSearcher returns two distinct snippets per query unless a hook overrides it.
type fakeSearcher struct {
	mu      sync.Mutex
	queries []string
	hook    func(ctx context.Context, query string) ([]search.Snippet, error)
}

func (s *fakeSearcher) Provider() string { return "fake-search" }

func (s *fakeSearcher) Search(ctx context.Context, query string) ([]search.Snippet, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()
	if s.hook != nil {
		return s.hook(ctx, query)
	}
	return []search.Snippet{
		{ID: query + "#1", Title: "Result one for " + query, URL: "https://one.example/" + url(query), Text: "first snippet", Query: query},
		{ID: query + "#2", Title: "Result two for " + query, URL: "https://two.example/" + url(query), Text: "second snippet", Query: query},
	}, nil
}

func (s *fakeSearcher) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

func url(q string) string { return strings.ReplaceAll(strings.ToLower(q), " ", "-") }

type fakeLimiter struct {
	mu    sync.Mutex
	calls map[string]int
}

func (l *fakeLimiter) Acquire(ctx context.Context, provider string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.calls == nil {
		l.calls = map[string]int{}
	}
	l.calls[provider]++
	return ctx.Err()
}

func testConfig() config.InvestigationConfig {
	return config.InvestigationConfig{
		MaxTopics:                3,
		MaxQuestionsPerTopic:     2,
		MaxQueriesPerRound:       2,
		MaxRoundsPerQuestion:     3,
		MaxEvidencePerEvaluation: 5,
		EvidenceRanking:          "first",
		TopicConcurrency:         2,
		QuestionConcurrency:      2,
		CancelGrace:              2 * time.Second,
		Retry: config.RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
		},
	}
}

func newTestOrchestrator(t interface{ Fatalf(string, ...any) }, gw *fakeGateway, s *fakeSearcher, mutate ...func(*Options)) *Orchestrator {
	opts := Options{Config: testConfig(), Gateway: gw, Searcher: s, Limiter: &fakeLimiter{}}
	for _, m := range mutate {
		m(&opts)
	}
	o, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}
