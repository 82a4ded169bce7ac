package gateway

import (
	"context"

	"github.com/mohammad-safakhou/autospook/internal/osint"
	"github.com/mohammad-safakhou/autospook/internal/search"
)

// Function names one structured-output LLM call. The value doubles as the routing key
// and the schema file name.
type Function string

const (
	FnStepback          Function = "stepback"
	FnGenerateTopics    Function = "generate_topics"
	FnGenerateQuestions Function = "generate_questions"
	FnGenerateQueries   Function = "generate_queries"
	FnEvaluateQuestion  Function = "evaluate_question"
	FnEvaluateTopic     Function = "evaluate_topic"
	FnWriteReport       Function = "write_report"
	FnAssessRisk        Function = "assess_risk"
)

var allFunctions = []Function{
	FnStepback, FnGenerateTopics, FnGenerateQuestions, FnGenerateQueries,
	FnEvaluateQuestion, FnEvaluateTopic, FnWriteReport, FnAssessRisk,
}

type QuestionSpec struct {
	Text        string            `json:"text"`
	Criticality osint.Criticality `json:"criticality"`
}

type QueryRequest struct {
	Question        string
	Criticality     osint.Criticality
	ExpandedContext string
	Topic           string
	PreviousQueries []string
	MaxQueries      int
}

type EvaluateQuestionRequest struct {
	Question        string
	Criticality     osint.Criticality
	Evidence        []search.Snippet
	ExpandedContext string
	Topic           string
}

// QuestionVerdict is the evaluator's decision. Evidence is the subset of the request
// evidence the model cited as supporting a CLOSED verdict.
type QuestionVerdict struct {
	Label     osint.QuestionStatus
	Rationale string
	Evidence  []search.Snippet
}

type QuestionOutcome struct {
	Text        string               `json:"text"`
	Criticality osint.Criticality    `json:"criticality"`
	Status      osint.QuestionStatus `json:"status"`
	Rationale   string               `json:"rationale"`
}

type TopicVerdict struct {
	Completion osint.TopicStatus `json:"completion"`
	Rationale  string            `json:"rationale"`
}

// TopicEvidence is one report section in topic-generation order.
type TopicEvidence struct {
	Topic    string
	Evidence []search.Snippet
}

type ReportRequest struct {
	TargetName      string
	ExpandedContext string
	Sections        []TopicEvidence
	// Notes explain unresolved questions and topics.
	Notes []string
}

// Functions is the set of LLM functions an investigation depends on.
type Functions interface {
	Stepback(ctx context.Context, targetName, targetContext string) (string, error)
	GenerateTopics(ctx context.Context, expandedContext string, max int) ([]string, error)
	GenerateQuestions(ctx context.Context, topic, expandedContext string, max int) ([]QuestionSpec, error)
	GenerateQueries(ctx context.Context, req QueryRequest) ([]string, error)
	EvaluateQuestion(ctx context.Context, req EvaluateQuestionRequest) (QuestionVerdict, error)
	EvaluateTopic(ctx context.Context, topic string, outcomes []QuestionOutcome) (TopicVerdict, error)
	WriteReport(ctx context.Context, req ReportRequest) (string, error)
	AssessRisk(ctx context.Context, reportHTML string) (osint.RiskLevel, error)
}

var _ Functions = (*Gateway)(nil)
