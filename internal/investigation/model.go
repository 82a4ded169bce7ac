package investigation

import (
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/autospook/internal/osint"
	"github.com/mohammad-safakhou/autospook/internal/search"
)

// Target identifies who or what is investigated.
type Target struct {
	Name    string `json:"name" validate:"required,max=200,safetext"`
	Context string `json:"context" validate:"omitempty,max=2000,safetext"`
}

// Question is owned by exactly one goroutine while its loop runs.
type Question struct {
	Text        string               `json:"text"`
	Criticality osint.Criticality    `json:"criticality"`
	Queries     []string             `json:"queries"`
	Evidence    []search.Snippet     `json:"evidence"`
	Status      osint.QuestionStatus `json:"status"`
	Rationale   string               `json:"rationale,omitempty"`
	Supporting  []search.Snippet     `json:"supporting,omitempty"`
	Rounds      int                  `json:"rounds"`

	trail []osint.QuestionStatus
}

func newQuestion(text string, criticality osint.Criticality) *Question {
	return &Question{
		Text:        text,
		Criticality: criticality,
		Status:      osint.QuestionOpen,
		trail:       []osint.QuestionStatus{osint.QuestionOpen},
	}
}

// transition moves the question along OPEN -> {OPEN, CLOSED, UNANSWERABLE}.
func (q *Question) transition(to osint.QuestionStatus, rationale string, supporting []search.Snippet) error {
	if q.Status.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrTerminalState, q.Status, to)
	}
	if !to.Valid() {
		return fmt.Errorf("unknown question status %q", to)
	}
	q.Status = to
	q.trail = append(q.trail, to)
	if rationale != "" {
		q.Rationale = rationale
	}
	if to == osint.QuestionClosed {
		q.Supporting = append([]search.Snippet(nil), supporting...)
	}
	return nil
}

// force ends the question as UNANSWERABLE unless it already reached a terminal state.
func (q *Question) force(rationale string) bool {
	return q.transition(osint.QuestionUnanswerable, rationale, nil) == nil
}

// Trail lists every status the question has held, in order.
func (q *Question) Trail() []osint.QuestionStatus {
	return append([]osint.QuestionStatus(nil), q.trail...)
}

func (q *Question) appendEvidence(snippets []search.Snippet) {
	q.Evidence = append(q.Evidence, snippets...)
}

// freshQueries drops candidates already issued for this question, or repeated within
// the batch, comparing trimmed lowercase text.
func (q *Question) freshQueries(candidates []string, max int) []string {
	seen := make(map[string]bool, len(q.Queries)+len(candidates))
	for _, prev := range q.Queries {
		seen[queryKey(prev)] = true
	}
	var fresh []string
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		key := queryKey(c)
		if c == "" || seen[key] {
			continue
		}
		seen[key] = true
		fresh = append(fresh, c)
		if max > 0 && len(fresh) == max {
			break
		}
	}
	return fresh
}

func queryKey(q string) string { return strings.ToLower(strings.TrimSpace(q)) }

// Topic groups questions about one investigative area. Status is only ever derived
// from the questions.
type Topic struct {
	Title     string            `json:"title"`
	Questions []*Question       `json:"questions"`
	Status    osint.TopicStatus `json:"status"`
	Rationale string            `json:"rationale,omitempty"`
	// Assessment is the model's own summary of the topic, if it gave one.
	Assessment string `json:"assessment,omitempty"`
}

func newTopic(title string) *Topic {
	return &Topic{Title: title, Status: osint.TopicOpen}
}

func (t *Topic) settle(status osint.TopicStatus, rationale string) {
	if t.Status.Terminal() {
		return
	}
	t.Status = status
	t.Rationale = rationale
}

// Usage summarises what an investigation consumed.
type Usage struct {
	Tokens         int64         `json:"tokens"`
	Cost           float64       `json:"cost"`
	LLMCalls       int           `json:"llm_calls"`
	SearchCalls    int           `json:"search_calls"`
	SearchFailures int           `json:"search_failures"`
	Elapsed        time.Duration `json:"elapsed"`
}

// Investigation is the aggregate root returned to callers once every topic is terminal.
type Investigation struct {
	ID              string          `json:"id"`
	Target          Target          `json:"target"`
	ExpandedContext string          `json:"expanded_context"`
	Topics          []*Topic        `json:"topics"`
	ReportHTML      string          `json:"report_html"`
	RiskLevel       osint.RiskLevel `json:"risk_level"`
	Notes           []string        `json:"notes,omitempty"`
	Warnings        []string        `json:"warnings,omitempty"`
	// Interrupted is set when cancellation or the global budget cut the run short.
	Interrupted bool      `json:"interrupted"`
	Usage       Usage     `json:"usage"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}
