package gateway

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/autospook/internal/search"
)

const systemPrompt = `You are a careful open-source intelligence analyst supporting security due diligence.
Work only from the information supplied. Never invent sources, people, dates or URLs.
Always answer with a single JSON object and nothing else.`

func stepbackPrompt(name, context string) string {
	if strings.TrimSpace(context) == "" {
		context = "(none supplied)"
	}
	return fmt.Sprintf(`Take a step back from the raw request below and describe, in one paragraph, the
security-relevant dimensions worth investigating about the target: identity and affiliations,
legal or regulatory exposure, financial signals, reputational signals, online footprint.

TARGET NAME: %s
TARGET CONTEXT: %s

Return ONLY strict JSON: { "expanded_context": string }`, name, context)
}

func topicsPrompt(expanded string, max int) string {
	return fmt.Sprintf(`Split the investigation below into between 2 and %d distinct investigative topics.
Each topic is one sentence naming an area to research. Order them by importance.

INVESTIGATION CONTEXT:
%s

Return ONLY strict JSON: { "topics": [string] }`, max, expanded)
}

func questionsPrompt(topic, expanded string, max int) string {
	return fmt.Sprintf(`Write between 1 and %d specific, searchable questions for the topic below.
Tag each question:
- SECURITY_CRITICAL when the answer changes the security assessment of the target
- CONTEXTUAL when it only adds background

TOPIC: %s
INVESTIGATION CONTEXT:
%s

Return ONLY strict JSON: { "questions": [ { "text": string, "criticality": "SECURITY_CRITICAL|CONTEXTUAL" } ] }`, max, topic, expanded)
}

func queriesPrompt(req QueryRequest) string {
	var prev string
	if len(req.PreviousQueries) == 0 {
		prev = "(none yet)"
	} else {
		var b strings.Builder
		for _, q := range req.PreviousQueries {
			b.WriteString("- ")
			b.WriteString(q)
			b.WriteString("\n")
		}
		prev = b.String()
	}
	return fmt.Sprintf(`Write between 1 and %d web search queries that would surface evidence answering the question.
Do not repeat or trivially rephrase any previously issued query; try a new angle instead.

QUESTION (%s): %s
TOPIC: %s
INVESTIGATION CONTEXT:
%s
PREVIOUS QUERIES:
%s
Return ONLY strict JSON: { "queries": [string] }`, req.MaxQueries, req.Criticality, req.Question, req.Topic, req.ExpandedContext, prev)
}

func formatEvidence(evidence []search.Snippet) string {
	if len(evidence) == 0 {
		return "(no evidence gathered)\n"
	}
	var b strings.Builder
	for i, e := range evidence {
		fmt.Fprintf(&b, "[%d] %s | %s", i+1, e.Title, e.URL)
		if e.PublishedDate != "" {
			fmt.Fprintf(&b, " | published %s", e.PublishedDate)
		}
		b.WriteString("\n    ")
		b.WriteString(e.Text)
		b.WriteString("\n")
	}
	return b.String()
}

func evaluateQuestionPrompt(req EvaluateQuestionRequest) string {
	return fmt.Sprintf(`Decide whether the evidence answers the question.
- CLOSED: the evidence answers it; cite the supporting evidence numbers.
- UNANSWERABLE: further searching is unlikely to ever answer it.
- OPEN: more searching could answer it.

QUESTION (%s): %s
TOPIC: %s
INVESTIGATION CONTEXT:
%s
EVIDENCE:
%s
Return ONLY strict JSON: { "label": "OPEN|CLOSED|UNANSWERABLE", "rationale": string, "evidence": [number] }`,
		req.Criticality, req.Question, req.Topic, req.ExpandedContext, formatEvidence(req.Evidence))
}

func evaluateTopicPrompt(topic string, outcomes []QuestionOutcome) string {
	var b strings.Builder
	for _, o := range outcomes {
		fmt.Fprintf(&b, "- [%s] %s => %s (%s)\n", o.Criticality, o.Text, o.Status, o.Rationale)
	}
	return fmt.Sprintf(`Summarise whether the topic is complete, applying this rule exactly:
- SATISFIED if every SECURITY_CRITICAL question is CLOSED
- UNSATISFIABLE if every SECURITY_CRITICAL question is UNANSWERABLE
- OPEN otherwise
CONTEXTUAL questions never decide completion.

TOPIC: %s
QUESTIONS:
%s
Return ONLY strict JSON: { "completion": "OPEN|SATISFIED|UNSATISFIABLE", "rationale": string }`, topic, b.String())
}

func reportPrompt(req ReportRequest) string {
	var b strings.Builder
	for _, s := range req.Sections {
		fmt.Fprintf(&b, "## %s\n", s.Topic)
		b.WriteString(formatEvidence(s.Evidence))
	}
	if len(req.Sections) == 0 {
		b.WriteString("(no topic produced supporting evidence)\n")
	}
	notes := "(none)"
	if len(req.Notes) > 0 {
		notes = "- " + strings.Join(req.Notes, "\n- ")
	}
	return fmt.Sprintf(`Write an investigation report about %s as an HTML fragment.
Use <h2> per topic in the order given, <p> and <ul>/<li> for findings, and cite sources with <a href>.
Only state what the evidence supports. Add a short "Limitations" section built from the notes.
Do not include <html>, <head>, <script> or <style>.

INVESTIGATION CONTEXT:
%s
EVIDENCE BY TOPIC:
%s
NOTES:
%s

Return ONLY strict JSON: { "html": string }`, req.TargetName, req.ExpandedContext, b.String(), notes)
}

const maxRiskReportChars = 60000

func riskPrompt(reportHTML string) string {
	if len(reportHTML) > maxRiskReportChars {
		reportHTML = reportHTML[:maxRiskReportChars]
	}
	return fmt.Sprintf(`Assess the overall security risk the target presents based on the report.
Answer with exactly one of: Low, Medium, High.

REPORT:
%s

Return ONLY strict JSON: { "risk_level": "Low|Medium|High", "rationale": string }`, reportHTML)
}
