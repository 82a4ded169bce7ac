// Package osint holds the status vocabulary shared by the gateway and the orchestrator.
package osint

// Criticality gates whether a question can block its topic.
type Criticality string

const (
	SecurityCritical Criticality = "SECURITY_CRITICAL"
	Contextual       Criticality = "CONTEXTUAL"
)

func (c Criticality) Valid() bool { return c == SecurityCritical || c == Contextual }

type QuestionStatus string

const (
	QuestionOpen         QuestionStatus = "OPEN"
	QuestionClosed       QuestionStatus = "CLOSED"
	QuestionUnanswerable QuestionStatus = "UNANSWERABLE"
)

// Terminal reports whether no further transition may occur.
func (s QuestionStatus) Terminal() bool { return s == QuestionClosed || s == QuestionUnanswerable }

func (s QuestionStatus) Valid() bool { return s == QuestionOpen || s.Terminal() }

type TopicStatus string

const (
	TopicOpen          TopicStatus = "OPEN"
	TopicSatisfied     TopicStatus = "SATISFIED"
	TopicUnsatisfiable TopicStatus = "UNSATISFIABLE"
)

func (s TopicStatus) Terminal() bool { return s == TopicSatisfied || s == TopicUnsatisfiable }

func (s TopicStatus) Valid() bool { return s == TopicOpen || s.Terminal() }

// RiskLevel is the closed, case-sensitive set returned to callers.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// DefaultRisk is used whenever a risk level cannot be established.
const DefaultRisk = RiskMedium

// ParseRiskLevel accepts only the exact spellings Low, Medium and High.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	switch RiskLevel(s) {
	case RiskLow, RiskMedium, RiskHigh:
		return RiskLevel(s), true
	}
	return "", false
}
