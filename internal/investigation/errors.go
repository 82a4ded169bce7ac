package investigation

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput wraps target validation failures.
	ErrInvalidInput = errors.New("invalid investigation input")
	// ErrTerminalState is returned when a terminal question is asked to move again.
	ErrTerminalState = errors.New("question already in a terminal state")
)

// Rationales recorded on forced terminal states.
const (
	reasonQuestionGeneration = "question generation failed"
	reasonQueryGeneration    = "query generation failed"
	reasonEvaluation         = "question evaluation failed"
	reasonEvidenceBudget     = "evidence budget exhausted"
	reasonCancelled          = "investigation cancelled"
	reasonBudget             = "investigation budget exhausted"
	reasonTopicUnresolved    = "topic unresolved after re-evaluation"
)

// BudgetExhaustedError signals a designed forced termination: a question ran out of
// rounds, or the investigation ran out of tokens or spend. It is converted into a
// terminal state and never returned from RunInvestigation.
type BudgetExhaustedError struct {
	Scope string
	Limit string
}

func (e *BudgetExhaustedError) Error() string {
	return fmt.Sprintf("%s budget exhausted (%s)", e.Scope, e.Limit)
}
