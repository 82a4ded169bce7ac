package investigation

import "github.com/mohammad-safakhou/autospook/internal/osint"

// DeriveTopicStatus applies the completion rule over SECURITY_CRITICAL questions:
// all CLOSED is SATISFIED, all UNANSWERABLE is UNSATISFIABLE, anything else is OPEN.
// CONTEXTUAL questions never decide; a topic without critical questions is SATISFIED.
func DeriveTopicStatus(questions []*Question) osint.TopicStatus {
	var critical, closed, unanswerable int
	for _, q := range questions {
		if q.Criticality != osint.SecurityCritical {
			continue
		}
		critical++
		switch q.Status {
		case osint.QuestionClosed:
			closed++
		case osint.QuestionUnanswerable:
			unanswerable++
		}
	}
	switch {
	case critical == closed:
		return osint.TopicSatisfied
	case critical == unanswerable:
		return osint.TopicUnsatisfiable
	default:
		return osint.TopicOpen
	}
}

func openCritical(questions []*Question) []*Question {
	var open []*Question
	for _, q := range questions {
		if q.Criticality == osint.SecurityCritical && q.Status == osint.QuestionOpen {
			open = append(open, q)
		}
	}
	return open
}
