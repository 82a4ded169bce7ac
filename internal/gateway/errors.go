package gateway

import (
	"context"
	"errors"
	"fmt"
)

// GenerationError is a transport or provider failure of an LLM call.
type GenerationError struct {
	Function Function
	Provider string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation %s via %s: %v", e.Function, e.Provider, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// SchemaViolationError means the model answered but the answer does not fit the declared
// output type. Raw keeps the model text for logs.
type SchemaViolationError struct {
	Function Function
	Raw      string
	Err      error
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("schema violation in %s: %v", e.Function, e.Err)
}

func (e *SchemaViolationError) Unwrap() error { return e.Err }

var errNoJSON = errors.New("no JSON object in model output")

// Retryable reports whether err is a gateway failure worth another attempt.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var gen *GenerationError
	var schema *SchemaViolationError
	return errors.As(err, &gen) || errors.As(err, &schema)
}
