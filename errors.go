package manus

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrInvalidConfig is returned when the engine configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInterrupted is the sentinel observed at safe points once a root
	// plan has been asked to stop. Not an error at the API boundary.
	ErrInterrupted = errors.New("execution interrupted")

	// ErrToolNotFound is returned when a tool call names an unknown tool.
	ErrToolNotFound = errors.New("tool not found")

	// ErrAgentNotFound is returned when a step tags an unknown agent.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrLLMExhausted is returned when all retryable LLM attempts failed.
	ErrLLMExhausted = errors.New("llm retries exhausted")

	// ErrNoPendingForm is returned when submitting input for a root plan
	// with no registered form.
	ErrNoPendingForm = errors.New("no pending form input")
)

// EngineError carries the failing operation and structured context.
type EngineError struct {
	Op      string // operation that failed
	Err     error  // underlying error
	Context map[string]any
}

// NewEngineError wraps err with the operation name.
func NewEngineError(op string, err error) *EngineError {
	return &EngineError{Op: op, Err: err}
}

// WithContext attaches a key/value pair for diagnostics.
func (e *EngineError) WithContext(key string, value any) *EngineError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Error implements error.
func (e *EngineError) Error() string {
	if len(e.Context) == 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v (context: %v)", e.Op, e.Err, e.Context)
}

// Unwrap returns the underlying error.
func (e *EngineError) Unwrap() error {
	return e.Err
}
