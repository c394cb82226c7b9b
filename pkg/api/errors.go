package api

import (
	"errors"
	"fmt"
)

// ErrorKind classifies step and workflow failures.
type ErrorKind string

const (
	// ErrorKindStepNotFound means a dispatched step id is not in the definition.
	ErrorKindStepNotFound ErrorKind = "STEP_NOT_FOUND"

	// ErrorKindActionNotFound means a step references an unregistered action.
	ErrorKindActionNotFound ErrorKind = "ACTION_NOT_FOUND"

	// ErrorKindValidation means an action rejected its input before executing.
	ErrorKindValidation ErrorKind = "VALIDATION_ERROR"

	// ErrorKindExecution means the action itself failed.
	ErrorKindExecution ErrorKind = "EXECUTION_ERROR"

	// ErrorKindTimeout means a step exceeded its configured time bound.
	ErrorKindTimeout ErrorKind = "TIMEOUT"

	// ErrorKindConfiguration means the step graph is malformed or unsatisfiable.
	ErrorKindConfiguration ErrorKind = "CONFIGURATION_ERROR"
)

// RetryableByDefault reports whether errors of this kind are retried unless
// the error itself says otherwise.
func (k ErrorKind) RetryableByDefault() bool {
	switch k {
	case ErrorKindExecution, ErrorKindTimeout:
		return true
	default:
		return false
	}
}

// StepError is the failure record attached to history entries and workflow
// state. Actions may return one directly to control Retryable; any other
// error is coerced into a retryable EXECUTION_ERROR by the runner.
type StepError struct {
	Kind      ErrorKind
	StepID    string
	Message   string
	Retryable bool
}

func (e *StepError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("%s: %s (step %s)", e.Kind, e.Message, e.StepID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewStepError builds a StepError with the kind's default retryability.
func NewStepError(kind ErrorKind, message string) *StepError {
	return &StepError{
		Kind:      kind,
		Message:   message,
		Retryable: kind.RetryableByDefault(),
	}
}

// Errorf is NewStepError with fmt-style formatting.
func Errorf(kind ErrorKind, format string, args ...any) *StepError {
	return NewStepError(kind, fmt.Sprintf(format, args...))
}

// AsStepError coerces an arbitrary error into a StepError. Errors that are
// not StepErrors become retryable EXECUTION_ERRORs. Returns nil for nil.
func AsStepError(err error) *StepError {
	if err == nil {
		return nil
	}
	var se *StepError
	if errors.As(err, &se) {
		return se
	}
	return NewStepError(ErrorKindExecution, err.Error())
}
