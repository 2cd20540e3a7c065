package host

import (
	"errors"
	"fmt"
)

// ErrorCode is a stable identifier carried by HostError.
type ErrorCode string

const (
	// ErrCodeHostNotInitialized means Dispatch ran before any snapshot was
	// published (no WithInitialData, Reset or SeedSnapshot).
	ErrCodeHostNotInitialized ErrorCode = "HOST_NOT_INITIALIZED"

	// ErrCodeInvalidState covers caller mistakes: an empty intent id, or a
	// key that already has a live execution context.
	ErrCodeInvalidState ErrorCode = "INVALID_STATE"

	// ErrCodeLoopMaxIterations means the dispatch loop ran maxIterations
	// drains without reaching a terminal state.
	ErrCodeLoopMaxIterations ErrorCode = "LOOP_MAX_ITERATIONS"

	// ErrCodeUnknownEffect means no handler is registered for a requirement.
	ErrCodeUnknownEffect ErrorCode = "UNKNOWN_EFFECT"

	// ErrCodeEffectExecutionFailed means a handler returned an error or panicked.
	ErrCodeEffectExecutionFailed ErrorCode = "EFFECT_EXECUTION_FAILED"

	// ErrCodeInvalidEffectPatch means a handler returned a patch the
	// evaluator refused (system-rooted or structurally invalid).
	ErrCodeInvalidEffectPatch ErrorCode = "INVALID_EFFECT_PATCH"

	// ErrCodeFatalJobError means Job execution itself failed.
	ErrCodeFatalJobError ErrorCode = "FATAL_JOB_ERROR"

	// ErrCodeDispatchCancelled means the dispatch context ended while an
	// effect was outstanding.
	ErrCodeDispatchCancelled ErrorCode = "DISPATCH_CANCELLED"

	// ErrCodeEvaluatorError is used when the evaluator ends in an error
	// state without recording system.lastError.
	ErrCodeEvaluatorError ErrorCode = "EVALUATOR_ERROR"
)

// HostError is the structured error carried by HostResult.
type HostError struct {
	Code     ErrorCode
	Message  string
	IntentID string
	Details  map[string]string
	cause    error
}

// Error implements the error interface.
func (e *HostError) Error() string {
	if e.IntentID != "" {
		return fmt.Sprintf("%s: %s (intent=%s)", e.Code, e.Message, e.IntentID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *HostError) Unwrap() error {
	return e.cause
}

func newHostError(code ErrorCode, intentID, format string, args ...any) *HostError {
	return &HostError{
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		IntentID: intentID,
	}
}

// NewLoopBoundError reports an exhausted iteration budget.
func NewLoopBoundError(intentID string, iterations, limit int) *HostError {
	return &HostError{
		Code:     ErrCodeLoopMaxIterations,
		Message:  fmt.Sprintf("dispatch loop exceeded max iterations (%d >= %d)", iterations, limit),
		IntentID: intentID,
		Details: map[string]string{
			"iterations":     fmt.Sprintf("%d", iterations),
			"max_iterations": fmt.Sprintf("%d", limit),
		},
	}
}

// NewFatalError wraps an error that escaped Job execution.
func NewFatalError(intentID string, err error) *HostError {
	return &HostError{
		Code:     ErrCodeFatalJobError,
		Message:  err.Error(),
		IntentID: intentID,
		cause:    err,
	}
}

// CodeOf returns the HostError code in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var he *HostError
	if errors.As(err, &he) {
		return he.Code
	}
	return ""
}

// IsLoopBoundError reports whether err is an iteration-bound error.
func IsLoopBoundError(err error) bool {
	return CodeOf(err) == ErrCodeLoopMaxIterations
}

// IsFatalError reports whether err is a fatal Job error.
func IsFatalError(err error) bool {
	return CodeOf(err) == ErrCodeFatalJobError
}
