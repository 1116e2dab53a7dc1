package errors

import (
	"errors"
	"fmt"
)

// EngineError is the structured error type for uprootmcp.
// It carries the boundary kind, an error code, and recovery context for
// logging and pillar responses.
type EngineError struct {
	// Code is the unique error code (e.g., "ERR_201_FILE_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	// Kind is the boundary classification surfaced to pillar callers.
	Kind Kind

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable recovery suggestion for the caller.
	Suggestion string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
func (e *EngineError) Is(target error) bool {
	if t, ok := target.(*EngineError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *EngineError) WithDetail(key, value string) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable recovery suggestion.
func (e *EngineError) WithSuggestion(suggestion string) *EngineError {
	e.Suggestion = suggestion
	return e
}

// New creates a new EngineError with the given code and message.
// Kind, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *EngineError {
	kind := kindFromCode(code)
	return &EngineError{
		Code:      code,
		Message:   message,
		Kind:      kind,
		Severity:  severityFromKind(kind),
		Cause:     cause,
		Retryable: isRetryableKind(kind),
	}
}

// Wrap creates an EngineError from an existing error.
func Wrap(code string, err error) *EngineError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// InvalidArgs creates an invalid-arguments error.
func InvalidArgs(message string) *EngineError {
	return New(ErrCodeInvalidInput, message, nil)
}

// NotFound creates a not-found error for a path or pack id.
func NotFound(what, id string) *EngineError {
	return New(ErrCodeFileNotFound, fmt.Sprintf("%s not found: %s", what, id), nil).
		WithDetail("id", id)
}

// Blocked creates a policy-denial error.
func Blocked(message string) *EngineError {
	return New(ErrCodeSensitiveFile, message, nil)
}

// BudgetExceeded creates a token-budget denial error.
func BudgetExceeded(message string) *EngineError {
	return New(ErrCodeBudgetExceeded, message, nil)
}

// Timeout creates a deadline-cancellation error.
func Timeout(op string, cause error) *EngineError {
	return New(ErrCodeResolveTimeout, fmt.Sprintf("%s timed out", op), cause).
		WithSuggestion("retry with a wider timeout budget")
}

// Internal creates an internal error.
func Internal(message string, cause error) *EngineError {
	return New(ErrCodeInternal, message, cause)
}

// Fatal creates a corruption/unrecoverable-IO error.
func Fatal(message string, cause error) *EngineError {
	return New(ErrCodeStorageFailed, message, cause)
}

// KindOf extracts the boundary kind from any error.
// Non-EngineError values classify as fatal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return KindFatal
}

// GetCode extracts the error code, or empty string for foreign errors.
func GetCode(err error) string {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Severity == SeverityFatal
	}
	return false
}
