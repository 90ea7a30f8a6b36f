package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a failure limited to one trial.
	// Examples: an order write that failed, a target that would not start.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: missing target executable, baseline that always crashes.
	ErrorClassPermanent ErrorClass = "permanent"

	// ErrorClassAborted indicates the operator or the caller stopped the
	// session.
	ErrorClassAborted ErrorClass = "aborted"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Plugin is the plugin that caused the error, if applicable.
	Plugin string `json:"plugin,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Plugin != "" {
		msg += fmt.Sprintf(" (plugin=%s)", e.Plugin)
	}
	if e.Operation != "" {
		msg += fmt.Sprintf(" (operation=%s)", e.Operation)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// NewAbortedError creates a new aborted error.
func NewAbortedError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassAborted,
		Message: message,
		Code:    ErrCodeAborted,
		Err:     err,
	}
}

// WithPlugin adds plugin context to an error.
func (e *EngineError) WithPlugin(name string) *EngineError {
	e.Plugin = name
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsAborted returns true if the session was stopped by the operator or by
// context cancellation.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted)
}

// AbortError is returned when the operator picks Revert or Quit at a pause.
type AbortError struct {
	Choice PauseChoice
}

// Error implements the error interface.
func (e *AbortError) Error() string {
	return fmt.Sprintf("session aborted by operator (%s)", e.Choice)
}

// Is matches ErrAborted.
func (e *AbortError) Is(target error) bool {
	return target == ErrAborted
}

// AbortChoice extracts the operator choice from err. ok is false when err
// is not an operator abort.
func AbortChoice(err error) (choice PauseChoice, ok bool) {
	var ae *AbortError
	if errors.As(err, &ae) {
		return ae.Choice, true
	}
	return "", false
}

// Error codes.
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeMissingTarget = "MISSING_TARGET"
	ErrCodeOrderWrite    = "ORDER_WRITE"
	ErrCodeLaunchFailed  = "LAUNCH_FAILED"
	ErrCodeAborted       = "ABORTED"
	ErrCodeBaselineCrash = "BASELINE_CRASH"
)

// Sentinel values for errors.Is. They match any EngineError with the same
// class and code.
var (
	ErrMissingTarget = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeMissingTarget, Message: "target missing"}
	ErrOrderWrite    = &EngineError{Class: ErrorClassTransient, Code: ErrCodeOrderWrite, Message: "order write failed"}
	ErrBaselineCrash = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeBaselineCrash, Message: "baseline crashes"}
	ErrAborted       = &EngineError{Class: ErrorClassAborted, Code: ErrCodeAborted, Message: "session aborted"}
)
