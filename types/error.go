package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the system.
type ErrorCode string

// Trigger error codes
const (
	ErrInvalidTrigger      ErrorCode = "INVALID_TRIGGER"
	ErrTriggerKindMismatch ErrorCode = "TRIGGER_KIND_MISMATCH"
	ErrAdapterStopped      ErrorCode = "ADAPTER_STOPPED"
)

// Workflow / execution error codes
const (
	ErrInvalidWorkflow    ErrorCode = "INVALID_WORKFLOW"
	ErrWorkflowNotFound   ErrorCode = "WORKFLOW_NOT_FOUND"
	ErrInvalidTransition  ErrorCode = "INVALID_TRANSITION"
	ErrExecutionFailed    ErrorCode = "EXECUTION_FAILED"
	ErrInvalidCondition   ErrorCode = "INVALID_CONDITION"
	ErrExecutionCancelled ErrorCode = "EXECUTION_CANCELLED"
)

// Service / infrastructure error codes
const (
	ErrNotInitialized     ErrorCode = "NOT_INITIALIZED"
	ErrInitFailed         ErrorCode = "INIT_FAILED"
	ErrProviderFailed     ErrorCode = "PROVIDER_FAILED"
	ErrStorageFailed      ErrorCode = "STORAGE_FAILED"
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrTimeout            ErrorCode = "TIMEOUT"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError wraps a cause into a new structured Error.
func WrapError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// AsError extracts a structured *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsErrorCode reports whether err carries the given code anywhere in its chain.
func IsErrorCode(err error, code ErrorCode) bool {
	if e, ok := AsError(err); ok {
		return e.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}
