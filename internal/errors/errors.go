// Package errors defines the structured application error taxonomy shared by
// the sync store, executor, Bling client, and HTTP layer.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeNotFound indicates a resource was not found (or not owned by the requesting tenant).
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeConflict indicates an active sync job already exists for the tenant and kind.
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeInvalidTransition indicates an attempted status change is illegal from the current state.
	ErrCodeInvalidTransition ErrorCode = "invalid_transition"
	// ErrCodeValidation indicates invalid input data.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeMapping indicates one record failed translation from the Bling representation.
	ErrCodeMapping ErrorCode = "mapping"
	// ErrCodeTransientAPI indicates a retryable upstream failure (timeout, 5xx, rate limit).
	ErrCodeTransientAPI ErrorCode = "transient_api"
	// ErrCodeAuth indicates invalid or expired upstream credentials; never retried.
	ErrCodeAuth ErrorCode = "auth"
	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal ErrorCode = "internal"
	// ErrCodeTimeout indicates a timeout occurred.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeCanceled indicates the operation was canceled.
	ErrCodeCanceled ErrorCode = "canceled"
)

// AppError represents a structured application error with a code, message, and optional cause.
// It supports error wrapping and unwrapping for use with errors.Is and errors.As.
type AppError struct {
	// Code categorizes the error type
	Code ErrorCode
	// Message is a human-readable error message
	Message string
	// Cause is the underlying error that caused this error (optional)
	Cause error
	// Field is the specific field that caused the error (optional, for validation and mapping errors)
	Field string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NotFound creates a new NotFound error.
func NotFound(message string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: message}
}

// NotFoundf creates a new NotFound error with formatted message.
func NotFoundf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflict creates a new Conflict error.
func Conflict(message string) *AppError {
	return &AppError{Code: ErrCodeConflict, Message: message}
}

// Conflictf creates a new Conflict error with formatted message.
func Conflictf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeConflict, Message: fmt.Sprintf(format, args...)}
}

// InvalidTransition creates a new InvalidTransition error.
func InvalidTransition(message string) *AppError {
	return &AppError{Code: ErrCodeInvalidTransition, Message: message}
}

// InvalidTransitionf creates a new InvalidTransition error with formatted message.
func InvalidTransitionf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeInvalidTransition, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a new Validation error.
func Validation(message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message}
}

// Validationf creates a new Validation error with formatted message.
func Validationf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: fmt.Sprintf(format, args...)}
}

// Mapping creates a new Mapping error naming the offending field.
func Mapping(field, message string) *AppError {
	return &AppError{Code: ErrCodeMapping, Message: message, Field: field}
}

// TransientAPI creates a new TransientAPI error wrapping the upstream cause.
func TransientAPI(message string, cause error) *AppError {
	return &AppError{Code: ErrCodeTransientAPI, Message: message, Cause: cause}
}

// Auth creates a new Auth error.
func Auth(message string) *AppError {
	return &AppError{Code: ErrCodeAuth, Message: message}
}

// Internal creates a new Internal error.
func Internal(message string) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: message}
}

// Internalf creates a new Internal error with formatted message.
func Internalf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Cause: err}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// isCode checks if an error has a specific error code.
func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsNotFound checks if an error is a NotFound error.
func IsNotFound(err error) bool {
	return isCode(err, ErrCodeNotFound)
}

// IsConflict checks if an error is a Conflict error.
func IsConflict(err error) bool {
	return isCode(err, ErrCodeConflict)
}

// IsInvalidTransition checks if an error is an InvalidTransition error.
func IsInvalidTransition(err error) bool {
	return isCode(err, ErrCodeInvalidTransition)
}

// IsValidation checks if an error is a Validation error.
func IsValidation(err error) bool {
	return isCode(err, ErrCodeValidation)
}

// IsMapping checks if an error is a Mapping error.
func IsMapping(err error) bool {
	return isCode(err, ErrCodeMapping)
}

// IsTransientAPI checks if an error is a TransientAPI error.
func IsTransientAPI(err error) bool {
	return isCode(err, ErrCodeTransientAPI)
}

// IsAuth checks if an error is an Auth error.
func IsAuth(err error) bool {
	return isCode(err, ErrCodeAuth)
}

// IsInternal checks if an error is an Internal error.
func IsInternal(err error) bool {
	return isCode(err, ErrCodeInternal)
}

// IsTimeout checks if an error is a Timeout error.
func IsTimeout(err error) bool {
	return isCode(err, ErrCodeTimeout)
}

// IsCanceled checks if an error is a Canceled error.
func IsCanceled(err error) bool {
	return isCode(err, ErrCodeCanceled)
}

// GetCode returns the ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetField returns the Field from an error, or empty string if not an AppError or no field set.
func GetField(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}
