// Package apperr provides the typed error taxonomy used across the
// orchestration core. Errors carry a stable code string so daemons and
// callers can branch on kind without string-matching messages.
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies an error kind from the core's taxonomy.
type Code string

const (
	CodeValidation       Code = "VALIDATION"
	CodeNotFound         Code = "NOT_FOUND"
	CodeInvalidArguments Code = "INVALID_ARGUMENTS"
	CodeAlreadyExists    Code = "ALREADY_EXISTS"
	CodeInvalidStatus    Code = "INVALID_STATUS"
	CodeImmutable        Code = "IMMUTABLE"
	CodeCapacity         Code = "CAPACITY"
	CodeInvalidResume    Code = "INVALID_RESUME"
	CodeTimeout          Code = "TIMEOUT"
	CodeTransient        Code = "TRANSIENT"
	CodeFatal            Code = "FATAL"
)

// ExitCode maps a handful of codes to the process exit codes the CLI-facing
// edges of the system (factories, validators) are expected to surface.
// Codes with no declared exit code return 1.
func (c Code) ExitCode() int {
	switch c {
	case CodeValidation:
		return 2
	case CodeInvalidArguments:
		return 3
	case CodeNotFound:
		return 4
	default:
		return 1
	}
}

// AppError is the core's error type. Err, when set, is the underlying
// cause and participates in errors.Is/errors.As via Unwrap.
type AppError struct {
	Code    Code
	Message string
	Err     error

	// Status carries {from, to, allowed} for CodeInvalidStatus errors.
	Status *StatusDetail

	// Retryable marks CodeTransient errors safe to retry on the next tick.
	Retryable bool
}

// StatusDetail describes a rejected or accepted status transition.
type StatusDetail struct {
	From    string
	To      string
	Allowed []string
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped error for errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Validation reports a declared-constraint violation.
func Validation(field, message string) *AppError {
	return &AppError{Code: CodeValidation, Message: fmt.Sprintf("%s: %s", field, message)}
}

// NotFound reports that id is absent or tombstoned.
func NotFound(resource, id string) *AppError {
	return &AppError{Code: CodeNotFound, Message: fmt.Sprintf("%s %q not found", resource, id)}
}

// InvalidArguments reports a missing or mutually exclusive flag/argument.
func InvalidArguments(message string) *AppError {
	return &AppError{Code: CodeInvalidArguments, Message: message}
}

// AlreadyExists reports a duplicate registration.
func AlreadyExists(resource, id string) *AppError {
	return &AppError{Code: CodeAlreadyExists, Message: fmt.Sprintf("%s %q already exists", resource, id)}
}

// InvalidStatus reports a disallowed status transition or an operation on a
// terminal/immutable entity.
func InvalidStatus(from, to string, allowed []string) *AppError {
	return &AppError{
		Code:    CodeInvalidStatus,
		Message: fmt.Sprintf("cannot transition from %q to %q", from, to),
		Status:  &StatusDetail{From: from, To: to, Allowed: allowed},
	}
}

// Immutable reports a write attempt against an immutable document.
func Immutable(resource, id string) *AppError {
	return &AppError{Code: CodeImmutable, Message: fmt.Sprintf("%s %q is immutable", resource, id)}
}

// Capacity reports that an agent has no free capacity or is rate-limited.
// Non-fatal: the caller should retry on a later dispatch tick.
func Capacity(message string) *AppError {
	return &AppError{Code: CodeCapacity, Message: message}
}

// InvalidResume reports that a provider session cannot be resumed. Callers
// should recover locally by tombstoning the session record.
func InvalidResume(sessionID, reason string) *AppError {
	return &AppError{Code: CodeInvalidResume, Message: fmt.Sprintf("session %q cannot be resumed: %s", sessionID, reason)}
}

// Timeout reports that a bounded operation exceeded its deadline.
func Timeout(operation string) *AppError {
	return &AppError{Code: CodeTimeout, Message: fmt.Sprintf("%s timed out", operation)}
}

// Transient wraps a network/rate/5xx error that is safe to retry.
func Transient(message string, err error) *AppError {
	return &AppError{Code: CodeTransient, Message: message, Err: err, Retryable: true}
}

// Fatal wraps an uncategorized error for logging and surfacing.
func Fatal(message string, err error) *AppError {
	return &AppError{Code: CodeFatal, Message: message, Err: err}
}

// Wrap attaches additional context to err, preserving its code if it is
// already an AppError, else classifying it as Fatal.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:      appErr.Code,
			Message:   fmt.Sprintf("%s: %s", message, appErr.Message),
			Err:       err,
			Status:    appErr.Status,
			Retryable: appErr.Retryable,
		}
	}

	return &AppError{Code: CodeFatal, Message: message, Err: err}
}

// Is reports whether err is an AppError of the given code.
func Is(err error, code Code) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsRetryable reports whether err is a Transient error marked retryable.
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeTransient && appErr.Retryable
	}
	return false
}

// GetCode extracts the taxonomy code of err, or CodeFatal if err is not an
// AppError.
func GetCode(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeFatal
}
