// Package errors provides structured error types for convoy.
//
// This package defines error codes and types that enable:
//   - Consistent error handling across the conversion, collection and archive layers
//   - Machine-readable error codes for exit-status mapping
//   - User-friendly error messages in batch reports
//   - Error wrapping with context preservation
//
// # Error Codes
//
// Job-level codes (TOOL_NOT_FOUND, STAGE_EXHAUSTED, TIMEOUT) are captured on the
// failing job's record and never abort a batch. Batch-level codes
// (FILESYSTEM_ERROR, ENVIRONMENT_REFUSED) mean the environment is unusable and
// abort the whole run. OUTPUT_ALREADY_EXISTS and ARCHIVE_COLLISION are soft
// failures the caller decides about.
//
// # Usage
//
//	err := errors.New(errors.ErrCodeToolNotFound, "no executable for role %s", role)
//	if errors.Is(err, errors.ErrCodeToolNotFound) {
//	    // report and continue with the next job
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeFilesystem, origErr, "create %s", dir)
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Job-level failures
	ErrCodeToolNotFound   Code = "TOOL_NOT_FOUND"
	ErrCodeStageExhausted Code = "STAGE_EXHAUSTED"
	ErrCodeTimeout        Code = "TIMEOUT"
	ErrCodeCancelled      Code = "CANCELLED"

	// Soft failures
	ErrCodeOutputExists     Code = "OUTPUT_ALREADY_EXISTS"
	ErrCodeArchiveCollision Code = "ARCHIVE_COLLISION"

	// Batch-level failures
	ErrCodeFilesystem         Code = "FILESYSTEM_ERROR"
	ErrCodeEnvironmentRefused Code = "ENVIRONMENT_REFUSED"
	ErrCodeInvalidInput       Code = "INVALID_INPUT"
	ErrCodeInvalidPath        Code = "INVALID_PATH"
	ErrCodeInvalidArchive     Code = "INVALID_ARCHIVE"
	ErrCodeValidationFailed   Code = "VALIDATION_FAILED"
	ErrCodeInternal           Code = "INTERNAL_ERROR"
)

// Process exit codes. Values 2-4 are part of the convert command's contract.
const (
	ExitOK                 = 0
	ExitFailure            = 1
	ExitToolNotFound       = 2
	ExitStageExhausted     = 3
	ExitInvalidArguments   = 4
	ExitEnvironmentRefused = 5
	ExitInterrupted        = 130 // Standard shell convention for SIGINT
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// IsBatchFatal reports whether err means the environment is unusable and the
// whole batch must stop rather than just the current job.
func IsBatchFatal(err error) bool {
	switch GetCode(err) {
	case ErrCodeFilesystem, ErrCodeEnvironmentRefused:
		return true
	}
	return false
}

// ExitCoder is implemented by errors that carry their own exit status, such
// as a batch summary whose status depends on which jobs failed.
type ExitCoder interface {
	ExitCode() int
}

// ExitCode maps an error to the process exit status.
// A nil error maps to ExitOK.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ec ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	if errors.Is(err, context.Canceled) {
		return ExitInterrupted
	}
	switch GetCode(err) {
	case ErrCodeToolNotFound:
		return ExitToolNotFound
	case ErrCodeStageExhausted, ErrCodeTimeout:
		return ExitStageExhausted
	case ErrCodeInvalidInput, ErrCodeInvalidPath:
		return ExitInvalidArguments
	case ErrCodeEnvironmentRefused:
		return ExitEnvironmentRefused
	case ErrCodeCancelled:
		return ExitInterrupted
	}
	return ExitFailure
}
