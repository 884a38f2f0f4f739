// Package errs defines the structured error type and error codes shared by
// all runtime components.
package errs

import (
	"errors"
	"fmt"
)

// Code identifies an error family and member. Ranges:
//
//	1000-1099 configuration
//	1100-1199 path
//	1200-1299 memory
//	1300-1399 provider
//	1400-1499 agent (profile, ability, delegation, execution)
//	1500-1599 validation
//	1600-1699 filesystem
//	1700-1799 CLI surface
//	9999      unknown
type Code int

const (
	CodeUnknown Code = 9999

	// Configuration
	CodeConfigInvalid  Code = 1000
	CodeConfigNotFound Code = 1001

	// Path
	CodePathTraversal Code = 1100
	CodePathInvalid   Code = 1101
	CodePathEscape    Code = 1102

	// Memory
	CodeMemoryNotInitialized Code = 1200
	CodeMemoryDatabase       Code = 1201
	CodeMemoryQuery          Code = 1202
	CodeMemoryImport         Code = 1203
	CodeMemoryExport         Code = 1204

	// Provider
	CodeProviderNotFound     Code = 1300
	CodeProviderUnavailable  Code = 1301
	CodeProviderTimeout      Code = 1302
	CodeProviderRateLimit    Code = 1303
	CodeProviderAuth         Code = 1304
	CodeProviderExec         Code = 1305
	CodeNoAvailableProviders Code = 1306

	// Agent
	CodeAgentNotFound             Code = 1400
	CodeAbilityNotFound           Code = 1401
	CodeAgentExecution            Code = 1402
	CodeDelegationNotConfigured   Code = 1410
	CodeMaxDepthExceeded          Code = 1411
	CodeCycleDetected             Code = 1412
	CodeDelegationExecutionFailed Code = 1413
	CodeSessionNotFound           Code = 1414
	CodeSessionNotActive          Code = 1415
	CodeStageDependencyCycle      Code = 1420
	CodeStageFailed               Code = 1421
	CodeCheckpointNotFound        Code = 1422

	// Validation
	CodeInvalidInput  Code = 1500
	CodeInvalidParams Code = 1501

	// Filesystem
	CodeFileTooLarge Code = 1600
	CodeFileNotFound Code = 1601
	CodeFileWrite    Code = 1602

	// CLI surface
	CodeCLINotInitialized Code = 1700
)

// Error is the base structured error carried across component boundaries.
// Operational errors describe expected failure modes (bad input, unavailable
// backend); non-operational errors indicate bugs or invariant violations.
type Error struct {
	Code        Code
	Message     string
	Suggestions []string
	Context     map[string]any
	Operational bool
	cause       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// WithSuggestions attaches suggestions and returns the error.
func (e *Error) WithSuggestions(s ...string) *Error {
	e.Suggestions = append(e.Suggestions, s...)
	return e
}

// WithContext attaches a context key/value pair and returns the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// New creates an operational error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Operational: true}
}

// Newf creates an operational error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Operational: true}
}

// Wrap creates an operational error wrapping a cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Operational: true, cause: cause}
}

// Internal creates a non-operational error for bugs and invariant violations.
func Internal(message string, cause error) *Error {
	return &Error{Code: CodeUnknown, Message: message, Operational: false, cause: cause}
}

// CodeOf extracts the Code from an error chain. Unrecognized errors map to
// CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// Is reports whether the error chain contains an Error with the given code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsOperational reports whether the error chain is an expected failure mode.
// Untyped errors are treated as non-operational.
func IsOperational(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Operational
	}
	return false
}
