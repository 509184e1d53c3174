package guest

import (
	"errors"
	"fmt"
)

// ErrorClass represents how the workflow must react to an error.
type ErrorClass string

const (
	// ErrorClassFatal aborts the workflow.
	// Examples: environment never registers, keyring initialization fails.
	ErrorClassFatal ErrorClass = "fatal"

	// ErrorClassRecoverable is reported as a warning and execution continues.
	// Examples: system update failure, firewall rule failure.
	ErrorClassRecoverable ErrorClass = "recoverable"

	// ErrorClassAdvisory is logged only.
	ErrorClassAdvisory ErrorClass = "advisory"
)

// Error represents a classified provisioning error with context.
type Error struct {
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Distro is the guest environment the error concerns, if any.
	Distro string `json:"distro,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Distro != "" && e.Operation != "" {
		msg = fmt.Sprintf("%s (distro=%s, operation=%s)", msg, e.Distro, e.Operation)
	} else if e.Distro != "" {
		msg = fmt.Sprintf("%s (distro=%s)", msg, e.Distro)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewFatalError creates a new fatal error.
func NewFatalError(message string, err error) *Error {
	return &Error{Class: ErrorClassFatal, Message: message, Err: err}
}

// NewRecoverableError creates a new recoverable error.
func NewRecoverableError(message string, err error) *Error {
	return &Error{Class: ErrorClassRecoverable, Message: message, Err: err}
}

// NewAdvisoryError creates a new advisory error.
func NewAdvisoryError(message string, err error) *Error {
	return &Error{Class: ErrorClassAdvisory, Message: message, Err: err}
}

// WithDistro adds environment context to an error.
func (e *Error) WithDistro(name string) *Error {
	e.Distro = name
	return e
}

// WithOperation adds operation context to an error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

func classOf(err error) (ErrorClass, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// IsFatal returns true if the error is classified as fatal.
func IsFatal(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorClassFatal
}

// IsRecoverable returns true if the error is classified as recoverable.
func IsRecoverable(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorClassRecoverable
}

// IsAdvisory returns true if the error is classified as advisory.
func IsAdvisory(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorClassAdvisory
}

// CodeOf returns the code of a classified error, or "" if err carries none.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Common error codes.
const (
	ErrCodeUnavailable      = "MANAGEMENT_UNAVAILABLE"
	ErrCodeNotRegistered    = "NOT_REGISTERED"
	ErrCodeNotReady         = "NOT_READY"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeKeyring          = "KEYRING_FAILED"
	ErrCodeUserCreate       = "USER_CREATE_FAILED"
	ErrCodePrivileges       = "PRIVILEGES_FAILED"
	ErrCodePackages         = "PACKAGES_FAILED"
	ErrCodeNetwork          = "NETWORK_FAILED"
	ErrCodeDotfiles         = "DOTFILES_FAILED"
	ErrCodeAborted          = "ABORTED"
	ErrCodeValidation       = "VALIDATION_ERROR"
)
