// Package errors defines the structured error kinds used across the
// reconciliation core (spec §7): NotFound, CapacityExceeded, UnknownPriority,
// Shutdown, CircuitOpen, RateLimited, AuthError, StaleData,
// UnknownJob, plus a general Validation/Database/Network/Internal/Timeout
// set for the ambient stack. These are semantic categories, not exceptions:
// callers branch on Type, they don't unwind control flow with them.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	faster "github.com/go-faster/errors"
)

// ErrorType names a category of failure and its default HTTP surface.
type ErrorType string

const (
	ErrorTypeValidation      ErrorType = "validation"
	ErrorTypeDatabase        ErrorType = "database"
	ErrorTypeNetwork         ErrorType = "network"
	ErrorTypeAuth            ErrorType = "auth"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeConflict        ErrorType = "conflict"
	ErrorTypeInternal        ErrorType = "internal"
	ErrorTypeTimeout         ErrorType = "timeout"
	ErrorTypeRateLimit       ErrorType = "rate_limit"
	ErrorTypeCapacityExceeded ErrorType = "capacity_exceeded"
	ErrorTypeUnknownPriority ErrorType = "unknown_priority"
	ErrorTypeShutdown        ErrorType = "shutdown"
	ErrorTypeCircuitOpen     ErrorType = "circuit_open"
	ErrorTypeStaleData       ErrorType = "stale_data"
	ErrorTypeUnknownJob      ErrorType = "unknown_job"
)

var statusByType = map[ErrorType]int{
	ErrorTypeValidation:       http.StatusBadRequest,
	ErrorTypeAuth:             http.StatusUnauthorized,
	ErrorTypeNotFound:         http.StatusNotFound,
	ErrorTypeConflict:         http.StatusConflict,
	ErrorTypeTimeout:          http.StatusRequestTimeout,
	ErrorTypeRateLimit:        http.StatusTooManyRequests,
	ErrorTypeDatabase:         http.StatusInternalServerError,
	ErrorTypeNetwork:          http.StatusInternalServerError,
	ErrorTypeInternal:         http.StatusInternalServerError,
	ErrorTypeCapacityExceeded: http.StatusServiceUnavailable,
	ErrorTypeUnknownPriority:  http.StatusBadRequest,
	ErrorTypeShutdown:         http.StatusServiceUnavailable,
	ErrorTypeCircuitOpen:      http.StatusServiceUnavailable,
	ErrorTypeStaleData:        http.StatusConflict,
	ErrorTypeUnknownJob:       http.StatusBadRequest,
}

// AppError carries a category, a human message, optional free-form details,
// and an optional wrapped cause.
type AppError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Details    string
	Cause      error
}

func New(t ErrorType, message string) *AppError {
	return &AppError{Type: t, Message: message, StatusCode: statusFor(t)}
}

func Wrap(cause error, t ErrorType, message string) *AppError {
	return &AppError{Type: t, Message: message, StatusCode: statusFor(t), Cause: faster.Wrap(cause, message)}
}

func Wrapf(cause error, t ErrorType, format string, args ...interface{}) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

func statusFor(t ErrorType) int {
	if s, ok := statusByType[t]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// Predefined constructors mirroring the common cases the engine and worker
// raise.

func NewValidationError(message string) *AppError { return New(ErrorTypeValidation, message) }

func NewDatabaseError(op string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeDatabase, "database operation failed: %s", op)
}

func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource))
}

func NewAuthError(message string) *AppError { return New(ErrorTypeAuth, message) }

func NewTimeoutError(op string) *AppError {
	return New(ErrorTypeTimeout, fmt.Sprintf("operation timed out: %s", op))
}

func NewCapacityExceededError(detail string) *AppError {
	return New(ErrorTypeCapacityExceeded, "queue capacity exceeded").WithDetails(detail)
}

func NewUnknownPriorityError(label string) *AppError {
	return New(ErrorTypeUnknownPriority, fmt.Sprintf("unknown priority %q", label))
}

func NewShutdownError() *AppError {
	return New(ErrorTypeShutdown, "queue is shutting down")
}

func NewCircuitOpenError(platform string) *AppError {
	return New(ErrorTypeCircuitOpen, fmt.Sprintf("circuit open for platform %q", platform))
}

func NewStaleDataError(resource string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeStaleData, "stale data on commit: %s", resource)
}

func NewUnknownJobError(jobType string) *AppError {
	return New(ErrorTypeUnknownJob, fmt.Sprintf("unknown job type %q", jobType))
}

// IsType reports whether err is an *AppError of the given type.
func IsType(err error, t ErrorType) bool {
	var ae *AppError
	if !asAppError(err, &ae) {
		return false
	}
	return ae.Type == t
}

// GetType returns err's ErrorType, or ErrorTypeInternal if err is not an
// *AppError.
func GetType(err error) ErrorType {
	var ae *AppError
	if !asAppError(err, &ae) {
		return ErrorTypeInternal
	}
	return ae.Type
}

// GetStatusCode returns the HTTP status associated with err.
func GetStatusCode(err error) int {
	var ae *AppError
	if !asAppError(err, &ae) {
		return http.StatusInternalServerError
	}
	return ae.StatusCode
}

// asAppError unwraps err (which may have passed through a retry wrapper or
// other decorator) looking for an *AppError, via the standard Unwrap chain
// rather than a bare type assertion.
func asAppError(err error, target **AppError) bool {
	return stderrors.As(err, target)
}

// ErrorMessages holds the generic, client-safe strings substituted for
// internal details on error types that should never leak causes.
var ErrorMessages = struct {
	ResourceNotFound        string
	AuthenticationFailed    string
	OperationTimeout        string
	RateLimitExceeded       string
	ConcurrentModification string
	InternalError           string
}{
	ResourceNotFound:        "The requested resource was not found",
	AuthenticationFailed:    "Authentication failed",
	OperationTimeout:        "The operation timed out",
	RateLimitExceeded:       "Rate limit exceeded, please try again later",
	ConcurrentModification:  "The resource was modified concurrently, please retry",
	InternalError:           "An internal error occurred",
}

// SafeErrorMessage returns a message safe to surface to an external caller:
// validation messages pass through verbatim (they describe the caller's own
// mistake), everything else is replaced with a generic, type-specific
// message so internal details never leak.
func SafeErrorMessage(err error) string {
	var ae *AppError
	if !asAppError(err, &ae) {
		return "An unexpected error occurred"
	}
	switch ae.Type {
	case ErrorTypeValidation:
		return ae.Message
	case ErrorTypeNotFound:
		return ErrorMessages.ResourceNotFound
	case ErrorTypeAuth:
		return ErrorMessages.AuthenticationFailed
	case ErrorTypeTimeout:
		return ErrorMessages.OperationTimeout
	case ErrorTypeRateLimit:
		return ErrorMessages.RateLimitExceeded
	case ErrorTypeConflict, ErrorTypeStaleData:
		return ErrorMessages.ConcurrentModification
	default:
		return ErrorMessages.InternalError
	}
}

// LogFields renders err into a flat map suitable as structured logging
// fields (see internal/shared/logging).
func LogFields(err error) map[string]interface{} {
	fields := map[string]interface{}{"error": err.Error()}
	var ae *AppError
	if !asAppError(err, &ae) {
		return fields
	}
	fields["error_type"] = string(ae.Type)
	fields["status_code"] = ae.StatusCode
	if ae.Details != "" {
		fields["error_details"] = ae.Details
	}
	if ae.Cause != nil {
		fields["underlying_error"] = faster.Cause(ae.Cause).Error()
	}
	return fields
}

// Chain concatenates non-nil errors into one, joined by " -> ", preserving
// the order they were produced in a multi-stage operation (e.g. commit
// retried once, both attempts' errors reported together).
func Chain(errs ...error) error {
	var msgs []string
	for _, e := range errs {
		if e == nil {
			continue
		}
		msgs = append(msgs, e.Error())
	}
	switch len(msgs) {
	case 0:
		return nil
	case 1:
		for _, e := range errs {
			if e != nil {
				return e
			}
		}
		return nil
	default:
		joined := msgs[0]
		for _, m := range msgs[1:] {
			joined += " -> " + m
		}
		return fmt.Errorf("%s", joined)
	}
}
