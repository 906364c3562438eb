// Package engine provides the core types and interfaces for the ticketbridge
// provisioning engine. It models a deployment as phased resource graphs
// (foundation, then application) that are planned against stored state and
// applied level by level.
package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a provisioning error for retry and recovery decisions.
type ErrorClass string

const (
	// ErrorClassTransient marks failures that may succeed on retry, such as
	// network timeouts or a cloud operation that has not settled yet.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled marks rate-limit responses (HTTP 429). Retried
	// with a longer backoff than plain transient failures.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassConflict marks optimistic-concurrency and already-in-progress
	// conflicts (HTTP 409) on a resource that is otherwise healthy.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent marks non-recoverable failures: invalid parameters,
	// permission denied, bad SKU, name collisions with foreign resources.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error is a classified provisioning error carrying the resource and
// operation it occurred on.
type Error struct {
	// Class drives the scheduler's retry decision.
	Class ErrorClass `json:"class"`

	// Message is the human-readable description.
	Message string `json:"message"`

	// Code is an optional machine-readable code.
	Code string `json:"code,omitempty"`

	// Resource is the engine resource ID the error relates to, if any.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation in flight when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying cause.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Resource != "" {
		msg += fmt.Sprintf(" (resource=%s", e.Resource)
		if e.Operation != "" {
			msg += fmt.Sprintf(", operation=%s", e.Operation)
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on class and code so sentinel comparisons work across wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a transient error.
func NewTransientError(message string, err error) *Error {
	return &Error{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewThrottledError creates a throttled error.
func NewThrottledError(message string, err error) *Error {
	return &Error{Class: ErrorClassThrottled, Message: message, Err: err}
}

// NewConflictError creates a conflict error.
func NewConflictError(message string, err error) *Error {
	return &Error{Class: ErrorClassConflict, Message: message, Err: err}
}

// NewPermanentError creates a permanent error.
func NewPermanentError(message string, err error) *Error {
	return &Error{Class: ErrorClassPermanent, Message: message, Err: err}
}

// WithResource attaches the engine resource ID.
func (e *Error) WithResource(resourceID string) *Error {
	e.Resource = resourceID
	return e
}

// WithOperation attaches the operation name.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCode attaches a machine-readable code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// Classify returns the class of err, or ErrorClassPermanent when err is not
// a classified engine error.
func Classify(err error) ErrorClass {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ErrorClassPermanent
}

// IsTransient reports whether err is classified transient.
func IsTransient(err error) bool { return Classify(err) == ErrorClassTransient }

// IsThrottled reports whether err is classified throttled.
func IsThrottled(err error) bool { return Classify(err) == ErrorClassThrottled }

// IsConflict reports whether err is classified as a conflict.
func IsConflict(err error) bool { return Classify(err) == ErrorClassConflict }

// IsPermanent reports whether err is classified permanent.
func IsPermanent(err error) bool { return Classify(err) == ErrorClassPermanent }

// IsRetryable reports whether the scheduler should retry after err.
// Transient, throttled, and conflict errors are retryable.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Class == ErrorClassTransient ||
		e.Class == ErrorClassThrottled ||
		e.Class == ErrorClassConflict
}

// Machine-readable error codes.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeNameCollision    = "NAME_COLLISION"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeQuotaExceeded    = "QUOTA_EXCEEDED"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeInternal         = "INTERNAL_ERROR"
	ErrCodeProviderFailed   = "PROVIDER_FAILED"
	ErrCodeDependencyFailed = "DEPENDENCY_FAILED"
	ErrCodePolicyDenied     = "POLICY_DENIED"
	ErrCodeRBACPropagation  = "RBAC_PROPAGATION"
)
