// Package shared contains common domain types, errors and events that are used
// across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")
	ErrLocked          = errors.New("locked")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// Infrastructure errors
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// Curriculum error kinds. Each one chains to a base kind so generic checks
// such as IsValidation keep working.
var (
	ErrSlotMismatch      = fmt.Errorf("slot mismatch: %w", ErrValidation)
	ErrSlotOccupied      = fmt.Errorf("slot occupied: %w", ErrAlreadyExists)
	ErrQuizMalformed     = fmt.Errorf("quiz malformed: %w", ErrValidation)
	ErrConflictingUnlock = fmt.Errorf("conflicting unlock configuration: %w", ErrInvalidInput)
	ErrContentLocked     = fmt.Errorf("content locked: %w", ErrLocked)
	ErrHasProgress       = fmt.Errorf("has learner progress: %w", ErrInvalidState)
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "activity", "progress", "curriculum"
	Op      string // Operation that failed, e.g., "Create", "Reorder"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// Errorf creates a domain error with a formatted message.
func Errorf(domain, op string, kind error, format string, args ...any) *DomainError {
	return NewDomainError(domain, op, kind, fmt.Sprintf(format, args...))
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Curriculum hierarchy errors
var (
	ErrCourseNotFound     = NewDomainError("curriculum", "Find", ErrNotFound, "course not found")
	ErrModuleNotFound     = NewDomainError("curriculum", "Find", ErrNotFound, "module not found")
	ErrLessonNotFound     = NewDomainError("curriculum", "Find", ErrNotFound, "lesson not found")
	ErrPathNotFound       = NewDomainError("curriculum", "Find", ErrNotFound, "learning path not found")
	ErrEnrollmentNotFound = NewDomainError("curriculum", "FindEnrollment", ErrNotFound, "enrollment not found")
	ErrInvalidDripConfig  = NewDomainError("curriculum", "SaveDrip", ErrInvalidInput, "invalid drip configuration")
)

// Activity errors
var (
	ErrActivityNotFound    = NewDomainError("activity", "Find", ErrNotFound, "activity not found")
	ErrInvalidActivityType = NewDomainError("activity", "Validate", ErrInvalidInput, "invalid activity type")
	ErrInvalidSlotIndex    = NewDomainError("activity", "Validate", ErrValueOutOfRange, "slot index must be >= 1")
	ErrInvalidStatus       = NewDomainError("activity", "Validate", ErrInvalidInput, "invalid activity status")
	ErrReorderMandatory    = NewDomainError("activity", "Reorder", ErrInvalidInput, "mandatory slots cannot be reordered")
	ErrActivityUnavailable = NewDomainError("activity", "Access", ErrLocked, "activity is not published")
)

// Progress errors
var (
	ErrProgressNotFound = NewDomainError("progress", "Find", ErrNotFound, "progress not found")
	ErrInvalidProgress  = NewDomainError("progress", "Validate", ErrInvalidInput, "invalid progress record")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrValueOutOfRange) ||
		errors.Is(err, ErrInvalidFormat)
}

// IsConflict checks if the error reports a conflicting state rather than bad input.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrStateTransition) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsLocked checks if the error reports content that is not yet available.
func IsLocked(err error) bool {
	return errors.Is(err, ErrLocked)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification)
}
