package alarms

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates malformed input or a rule invariant violation.
	ErrValidation = errors.New("alarm: validation failed")
	// ErrNotFound indicates a missing alarm record.
	ErrNotFound = errors.New("alarm: not found")
	// ErrConflict indicates the request clashes with current state.
	ErrConflict = errors.New("alarm: conflict")
	// ErrDependency indicates a store or collaborator failure.
	ErrDependency = errors.New("alarm: dependency failure")
	// ErrPartialFailure marks a batch where some items failed.
	ErrPartialFailure = errors.New("alarm: partial failure")

	// ErrInvalidRule is returned when a rule cannot be evaluated as configured.
	ErrInvalidRule = fmt.Errorf("%w: invalid rule", ErrValidation)
	// ErrValueKind is returned when a value kind does not fit the rule type.
	ErrValueKind = fmt.Errorf("%w: value kind mismatch", ErrValidation)
)

// ErrorCode is the machine readable error classification.
type ErrorCode string

const (
	CodeValidation     ErrorCode = "VALIDATION_ERROR"
	CodeNotFound       ErrorCode = "NOT_FOUND"
	CodeConflict       ErrorCode = "CONFLICT"
	CodePartialFailure ErrorCode = "PARTIAL_FAILURE"
	CodeDependency     ErrorCode = "DEPENDENCY_ERROR"
	CodeInternal       ErrorCode = "INTERNAL_ERROR"
)

// CodeOf classifies err. A nil error has no code.
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrPartialFailure):
		return CodePartialFailure
	case errors.Is(err, ErrDependency):
		return CodeDependency
	default:
		return CodeInternal
	}
}

// Validationf builds a validation error.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf builds a not-found error.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Conflictf builds a conflict error.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Dependency wraps a collaborator failure. Errors already classified are returned as is.
func Dependency(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrDependency) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrDependency, op, err)
}
