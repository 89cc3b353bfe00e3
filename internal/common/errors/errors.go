// Package errors defines common error types for coda.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors used as error kinds.
var (
	// Entity errors
	ErrValidation         = errors.New("validation failed")
	ErrDiscovery          = errors.New("no files discovered")
	ErrUnsupportedOperand = errors.New("unsupported operand")
	ErrKeyNotFound        = errors.New("metadata key not found")
	ErrEmptyCollection    = errors.New("collection has no members")
	ErrInvalidMetadata    = errors.New("invalid metadata")

	// Store errors
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidQuery       = errors.New("invalid query")
	ErrInvariantViolation = errors.New("store invariant violated")
	ErrConnection         = errors.New("store connection failed")
	ErrReadOnly           = errors.New("store is read-only")
)

// CodaError is a custom error type with additional context.
type CodaError struct {
	Op      string // Operation that failed
	Kind    error  // Category of error
	Err     error  // Underlying error
	Details string // Additional details
}

// Error implements the error interface.
func (e *CodaError) Error() string {
	switch {
	case e.Details != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %s (%s)", e.Op, e.Kind, e.Err, e.Details)
	case e.Details != "":
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Kind, e.Details)
	case e.Kind == nil && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

// Unwrap returns the underlying error.
func (e *CodaError) Unwrap() error {
	return e.Err
}

// Is reports whether target matches this error.
func (e *CodaError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	return e.Err != nil && errors.Is(e.Err, target)
}

// E creates a new CodaError.
func E(op string, kind error, err error, details ...string) error {
	e := &CodaError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
	if len(details) > 0 {
		e.Details = details[0]
	}
	return e
}

// Wrap wraps an error with operation context.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &CodaError{
		Op:  op,
		Err: err,
	}
}

// Is is errors.Is, re-exported so callers need a single errors import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is errors.As.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// New is errors.New.
func New(text string) error {
	return errors.New(text)
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsKeyNotFound checks if the error is a missing metadata key.
func IsKeyNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

// IsConnection checks if the error is a store connection failure.
func IsConnection(err error) bool {
	return errors.Is(err, ErrConnection)
}
