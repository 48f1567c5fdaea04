package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for validation failures.
var (
	ErrInvalidQuery    = errors.New("invalid query")
	ErrQueryTooLong    = errors.New("query too long")
	ErrEmptyQuery      = errors.New("empty query")
	ErrUnknownSource   = errors.New("unknown source")
	ErrInvalidProduct  = errors.New("invalid product")
	ErrPriceOutOfRange = errors.New("price out of range")
	ErrRatingRange     = errors.New("rating out of range")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
