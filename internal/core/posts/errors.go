package posts

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for post operations
var (
	// ErrInvalidTypeFormat is returned when a type URI has no version suffix
	ErrInvalidTypeFormat = errors.New("invalid post type format")

	// ErrNotFound is returned when a post or version is absent, deleted or unreadable
	// by the caller. The three cases look the same to callers.
	ErrNotFound = errors.New("post not found")

	// ErrIDAllocationExhausted is returned when no unique public id could be allocated
	ErrIDAllocationExhausted = errors.New("public id allocation exhausted")

	// ErrInvalidFilterParameter is returned for an unparseable query parameter
	ErrInvalidFilterParameter = errors.New("invalid filter parameter")

	// ErrDuplicatePublicID is returned by repositories when the public id is taken
	ErrDuplicatePublicID = errors.New("duplicate public id")

	// ErrConcurrentModification indicates the post changed since it was loaded
	ErrConcurrentModification = errors.New("post was modified by another operation")
)

// ValidationError represents a validation error with field context
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error (%s): %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if error is a validation error
func IsValidationError(err error) bool {
	var valErr *ValidationError
	var schemaErr *SchemaViolation
	return errors.As(err, &valErr) || errors.As(err, &schemaErr)
}

// SchemaViolation is returned when post content does not satisfy the schema
// registered for its type base
type SchemaViolation struct {
	TypeBase string
	Problems []string
}

func (e *SchemaViolation) Error() string {
	return fmt.Sprintf("content does not match schema for %s: %s", e.TypeBase, strings.Join(e.Problems, "; "))
}

// FilterParameterError names the query parameter that could not be parsed
type FilterParameterError struct {
	Param  string
	Value  string
	Reason string
}

func (e *FilterParameterError) Error() string {
	return fmt.Sprintf("invalid filter parameter %s=%q: %s", e.Param, e.Value, e.Reason)
}

func (e *FilterParameterError) Unwrap() error { return ErrInvalidFilterParameter }

func newFilterParameterError(param, value, reason string) error {
	return &FilterParameterError{Param: param, Value: value, Reason: reason}
}

// IsNotFound checks if error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
