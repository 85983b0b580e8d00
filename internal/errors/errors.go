// Package errors provides shared error types for the wiki category exporter.
package errors

import (
	"errors"
	"fmt"
)

// StatusError is returned when the wiki API answers with a non-200 status.
// It is treated as transient: the identical request may be issued again.
type StatusError struct {
	StatusCode int
	Body       string // response body, truncated
	RetryAfter int    // seconds from the Retry-After header, 0 if absent
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("API returned status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("API returned status %d", e.StatusCode)
}

// Retryable reports whether the status is worth another attempt.
// Client errors other than 429 will not change on retry.
func (e *StatusError) Retryable() bool {
	if e.StatusCode == 429 {
		return true
	}
	return e.StatusCode < 400 || e.StatusCode >= 500
}

// SchemaError indicates a response that does not match the expected shape.
type SchemaError struct {
	Path    string // e.g. "query.categorymembers"
	Message string
}

func (e *SchemaError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("malformed response at %s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("malformed response: missing %s", e.Path)
}

// NewSchemaError creates a SchemaError for a missing path.
func NewSchemaError(path string) *SchemaError {
	return &SchemaError{Path: path}
}

// APIError is a MediaWiki error object returned with an HTTP 200 response.
type APIError struct {
	Code string
	Info string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error [%s]: %s", e.Code, e.Info)
}

// ValidationError indicates invalid input parameters.
type ValidationError struct {
	Field   string // field name that failed validation
	Value   string // the invalid value (may be empty)
	Message string // human-readable error message
}

func (e *ValidationError) Error() string {
	if e.Field != "" && e.Value != "" {
		return fmt.Sprintf("validation failed for %s=%q: %s", e.Field, e.Value, e.Message)
	}
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, value, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// IsStatus returns true if err is or wraps a StatusError.
func IsStatus(err error) bool {
	var target *StatusError
	return errors.As(err, &target)
}

// IsSchema returns true if err is or wraps a SchemaError.
func IsSchema(err error) bool {
	var target *SchemaError
	return errors.As(err, &target)
}

// IsAPI returns true if err is or wraps an APIError.
func IsAPI(err error) bool {
	var target *APIError
	return errors.As(err, &target)
}

// IsValidation returns true if err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
