// Package apperror provides structured error handling for the EAV engine.
// All engine errors must use AppError so callers can dispatch on Code.
package apperror

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error codes form a closed taxonomy. Absence of a row is never an error;
// read paths return a nil result instead.
const (
	// CodeConfiguration: an entity type or attribute was used before its
	// required metadata (storage identifiers) existed. Not retryable.
	CodeConfiguration = "CONFIGURATION_ERROR"

	// CodeValidation: aggregated field-level failures discovered before any
	// write was attempted.
	CodeValidation = "VALIDATION_ERROR"

	// CodeStorage: an attribute lacked a storage identifier at the point a
	// value operation needed it. Signals a metadata/data ordering bug.
	CodeStorage = "STORAGE_ERROR"

	// CodeEntity: lifecycle misuse or a transactional failure during
	// create/save/delete.
	CodeEntity = "ENTITY_ERROR"

	// CodeInternal: infrastructure failure not covered above.
	CodeInternal = "INTERNAL_ERROR"
)

// AppError is the standard error type for the engine.
// It implements the error interface and provides structured details.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (field errors, entity type, etc.)
	Details map[string]any `json:"details,omitempty"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions ---

// NewConfiguration creates a configuration-order error.
func NewConfiguration(message string) *AppError {
	return &AppError{
		Code:    CodeConfiguration,
		Message: message,
	}
}

// NewValidation creates a validation error.
func NewValidation(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
	}
}

// NewStorage creates a storage-consistency error.
func NewStorage(message string) *AppError {
	return &AppError{
		Code:    CodeStorage,
		Message: message,
	}
}

// NewEntity creates an entity lifecycle error carrying the entity type code.
func NewEntity(entityType, message string) *AppError {
	return &AppError{
		Code:    CodeEntity,
		Message: message,
		Details: map[string]any{"entity_type": entityType},
	}
}

// NewInternal creates an internal error wrapping its cause.
func NewInternal(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "internal error",
		Err:     err,
	}
}

// --- Aggregated field errors ---

// FieldErrors collects per-field validation failures so a caller sees the
// full list, never just the first.
type FieldErrors map[string][]string

// Add appends a failure message for a field.
func (f FieldErrors) Add(field, message string) {
	f[field] = append(f[field], message)
}

// Empty reports whether no failures were recorded.
func (f FieldErrors) Empty() bool { return len(f) == 0 }

// AsError converts the collected failures into one VALIDATION_ERROR, or nil
// if none were recorded.
func (f FieldErrors) AsError() error {
	if f.Empty() {
		return nil
	}
	fields := make([]string, 0, len(f))
	for field := range f {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	details := make(map[string]any, len(f))
	for field, msgs := range f {
		details[field] = msgs
	}
	return &AppError{
		Code:    CodeValidation,
		Message: fmt.Sprintf("validation failed for fields: %s", strings.Join(fields, ", ")),
		Details: map[string]any{"fields": details},
	}
}

// --- Helper functions ---

// IsAppError checks if error is AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err carries the given engine code.
func HasCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// IsValidation checks if error is CodeValidation
func IsValidation(err error) bool { return HasCode(err, CodeValidation) }

// IsConfiguration checks if error is CodeConfiguration
func IsConfiguration(err error) bool { return HasCode(err, CodeConfiguration) }

// IsStorage checks if error is CodeStorage
func IsStorage(err error) bool { return HasCode(err, CodeStorage) }

// IsEntity checks if error is CodeEntity
func IsEntity(err error) bool { return HasCode(err, CodeEntity) }
