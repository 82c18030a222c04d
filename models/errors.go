package models

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports malformed or missing input. Not retryable without changing the input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// Invalid builds a *ValidationError for field.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ConfigurationError reports a deployment fault, e.g. no store configured for an exam key.
type ConfigurationError struct {
	ExamType string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error for exam %q: %s", e.ExamType, e.Reason)
}

// DuplicateQuestionError reports question ids that already exist (or repeat
// within one batch). The whole ingestion was rolled back.
type DuplicateQuestionError struct {
	IDs []string
}

func (e *DuplicateQuestionError) Error() string {
	return fmt.Sprintf("duplicate question ids: %s", strings.Join(e.IDs, ", "))
}

// TransientError wraps connection and timeout failures that are safe to retry with backoff.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsValidation reports whether err carries a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsTransient reports whether err carries a *TransientError.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}
