package errors

import (
	stderrors "errors"
	"fmt"
)

// VecError is the structured error type for amanvec.
// It provides rich context for error handling, logging, and user presentation.
type VecError struct {
	// Code is the unique error code (e.g., "ERR_402_NO_DOCUMENTS_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *VecError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *VecError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with VecError.
func (e *VecError) Is(target error) bool {
	if t, ok := target.(*VecError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *VecError) WithDetail(key, value string) *VecError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *VecError) WithSuggestion(suggestion string) *VecError {
	e.Suggestion = suggestion
	return e
}

// New creates a new VecError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *VecError {
	return &VecError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a VecError from an existing error.
// The error's message becomes the VecError message.
func Wrap(code string, err error) *VecError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// NoDocumentsFound reports that the cracking stage yielded zero sources.
// Carries the source root and selector patterns so an operator can fix a
// misconfigured glob without reading code.
func NoDocumentsFound(root string, patterns []string) *VecError {
	e := New(ErrCodeNoDocumentsFound,
		fmt.Sprintf("no documents found under %q", root), nil)
	e.WithDetail("root", root)
	e.WithDetail("patterns", fmt.Sprintf("%v", patterns))
	return e.WithSuggestion("check the source path and include/exclude patterns in your config")
}

// MalformedChunk reports an upstream chunking contract violation.
func MalformedChunk(message string) *VecError {
	return New(ErrCodeMalformedChunk, message, nil)
}

// EmbeddingError creates an embedding backend error. Retryable.
func EmbeddingError(message string, cause error) *VecError {
	return New(ErrCodeEmbeddingFailed, message, cause)
}

// PersistenceError creates a container save/load error.
func PersistenceError(message string, cause error) *VecError {
	return New(ErrCodePersistenceFailed, message, cause)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *VecError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *VecError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *VecError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a VecError with the Retryable flag set.
func IsRetryable(err error) bool {
	var ve *VecError
	if stderrors.As(err, &ve) {
		return ve.Retryable
	}
	return false
}

// HasCode checks whether err (or anything it wraps) carries the given code.
func HasCode(err error, code string) bool {
	var ve *VecError
	if stderrors.As(err, &ve) {
		return ve.Code == code
	}
	return false
}

// CodeOf returns the error code of err, or ErrCodeInternal for plain errors.
func CodeOf(err error) string {
	var ve *VecError
	if stderrors.As(err, &ve) {
		return ve.Code
	}
	return ErrCodeInternal
}
