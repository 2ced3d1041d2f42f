// Package errors provides the classified error type used throughout postgate.
// Every failure carries a category, a code, a message and a retryable flag so
// the pipeline can turn it into the right user-facing advisory.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by the kind of outcome they represent.
type ErrorCategory string

const (
	ErrCategoryInput     ErrorCategory = "INPUT"
	ErrCategorySafety    ErrorCategory = "SAFETY"
	ErrCategoryBackend   ErrorCategory = "BACKEND"
	ErrCategoryExhausted ErrorCategory = "EXHAUSTED"
	ErrCategoryStorage   ErrorCategory = "STORAGE"
	ErrCategoryConfig    ErrorCategory = "CONFIG"
	ErrCategoryInternal  ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Input codes
	CodeMissingInput    = "MISSING_INPUT"
	CodeExtractFailed   = "EXTRACT_FAILED"
	CodeContentTooShort = "CONTENT_TOO_SHORT"
	CodeEmptyContent    = "EMPTY_CONTENT"

	// Safety codes
	CodePIIDetected = "PII_DETECTED"

	// Backend codes
	CodeRequestFailed        = "REQUEST_FAILED"
	CodeTimeout              = "TIMEOUT"
	CodeBadStatus            = "BAD_STATUS"
	CodeMalformedResponse    = "MALFORMED_RESPONSE"
	CodeEmptyCompletion      = "EMPTY_COMPLETION"
	CodeVerificationMismatch = "VERIFICATION_MISMATCH"

	// Exhaustion codes
	CodeNoUniquePost = "NO_UNIQUE_POST"

	// Storage codes
	CodeWriteFailed    = "WRITE_FAILED"
	CodeReadFailed     = "READ_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Config codes
	CodeInvalidConfig = "INVALID_CONFIG"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// PostgateError is the structured error type used throughout the system.
type PostgateError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *PostgateError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *PostgateError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *PostgateError) Is(target error) bool {
	var t *PostgateError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new PostgateError.
func New(category ErrorCategory, code, message string) *PostgateError {
	return &PostgateError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new PostgateError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *PostgateError {
	return &PostgateError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *PostgateError) WithDetails(details map[string]interface{}) *PostgateError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var pe *PostgateError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a PostgateError.
func GetCategory(err error) ErrorCategory {
	var pe *PostgateError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a PostgateError.
func GetCode(err error) string {
	var pe *PostgateError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// GetDetails extracts the details map from an error chain.
func GetDetails(err error) map[string]interface{} {
	var pe *PostgateError
	if errors.As(err, &pe) {
		return pe.Details
	}
	return nil
}

// isRetryable reports which failures a caller may reasonably try again.
// Only transient backend and storage conditions qualify.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryBackend && code == CodeTimeout:
		return true
	case category == ErrCategoryBackend && code == CodeRequestFailed:
		return true
	case category == ErrCategoryStorage && code == CodeWriteFailed:
		return true
	case category == ErrCategoryStorage && code == CodeReadFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewInputError(code, message string) *PostgateError {
	return New(ErrCategoryInput, code, message)
}

func NewSafetyError(code, message string) *PostgateError {
	return New(ErrCategorySafety, code, message)
}

func NewBackendError(code, message string, cause error) *PostgateError {
	return Wrap(ErrCategoryBackend, code, message, cause)
}

func NewExhaustedError(attempts int) *PostgateError {
	return New(ErrCategoryExhausted, CodeNoUniquePost, "no sufficiently unique post within the attempt cap").
		WithDetails(map[string]interface{}{"attempts": attempts})
}

func NewStorageError(code, message string, cause error) *PostgateError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewConfigError(message string) *PostgateError {
	return New(ErrCategoryConfig, CodeInvalidConfig, message)
}

func NewInternalError(message string, cause error) *PostgateError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
