// Package errors defines the categorized error taxonomy used across the
// classification engine.
//
// Errors fall into two propagation classes: fatal errors (malformed chart of
// accounts, undecodable input) abort the run and surface to the caller with a
// descriptive message and exit code; recoverable errors (classifier transport
// failures, corrupt association memory) are logged and degrade functionality
// without aborting.
package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory groups related error codes.
type ErrorCategory string

const (
	CategoryFile           ErrorCategory = "file"
	CategoryParse          ErrorCategory = "parse"
	CategoryValidation     ErrorCategory = "validation"
	CategoryConfiguration  ErrorCategory = "configuration"
	CategoryClassification ErrorCategory = "classification"
	CategoryState          ErrorCategory = "state"
	CategoryInternal       ErrorCategory = "internal"
)

// ErrorCode identifies a specific failure within a category.
type ErrorCode string

const (
	// File errors
	CodeFileNotFound   ErrorCode = "file_not_found"
	CodeFilePermission ErrorCode = "file_permission"
	CodeFileWrite      ErrorCode = "file_write"

	// Parse errors
	CodeInvalidFormat ErrorCode = "invalid_format"
	CodeEncodingError ErrorCode = "encoding_error"
	CodeDuplicateCode ErrorCode = "duplicate_code"

	// Validation errors
	CodeMissingField  ErrorCode = "missing_field"
	CodeInvalidAmount ErrorCode = "invalid_amount"
	CodeInvalidDate   ErrorCode = "invalid_date"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"

	// Classification errors (recoverable)
	CodeClassifierTransport ErrorCode = "classifier_transport"
	CodeClassifierResponse  ErrorCode = "classifier_response"

	// State errors (recoverable)
	CodeCorruptState ErrorCode = "corrupt_state"
	CodeTenantLocked ErrorCode = "tenant_locked"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// ClassifierError is the base error type for all engine errors.
type ClassifierError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context carries additional key/value information about the error.
type Context map[string]interface{}

func (e *ClassifierError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

func (e *ClassifierError) Unwrap() error {
	return e.Cause
}

// IsFatal reports whether this error must abort the run. Classification and
// state errors degrade; everything else is fatal to the operation that raised it.
func (e *ClassifierError) IsFatal() bool {
	switch e.Category {
	case CategoryClassification, CategoryState:
		return false
	default:
		return true
	}
}

// GetExitCode maps the error category to a process exit code.
func (e *ClassifierError) GetExitCode() int {
	switch e.Category {
	case CategoryFile:
		return 2
	case CategoryParse, CategoryValidation:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryState, CategoryInternal:
		return 5
	case CategoryClassification:
		return 6
	default:
		return 1
	}
}

// WithContext attaches a key/value pair to the error.
func (e *ClassifierError) WithContext(key string, value interface{}) *ClassifierError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion attaches a remediation hint to the error.
func (e *ClassifierError) WithSuggestion(suggestion string) *ClassifierError {
	e.Suggestion = suggestion
	return e
}

// New creates a ClassifierError with a captured stack trace.
func New(category ErrorCategory, code ErrorCode, message string) *ClassifierError {
	return &ClassifierError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with category and code context.
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ClassifierError {
	if err == nil {
		return nil
	}
	return &ClassifierError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// FileError creates a file-related error for the given path.
func FileError(code ErrorCode, path string, err error) *ClassifierError {
	var message, suggestion string

	switch code {
	case CodeFileNotFound:
		message = fmt.Sprintf("file not found: %s", path)
		suggestion = "check if the file path is correct and the file exists"
	case CodeFilePermission:
		message = fmt.Sprintf("permission denied accessing file: %s", path)
		suggestion = "check file permissions and ensure you have access"
	case CodeFileWrite:
		message = fmt.Sprintf("failed to write file: %s", path)
		suggestion = "ensure the target directory exists and is writable"
	default:
		message = fmt.Sprintf("file error: %s", path)
		suggestion = "check the file and try again"
	}

	result := wrapOrNew(err, CategoryFile, code, message)
	return result.
		WithSuggestion(suggestion).
		WithContext("file_path", path)
}

// FormatError creates a fatal parse error for malformed input. Line is 1-based;
// zero means the line is unknown or not applicable.
func FormatError(source string, line int, detail string) *ClassifierError {
	message := fmt.Sprintf("invalid format in %s", source)
	if line > 0 {
		message = fmt.Sprintf("invalid format in %s at line %d", source, line)
	}
	if detail != "" {
		message = fmt.Sprintf("%s: %s", message, detail)
	}

	return New(CategoryParse, CodeInvalidFormat, message).
		WithSuggestion("check the input format against the expected structure").
		WithContext("source", source).
		WithContext("line", line)
}

// EncodingError creates a fatal error for a source that none of the configured
// text encodings could decode.
func EncodingError(source string, encodings []string, err error) *ClassifierError {
	message := fmt.Sprintf("unable to decode %s with any configured encoding (%s)",
		source, strings.Join(encodings, ", "))

	return wrapOrNew(err, CategoryParse, CodeEncodingError, message).
		WithSuggestion("save the file in UTF-8 encoding and try again").
		WithContext("source", source).
		WithContext("encodings", encodings)
}

// ClassificationError creates a recoverable error for a failed fallback
// classification attempt. The pipeline leaves the affected batch unresolved.
func ClassificationError(code ErrorCode, detail string, err error) *ClassifierError {
	var message, suggestion string

	switch code {
	case CodeClassifierTransport:
		message = fmt.Sprintf("classifier request failed: %s", detail)
		suggestion = "check connectivity and the classifier endpoint; unresolved items will be retried on the next run"
	case CodeClassifierResponse:
		message = fmt.Sprintf("classifier response unusable: %s", detail)
		suggestion = "the batch degrades to unresolved; inspect the response if this persists"
	default:
		message = fmt.Sprintf("classification error: %s", detail)
		suggestion = "unresolved items remain unclassified for this run"
	}

	return wrapOrNew(err, CategoryClassification, code, message).
		WithSuggestion(suggestion)
}

// StateError creates a recoverable error for unreadable persisted state.
func StateError(code ErrorCode, path string, err error) *ClassifierError {
	var message, suggestion string

	switch code {
	case CodeCorruptState:
		message = fmt.Sprintf("association memory is corrupt: %s", path)
		suggestion = "the store was reset to empty; previous associations must be re-learned"
	case CodeTenantLocked:
		message = fmt.Sprintf("tenant state is locked by another run: %s", path)
		suggestion = "wait for the concurrent run to finish or remove a stale lock file"
	default:
		message = fmt.Sprintf("state error: %s", path)
		suggestion = "inspect the persisted state files"
	}

	return wrapOrNew(err, CategoryState, code, message).
		WithSuggestion(suggestion).
		WithContext("path", path)
}

// ConfigurationError creates an error for an invalid or missing setting.
func ConfigurationError(code ErrorCode, setting string, value interface{}) *ClassifierError {
	var message, suggestion string

	switch code {
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this setting via flag, environment, or config file"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	return New(CategoryConfiguration, code, message).
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

func wrapOrNew(err error, category ErrorCategory, code ErrorCode, message string) *ClassifierError {
	if err != nil {
		return Wrap(err, category, code, message)
	}
	return New(category, code, message)
}

// IsClassifierError checks if an error is a ClassifierError.
func IsClassifierError(err error) bool {
	_, ok := err.(*ClassifierError)
	return ok
}

// AsClassifierError extracts a ClassifierError from an error chain.
func AsClassifierError(err error) (*ClassifierError, bool) {
	var classifierErr *ClassifierError
	if errors.As(err, &classifierErr) {
		return classifierErr, true
	}
	return nil, false
}

// HasCode reports whether err carries the given error code.
func HasCode(err error, code ErrorCode) bool {
	if classifierErr, ok := AsClassifierError(err); ok {
		return classifierErr.Code == code
	}
	return false
}
