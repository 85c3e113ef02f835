// Package errors defines the coded error taxonomy used across the
// ingestion service.
//
// Every failure surfaced to a caller is an *IngestError carrying a
// category, a stable machine-readable code, optional context values and
// a human suggestion. Nothing in this package (or anything built on it)
// terminates the process; errors are returned, classified and rendered
// by the caller.
package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory groups error codes by subsystem.
type ErrorCategory string

const (
	CategoryFile          ErrorCategory = "file"
	CategoryParse         ErrorCategory = "parse"
	CategoryValidation    ErrorCategory = "validation"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryIngestion     ErrorCategory = "ingestion"
	CategoryLedger        ErrorCategory = "ledger"
	CategoryInternal      ErrorCategory = "internal"
)

// ErrorCode identifies a specific failure within a category.
type ErrorCode string

const (
	// File errors
	CodeFileNotFound   ErrorCode = "file_not_found"
	CodeFilePermission ErrorCode = "file_permission"
	CodeFileCorrupted  ErrorCode = "file_corrupted"

	// Parse errors
	CodeUnreadableInput  ErrorCode = "unreadable_input"
	CodeEncodingError    ErrorCode = "encoding_error"
	CodeRowCountMismatch ErrorCode = "row_count_mismatch"

	// Validation errors
	CodeFieldCoercion     ErrorCode = "field_coercion"
	CodeMissingField      ErrorCode = "missing_field"
	CodeInvalidTransition ErrorCode = "invalid_transition"

	// Configuration errors
	CodeConfigurationNotFound ErrorCode = "configuration_not_found"
	CodeInvalidConfig         ErrorCode = "invalid_config"

	// Ingestion errors
	CodeBatchAborted ErrorCode = "batch_aborted"

	// Ledger errors
	CodeLedgerWriteFailed ErrorCode = "ledger_write_failed"
	CodeLedgerReadFailed  ErrorCode = "ledger_read_failed"
	CodeRecordNotFound    ErrorCode = "record_not_found"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// IngestError is the base error type for all application errors.
type IngestError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error.
type Context map[string]interface{}

// Error implements the error interface.
func (e *IngestError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error.
func (e *IngestError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns an appropriate process exit code for the error.
func (e *IngestError) GetExitCode() int {
	switch e.Category {
	case CategoryFile:
		return 2
	case CategoryParse, CategoryValidation:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryIngestion, CategoryInternal:
		return 5
	case CategoryLedger:
		return 6
	default:
		return 1
	}
}

// WithContext adds a context value to the error.
func (e *IngestError) WithContext(key string, value interface{}) *IngestError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error.
func (e *IngestError) WithSuggestion(suggestion string) *IngestError {
	e.Suggestion = suggestion
	return e
}

// New creates a new IngestError.
func New(category ErrorCategory, code ErrorCode, message string) *IngestError {
	return &IngestError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with IngestError context.
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *IngestError {
	if err == nil {
		return nil
	}

	return &IngestError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// stackTracer interface for extracting stack traces.
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// Specific error constructors

// ConfigurationNotFound reports an unknown institution key. Fatal to the
// request, not the process.
func ConfigurationNotFound(key string) *IngestError {
	return New(CategoryConfiguration, CodeConfigurationNotFound,
		fmt.Sprintf("no mapping configured for institution '%s'", key)).
		WithSuggestion("check the institution key against the mappings file").
		WithContext("institution", key)
}

// UnreadableInput reports a file that cannot be parsed at all. Fatal to
// the batch; nothing is written.
func UnreadableInput(source string, err error) *IngestError {
	return Wrap(err, CategoryParse, CodeUnreadableInput,
		fmt.Sprintf("cannot parse input from %s", source)).
		WithSuggestion("verify the file is a UTF-8 encoded CSV export").
		WithContext("source", source)
}

// RowCountMismatch reports divergence between the parse pass and the
// fingerprint pass. Recoverable; the caller truncates to the shorter
// sequence.
func RowCountMismatch(parsed, fingerprinted int) *IngestError {
	return New(CategoryParse, CodeRowCountMismatch,
		fmt.Sprintf("parsed %d rows but fingerprinted %d lines", parsed, fingerprinted)).
		WithSuggestion("inspect the file for quoted multi-line fields or stray blank lines").
		WithContext("rows_parsed", parsed).
		WithContext("lines_fingerprinted", fingerprinted)
}

// FieldCoercion reports a per-field coercion failure. Non-fatal; the
// field degrades to null or a raw fallback.
func FieldCoercion(field, value string, err error) *IngestError {
	return Wrap(err, CategoryValidation, CodeFieldCoercion,
		fmt.Sprintf("cannot coerce field '%s' from value '%s'", field, value)).
		WithSuggestion("the row is retained; repair the value in the ledger manually").
		WithContext("field", field).
		WithContext("value", value)
}

// LedgerWriteFailed reports a failed append to the backing ledger. Fatal
// to the batch; reserved fingerprints must be released.
func LedgerWriteFailed(backend string, err error) *IngestError {
	return Wrap(err, CategoryLedger, CodeLedgerWriteFailed,
		fmt.Sprintf("ledger append failed on %s backend", backend)).
		WithSuggestion("the batch was not recorded; retrying the upload is safe").
		WithContext("backend", backend)
}

// RecordNotFound reports a review-state update against an unknown
// fingerprint.
func RecordNotFound(fingerprint string) *IngestError {
	return New(CategoryLedger, CodeRecordNotFound,
		fmt.Sprintf("no ledger record holds fingerprint %s", fingerprint)).
		WithSuggestion("the record may not have been ingested yet").
		WithContext("fingerprint", fingerprint)
}

// InvalidTransition reports an attempt to move a terminal record to a
// different terminal review state.
func InvalidTransition(fingerprint string, from, to string) *IngestError {
	return New(CategoryValidation, CodeInvalidTransition,
		fmt.Sprintf("record %s is already %s and cannot become %s", fingerprint, from, to)).
		WithContext("fingerprint", fingerprint).
		WithContext("from", from).
		WithContext("to", to)
}

// FileError creates a file-related error.
func FileError(code ErrorCode, path string, err error) *IngestError {
	var message, suggestion string

	switch code {
	case CodeFileNotFound:
		message = fmt.Sprintf("file not found: %s", path)
		suggestion = "check if the file path is correct and the file exists"
	case CodeFilePermission:
		message = fmt.Sprintf("permission denied accessing file: %s", path)
		suggestion = "check file permissions and ensure you have read access"
	case CodeFileCorrupted:
		message = fmt.Sprintf("file appears to be corrupted: %s", path)
		suggestion = "verify the file integrity and try using a fresh export"
	default:
		message = fmt.Sprintf("file error: %s", path)
		suggestion = "check the file and try again"
	}

	var result *IngestError
	if err != nil {
		result = Wrap(err, CategoryFile, code, message)
	} else {
		result = New(CategoryFile, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("file_path", path)
}

// InternalError creates an internal error.
func InternalError(operation string, err error) *IngestError {
	return Wrap(err, CategoryInternal, CodeUnexpectedError,
		fmt.Sprintf("unexpected error during %s", operation)).
		WithSuggestion("this is likely a bug - please report it with the error details").
		WithContext("operation", operation)
}

// Utility functions

// IsIngestError checks if an error is an *IngestError.
func IsIngestError(err error) bool {
	_, ok := err.(*IngestError)
	return ok
}

// AsIngestError extracts an *IngestError from an error chain.
func AsIngestError(err error) (*IngestError, bool) {
	var ingestErr *IngestError
	if errors.As(err, &ingestErr) {
		return ingestErr, true
	}
	return nil, false
}

// HasCode reports whether err carries the given error code.
func HasCode(err error, code ErrorCode) bool {
	if ie, ok := AsIngestError(err); ok {
		return ie.Code == code
	}
	return false
}

// WrapIfNeeded wraps an error if it's not already an *IngestError.
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *IngestError {
	if err == nil {
		return nil
	}

	if ingestErr, ok := AsIngestError(err); ok {
		return ingestErr
	}

	return Wrap(err, category, code, message)
}

// Summary aggregates multiple errors for reporting.
type Summary struct {
	Total      int                   `json:"total"`
	ByCategory map[ErrorCategory]int `json:"by_category"`
	ByCode     map[ErrorCode]int     `json:"by_code"`
	Errors     []*IngestError        `json:"errors"`
}

// NewSummary creates a summary over the given errors.
func NewSummary(errs []*IngestError) *Summary {
	summary := &Summary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}

	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}

	return summary
}

// Error returns a formatted message for the summary.
func (s *Summary) Error() string {
	if s.Total == 0 {
		return "no errors"
	}
	if s.Total == 1 {
		return s.Errors[0].Error()
	}

	var categories []string
	for category, count := range s.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}
	return fmt.Sprintf("%d errors occurred (%s)", s.Total, strings.Join(categories, ", "))
}

// HasCategory checks if the summary contains errors of the given category.
func (s *Summary) HasCategory(category ErrorCategory) bool {
	return s.ByCategory[category] > 0
}
