package errors

import (
	"errors"
	"fmt"
)

// DocError is the structured error type for docchat.
// Callers branch on Code through errors.Is against a sentinel of the same code.
type DocError struct {
	// Code is the unique error code (e.g., "ERR_407_EMPTY_DOCUMENT").
	Code string

	// Message is the human-readable error message.
	Message string

	Category Category
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

// Sentinels for errors.Is checks. Matching is by code only.
var (
	ErrInvalidConfiguration = &DocError{Code: ErrCodeInvalidConfiguration}
	ErrEmptyDocument        = &DocError{Code: ErrCodeEmptyDocument}
	ErrEmptyInput           = &DocError{Code: ErrCodeEmptyInput}
	ErrEmbedding            = &DocError{Code: ErrCodeEmbeddingFailed}
	ErrGeneration           = &DocError{Code: ErrCodeGenerationFailed}
	ErrIndexLoad            = &DocError{Code: ErrCodeIndexLoad}
	ErrUnsupportedDocument  = &DocError{Code: ErrCodeUnsupportedDocument}
	ErrSessionActive        = &DocError{Code: ErrCodeSessionActive}
	ErrIngestActive         = &DocError{Code: ErrCodeIngestActive}
	ErrInvalidInput         = &DocError{Code: ErrCodeInvalidInput}
)

// Error implements the error interface.
func (e *DocError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *DocError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
func (e *DocError) Is(target error) bool {
	if t, ok := target.(*DocError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *DocError) WithDetail(key, value string) *DocError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *DocError) WithSuggestion(suggestion string) *DocError {
	e.Suggestion = suggestion
	return e
}

// New creates a new DocError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *DocError {
	return &DocError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a DocError from an existing error.
// The error's message becomes the DocError message.
func Wrap(code string, err error) *DocError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// InvalidConfiguration reports unusable chunking or process configuration.
func InvalidConfiguration(message string) *DocError {
	return New(ErrCodeInvalidConfiguration, message, nil).
		WithSuggestion("Check chunking.chunk_size and chunking.chunk_overlap (overlap must be smaller than size)")
}

// EmptyDocument reports a document that produced no indexable text.
func EmptyDocument(message string) *DocError {
	return New(ErrCodeEmptyDocument, message, nil).
		WithSuggestion("Upload a document with extractable text (scanned PDFs need OCR first)")
}

// EmptyInput reports an attempt to build an index from zero chunks.
func EmptyInput(message string) *DocError {
	return New(ErrCodeEmptyInput, message, nil)
}

// EmbeddingError wraps a failure of the embedding backend.
func EmbeddingError(message string, cause error) *DocError {
	return New(ErrCodeEmbeddingFailed, message, cause).
		WithSuggestion("Check that the embedding backend is running, or use --offline")
}

// GenerationError wraps a failure of the generation backend.
func GenerationError(message string, cause error) *DocError {
	return New(ErrCodeGenerationFailed, message, cause).
		WithSuggestion("Check that the language model backend is running, or use --offline")
}

// IndexLoadError describes a stored corpus that could not be loaded.
func IndexLoadError(path string, cause error) *DocError {
	return New(ErrCodeIndexLoad, "stored index could not be loaded", cause).
		WithDetail("path", path)
}

// HistoryStoreError reports a history database that cannot be opened or created.
func HistoryStoreError(path string, cause error) *DocError {
	return New(ErrCodeHistoryStore, "history database is unavailable", cause).
		WithDetail("path", path).
		WithSuggestion("Check that the data directory is writable, or set DOCCHAT_DATA_DIR")
}

// UnsupportedDocument reports a document whose format cannot be extracted.
func UnsupportedDocument(name string) *DocError {
	return New(ErrCodeUnsupportedDocument, fmt.Sprintf("unsupported document: %s", name), nil).
		WithSuggestion("Upload a PDF or a UTF-8 text file")
}

// SessionActive reports a stream request for an id that is still streaming.
func SessionActive(id string) *DocError {
	return New(ErrCodeSessionActive, "session is already streaming", nil).
		WithDetail("session_id", id)
}

// IngestActive reports an ingestion request while another one is running.
func IngestActive(document string) *DocError {
	return New(ErrCodeIngestActive, "another document is being ingested", nil).
		WithDetail("document", document).
		WithSuggestion("Wait for the current ingestion to finish (see /api/pdf/status)")
}

// NetworkError creates a network-related error.
// Network errors are retryable.
func NetworkError(message string, cause error) *DocError {
	return New(ErrCodeNetworkUnavailable, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *DocError {
	return New(ErrCodeInvalidInput, message, cause)
}

// ConfigError creates a configuration-file error.
func ConfigError(message string, cause error) *DocError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *DocError {
	return New(ErrCodeInternal, message, cause)
}

// As returns the outermost DocError in err's chain.
func As(err error) (*DocError, bool) {
	var de *DocError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if de, ok := As(err); ok {
		return de.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	if de, ok := As(err); ok {
		return de.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a DocError.
// Returns empty string if err carries none.
func GetCode(err error) string {
	if de, ok := As(err); ok {
		return de.Code
	}
	return ""
}

// GetCategory extracts the category from a DocError.
func GetCategory(err error) Category {
	if de, ok := As(err); ok {
		return de.Category
	}
	return ""
}
