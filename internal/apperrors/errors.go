package apperrors

import (
	"errors"
	"fmt"
)

// Code identifies a failure class that crosses component boundaries.
// Retryability is decided here, at the taxonomy level, so callers never
// have to inspect error messages.
type Code string

const (
	CodeInvalidQuery        Code = "INVALID_QUERY"
	CodeEmbeddingFailed     Code = "EMBEDDING_FAILED"
	CodeSearchFailed        Code = "SEARCH_FAILED"
	CodeContextBuildFailed  Code = "CONTEXT_BUILD_FAILED"
	CodeGenerationFailed    Code = "GENERATION_FAILED"
	CodeLLMError            Code = "LLM_ERROR"
	CodeRerankFailed        Code = "RERANK_FAILED"
	CodeExtractionFailed    Code = "EXTRACTION_FAILED"
	CodeChunkingFailed      Code = "CHUNKING_FAILED"
	CodeStorageFailed       Code = "STORAGE_FAILED"
	CodeStorageError        Code = "STORAGE_ERROR"
	CodeUnsupportedMimeType Code = "UNSUPPORTED_MIME_TYPE"
	CodeEncryptedPDF        Code = "ENCRYPTED_PDF"
	CodeInvalidPDF          Code = "INVALID_PDF"
	CodeEmptyFile           Code = "EMPTY_FILE"
	CodeEmptyContent        Code = "EMPTY_CONTENT"
	CodeParseError          Code = "PARSE_ERROR"
	CodeNotFound            Code = "NOT_FOUND"
	CodeCancelled           Code = "CANCELLED"
)

// retryable lists codes whose failures are worth another attempt at the
// job level. Everything absent is terminal.
var retryable = map[Code]bool{
	CodeEmbeddingFailed:  true,
	CodeSearchFailed:     true,
	CodeStorageFailed:    true,
	CodeStorageError:     true,
	CodeGenerationFailed: true,
	CodeLLMError:         true,
}

// Error is the tagged error type used at component boundaries.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a tagged error with a message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Newf creates a tagged error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags an underlying error with a code and message.
func Wrap(code Code, msg string, err error) *Error {
	return &Error{Code: code, Msg: msg, Err: err}
}

// CodeOf extracts the taxonomy code from err, or "" when err is untagged.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsRetryable reports whether err should be retried at the job level.
// Untagged errors default to retryable so transient infrastructure
// failures are not silently dropped.
func IsRetryable(err error) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return retryable[ae.Code]
	}
	return true
}

// UserMessage returns a string safe to show outside the service. Tagged
// errors expose their message, untagged errors only a generic note.
func UserMessage(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Msg
	}
	return "internal error"
}
