package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes for the analysis pipeline taxonomy.
const (
	// Fatal to the run
	CodeContextError = "CONTEXT_ERROR" // user/identity resolution failed
	CodeSourceError  = "SOURCE_ERROR"  // fetch failed after retries exhausted

	// Retryable
	CodeRateLimited = "RATE_LIMITED"

	// Non-fatal, per-item degradations
	CodeParseError    = "PARSE_ERROR"
	CodeAnalysisError = "ANALYSIS_ERROR"
	CodeCacheError    = "CACHE_ERROR"

	// Generic
	CodeBadRequest    = "BAD_REQUEST"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeInternalError = "INTERNAL_ERROR"
	CodeTimeout       = "TIMEOUT"
)

// AppError represents a structured application error
type AppError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Status    int            `json:"-"`
	Retryable bool           `json:"-"`
	Details   map[string]any `json:"details,omitempty"`
	Err       error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Constructor functions
func New(code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

func Wrap(err error, code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status, Err: err}
}

// ContextError signals a fatal user-context resolution failure.
func ContextError(message string, err error) *AppError {
	return &AppError{
		Code:    CodeContextError,
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     err,
	}
}

// SourceError signals a mail-source failure. Retryable until retries are
// exhausted, at which point it becomes the run's fatal error.
func SourceError(message string, err error) *AppError {
	return &AppError{
		Code:      CodeSourceError,
		Message:   message,
		Status:    http.StatusBadGateway,
		Retryable: true,
		Err:       err,
	}
}

// RateLimited signals a 429/quota-style provider response.
func RateLimited(service string, err error) *AppError {
	return &AppError{
		Code:      CodeRateLimited,
		Message:   fmt.Sprintf("rate limited by %s", service),
		Status:    http.StatusTooManyRequests,
		Retryable: true,
		Details:   map[string]any{"service": service},
		Err:       err,
	}
}

func ParseError(recordID string, err error) *AppError {
	return &AppError{
		Code:    CodeParseError,
		Message: fmt.Sprintf("failed to parse record %s", recordID),
		Status:  http.StatusUnprocessableEntity,
		Details: map[string]any{"record_id": recordID},
		Err:     err,
	}
}

func AnalysisError(stage string, err error) *AppError {
	return &AppError{
		Code:    CodeAnalysisError,
		Message: fmt.Sprintf("%s analysis failed", stage),
		Status:  http.StatusInternalServerError,
		Details: map[string]any{"stage": stage},
		Err:     err,
	}
}

func CacheError(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeCacheError,
		Message: fmt.Sprintf("cache %s failed", operation),
		Status:  http.StatusInternalServerError,
		Details: map[string]any{"operation": operation},
		Err:     err,
	}
}

func BadRequest(message string) *AppError {
	return &AppError{Code: CodeBadRequest, Message: message, Status: http.StatusBadRequest}
}

func Unauthorized(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return &AppError{Code: CodeUnauthorized, Message: message, Status: http.StatusUnauthorized}
}

func Internal(err error) *AppError {
	return &AppError{
		Code:    CodeInternalError,
		Message: "internal server error",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func Timeout(operation string) *AppError {
	return &AppError{
		Code:    CodeTimeout,
		Message: fmt.Sprintf("operation timed out: %s", operation),
		Status:  http.StatusGatewayTimeout,
	}
}

// Helper functions
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}

// IsRetryable reports whether the error is worth retrying with backoff.
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// IsRateLimited reports whether the error is a quota/throttle response.
func IsRateLimited(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == CodeRateLimited
}

func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
