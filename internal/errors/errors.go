package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a scrapflow error code.
type ErrorCode string

const (
	ErrInvalidRequest         ErrorCode = "INVALID_REQUEST"         // 400
	ErrNotFound               ErrorCode = "NOT_FOUND"               // 404
	ErrStorageUnavailable     ErrorCode = "STORAGE_UNAVAILABLE"     // 503
	ErrRecognitionUnavailable ErrorCode = "RECOGNITION_UNAVAILABLE" // 503
	ErrFileNotFound           ErrorCode = "FILE_NOT_FOUND"          // 404
	ErrCancelled              ErrorCode = "CANCELLED"               // 499
	ErrInternal               ErrorCode = "INTERNAL"                // 500

	// Log-only codes. These are attached to log records and never returned.
	ErrMigrationWarning ErrorCode = "MIGRATION_WARNING"
	ErrCountDriftRisk   ErrorCode = "COUNT_DRIFT_RISK"
)

// ScrapError represents a structured error with code, status, and details.
type ScrapError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	cause   error
}

// Error implements the error interface.
func (e *ScrapError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *ScrapError) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for missing or malformed input.
func NewInvalidRequest(msg string) *ScrapError {
	return &ScrapError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for when a scrap cannot be found.
func NewNotFound(identifier string) *ScrapError {
	return &ScrapError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("scrap not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewCategoryNotFound creates a 400 error for a scrap that names an unknown category.
func NewCategoryNotFound(name string) *ScrapError {
	return &ScrapError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: fmt.Sprintf("category does not exist: %s", name),
		Details: map[string]any{"category": name},
	}
}

// NewFileNotFound creates a 404 error for a missing import file or image.
func NewFileNotFound(path string) *ScrapError {
	return &ScrapError{
		Code:    ErrFileNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewCancelled creates a 499 error for an operation stopped by its caller.
func NewCancelled(operation string) *ScrapError {
	return &ScrapError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", operation),
		Details: map[string]any{"operation": operation},
	}
}

// NewStorageUnavailable creates a 503 error when the database cannot be opened or created.
func NewStorageUnavailable(err error) *ScrapError {
	msg := "storage unavailable"
	if err != nil {
		msg = fmt.Sprintf("storage unavailable: %v", err)
	}
	return &ScrapError{
		Code:    ErrStorageUnavailable,
		Status:  503,
		Message: msg,
		cause:   err,
	}
}

// NewRecognitionUnavailable creates a 503 error when no recognition engine could be started.
func NewRecognitionUnavailable(err error) *ScrapError {
	msg := "text recognition unavailable"
	if err != nil {
		msg = fmt.Sprintf("text recognition unavailable: %v", err)
	}
	return &ScrapError{
		Code:    ErrRecognitionUnavailable,
		Status:  503,
		Message: msg,
		cause:   err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *ScrapError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &ScrapError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// Is checks if an error is (or wraps) a ScrapError with the given code.
func Is(err error, code ErrorCode) bool {
	var sErr *ScrapError
	if stderrors.As(err, &sErr) {
		return sErr.Code == code
	}
	return false
}

// CodeOf returns the code of a ScrapError, or ErrInternal for any other error.
func CodeOf(err error) ErrorCode {
	var sErr *ScrapError
	if stderrors.As(err, &sErr) {
		return sErr.Code
	}
	return ErrInternal
}
