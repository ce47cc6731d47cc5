package apperror

import (
	"errors"
	"net/http"
)

type Error struct {
	Code       string
	Message    string
	StatusCode int
	Internal   error
	Retryable  bool // Whether the operation can be retried
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Internal
}

// The seven error kinds the pipeline distinguishes. Transient is the only
// one retryable by default; a caller may still override with WithRetryable.
var (
	ErrInvalidInput = &Error{
		Code:       "invalid_input",
		Message:    "The request is malformed or fails validation",
		StatusCode: http.StatusBadRequest,
	}

	ErrNotFound = &Error{
		Code:       "not_found",
		Message:    "The requested resource was not found",
		StatusCode: http.StatusNotFound,
	}

	ErrUnauthorised = &Error{
		Code:       "unauthorised",
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrForbidden = &Error{
		Code:       "forbidden",
		Message:    "You don't have permission to access this resource",
		StatusCode: http.StatusForbidden,
	}

	ErrConflict = &Error{
		Code:       "conflict",
		Message:    "The request conflicts with the current state of the resource",
		StatusCode: http.StatusConflict,
	}

	// ErrTransient marks a failure a caller should retry: a dependency
	// blipped, not the request itself being wrong.
	ErrTransient = &Error{
		Code:       "transient",
		Message:    "A dependency is temporarily unavailable, retry",
		StatusCode: http.StatusServiceUnavailable,
		Retryable:  true,
	}

	// ErrFatal marks a failure that will never succeed on retry: route
	// straight to the dead-letter queue instead of requeueing.
	ErrFatal = &Error{
		Code:       "fatal",
		Message:    "The operation failed permanently",
		StatusCode: http.StatusUnprocessableEntity,
	}

	ErrFileTooLarge = &Error{
		Code:       "file_too_large",
		Message:    "The uploaded chunk exceeds the maximum allowed size",
		StatusCode: http.StatusRequestEntityTooLarge,
	}

	ErrRateLimited = &Error{
		Code:       "rate_limited",
		Message:    "Too many requests. Please try again later",
		StatusCode: http.StatusTooManyRequests,
	}

	ErrInternal = &Error{
		Code:       "internal_error",
		Message:    "An unexpected error occurred. Please try again later",
		StatusCode: http.StatusInternalServerError,
	}

	ErrServiceUnavailable = &Error{
		Code:       "service_unavailable",
		Message:    "Service temporarily unavailable. Please try again later",
		StatusCode: http.StatusServiceUnavailable,
	}
)

func New(code, message string, statusCode int) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Wrap(err error, appErr *Error) *Error {
	return &Error{
		Code:       appErr.Code,
		Message:    appErr.Message,
		StatusCode: appErr.StatusCode,
		Internal:   err,
	}
}

func WrapWithMessage(err error, code, message string, statusCode int) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Internal:   err,
	}
}

func Is(err error, target *Error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

func StatusCode(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

func SafeMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return ErrInternal.Message
}

func Code(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal.Code
}

// IsRetryable returns whether the error indicates the operation can be retried
func IsRetryable(err error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	// By default, unknown errors are considered retryable
	return true
}

// WithRetryable creates a new error with the retryable flag set
func WithRetryable(err *Error, retryable bool) *Error {
	return &Error{
		Code:       err.Code,
		Message:    err.Message,
		StatusCode: err.StatusCode,
		Internal:   err.Internal,
		Retryable:  retryable,
	}
}
