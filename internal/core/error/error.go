package errx

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage describes a missing Redis key.
	RedisNotFoundMessage = "record not found"
	// StoreErrorMessage describes database failures.
	StoreErrorMessage = "store operation failed"
)

// Sentinel errors for the approval and execution lifecycle. Callers match
// them with errors.Is through any AppError wrapping.
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyResolved = errors.New("approval already resolved")
	ErrInvalidApproval = errors.New("invalid approval state")
)

// AppError wraps an underlying error with an HTTP status and safe message.
type AppError struct {
	Err     error
	Status  int
	Message string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the provided information.
func New(err error, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Status:  status,
		Message: message,
	}
}

// NotFound wraps ErrNotFound with a resource-specific message.
func NotFound(message string) *AppError {
	return New(ErrNotFound, http.StatusNotFound, message)
}

// AlreadyResolved wraps ErrAlreadyResolved for a specific approval.
func AlreadyResolved(approvalID string) *AppError {
	return New(ErrAlreadyResolved, http.StatusConflict, fmt.Sprintf("approval %s is already resolved", approvalID))
}

// InvalidApproval wraps ErrInvalidApproval with a reason.
func InvalidApproval(reason string) *AppError {
	return New(ErrInvalidApproval, http.StatusBadRequest, reason)
}

// StatusOf extracts the HTTP status carried by an error chain, defaulting to 500.
func StatusOf(err error) int {
	var app *AppError
	if errors.As(err, &app) && app.Status != 0 {
		return app.Status
	}
	return http.StatusInternalServerError
}

// Is reports whether the target matches the underlying error or the AppError itself.
func (e *AppError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// As allows casting to AppError or the wrapped error in a chain.
func (e *AppError) As(target any) bool {
	if errors.As(e.Err, target) {
		return true
	}
	if t, ok := target.(**AppError); ok {
		*t = e
		return true
	}
	return false
}
