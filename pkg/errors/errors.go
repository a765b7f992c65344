package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrValidation
	ErrInvalidTransition
	ErrEmptyQueue
	ErrCabinOccupied
	ErrConflict
	ErrTooEarly
	ErrUnauthorized
	ErrStorage
	ErrInternal
)

// StatusCode maps an error code to the HTTP status surfaced by the
// error middleware.
func (e *AppError) StatusCode() int {
	switch e.Code {
	case ErrNotFound, ErrEmptyQueue:
		return http.StatusNotFound
	case ErrValidation:
		return http.StatusBadRequest
	case ErrInvalidTransition, ErrCabinOccupied, ErrConflict:
		return http.StatusConflict
	case ErrTooEarly:
		return http.StatusTooEarly
	case ErrUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewValidation(message string, err error) *AppError {
	return &AppError{
		Code:    ErrValidation,
		Message: message,
		Err:     err,
	}
}

func NewInvalidTransition(from, to string) *AppError {
	return &AppError{
		Code:    ErrInvalidTransition,
		Message: fmt.Sprintf("invalid transition from %s to %s", from, to),
	}
}

func NewEmptyQueue(scope string) *AppError {
	return &AppError{
		Code:    ErrEmptyQueue,
		Message: fmt.Sprintf("no waiting patients in %s", scope),
	}
}

func NewCabinOccupied(cabin string) *AppError {
	return &AppError{
		Code:    ErrCabinOccupied,
		Message: fmt.Sprintf("cabin %s is already occupied", cabin),
	}
}

func NewConflict(message string) *AppError {
	return &AppError{
		Code:    ErrConflict,
		Message: message,
	}
}

func NewTooEarly(message string) *AppError {
	return &AppError{
		Code:    ErrTooEarly,
		Message: message,
	}
}

func NewUnauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

func NewStorage(err error) *AppError {
	return &AppError{
		Code:    ErrStorage,
		Message: "storage failure",
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

// StatusCode resolves the HTTP status for any error; values outside
// the AppError taxonomy map to 500.
func StatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode()
	}
	return http.StatusInternalServerError
}

// Is reports whether err carries the given error code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
