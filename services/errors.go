package services

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies service failures so controllers can map them to HTTP
// statuses without string matching.
type ErrorKind int

const (
	KindNotFound ErrorKind = iota
	KindValidation
	KindInvalidOperation
	KindForbidden
	KindConflict
	KindDependency
)

// AppError is the error type returned by every service operation that fails
// for a domain reason. Infrastructure errors are wrapped as KindDependency.
type AppError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// Status maps the error kind to an HTTP status code.
func (e *AppError) Status() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindInvalidOperation:
		return http.StatusUnprocessableEntity
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func NotFound(msg string) *AppError         { return &AppError{Kind: KindNotFound, Message: msg} }
func Validation(msg string) *AppError       { return &AppError{Kind: KindValidation, Message: msg} }
func InvalidOperation(msg string) *AppError { return &AppError{Kind: KindInvalidOperation, Message: msg} }
func Forbidden(msg string) *AppError        { return &AppError{Kind: KindForbidden, Message: msg} }
func Conflict(msg string) *AppError         { return &AppError{Kind: KindConflict, Message: msg} }

// Dependency wraps an infrastructure failure (database, cache, mail relay).
func Dependency(msg string, err error) *AppError {
	return &AppError{Kind: KindDependency, Message: msg, Err: err}
}

// AsAppError extracts an *AppError from err, or wraps err as a dependency
// failure with a generic message.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Dependency("internal error", err)
}
