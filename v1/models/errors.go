package models

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies expected business failures. Every service operation
// returns one of these kinds rather than raising generic errors, so callers
// can branch without string matching.
type ErrorKind string

const (
	// ErrorKindNotFound means an authority, form, user or woodland owner is absent
	ErrorKindNotFound ErrorKind = "not_found"
	// ErrorKindPermissionDenied means the user's agency does not match the
	// authority's agency and the user is not an FC super user
	ErrorKindPermissionDenied ErrorKind = "permission_denied"
	// ErrorKindInvalidState means the operation is not allowed in the
	// authority's current lifecycle state
	ErrorKindInvalidState ErrorKind = "invalid_state"
	// ErrorKindStorageFailure means a file storage read, write or remove failed
	ErrorKindStorageFailure ErrorKind = "storage_failure"
	// ErrorKindPersistenceFailure means a database commit failed
	ErrorKindPersistenceFailure ErrorKind = "persistence_failure"
	// ErrorKindInvalidInput means the request payload failed validation
	ErrorKindInvalidInput ErrorKind = "invalid_input"
	// ErrorKindInternal covers unexpected collaborator failures converted at
	// the operation boundary
	ErrorKindInternal ErrorKind = "internal"
)

// ServiceError is the explicit failure result carried by every service
// operation. Message is short and non-sensitive; Err holds the internal
// detail and is logged, never surfaced to users.
type ServiceError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the wrapped internal error to errors.Is/As
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error kind to the status code the HTTP surface returns
func (e *ServiceError) HTTPStatus() int {
	switch e.Kind {
	case ErrorKindNotFound:
		return http.StatusNotFound
	case ErrorKindPermissionDenied:
		return http.StatusForbidden
	case ErrorKindInvalidState:
		return http.StatusConflict
	case ErrorKindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// NewNotFoundError creates a not-found failure
func NewNotFoundError(message string) *ServiceError {
	return &ServiceError{Kind: ErrorKindNotFound, Message: message}
}

// NewPermissionDeniedError creates a permission-denied failure
func NewPermissionDeniedError(message string) *ServiceError {
	return &ServiceError{Kind: ErrorKindPermissionDenied, Message: message}
}

// NewInvalidStateError creates an invalid-state failure
func NewInvalidStateError(message string) *ServiceError {
	return &ServiceError{Kind: ErrorKindInvalidState, Message: message}
}

// NewInvalidInputError creates a validation failure
func NewInvalidInputError(message string) *ServiceError {
	return &ServiceError{Kind: ErrorKindInvalidInput, Message: message}
}

// NewStorageFailureError creates a storage failure wrapping the storage error
func NewStorageFailureError(message string, err error) *ServiceError {
	return &ServiceError{Kind: ErrorKindStorageFailure, Message: message, Err: err}
}

// NewPersistenceFailureError creates a persistence failure wrapping the
// database error
func NewPersistenceFailureError(message string, err error) *ServiceError {
	return &ServiceError{Kind: ErrorKindPersistenceFailure, Message: message, Err: err}
}

// NewInternalError converts an unexpected collaborator error into a generic
// failure result
func NewInternalError(message string, err error) *ServiceError {
	return &ServiceError{Kind: ErrorKindInternal, Message: message, Err: err}
}

// IsErrorKind reports whether err is a ServiceError of the given kind
func IsErrorKind(err error, kind ErrorKind) bool {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Kind == kind
	}
	return false
}

// ErrorKindOf returns the kind of a ServiceError, or ErrorKindInternal for
// any other error
func ErrorKindOf(err error) ErrorKind {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return ErrorKindInternal
}
