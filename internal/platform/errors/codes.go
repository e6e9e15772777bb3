// Package errors provides structured, machine-readable errors for the
// phonebook API surface.
package errors

import "net/http"

// Code is a machine-readable error kind.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Auth errors
	CodeUnauthenticated    Code = "UNAUTHENTICATED"
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeTokenInvalid       Code = "TOKEN_INVALID"

	// Request errors
	CodeBadRequest       Code = "BAD_REQUEST"
	CodeValidationFailed Code = "VALIDATION_FAILED"
	CodeInternal         Code = "INTERNAL"
)

// HTTPStatus maps error kinds to the status used when a failure aborts the
// whole request instead of a single field.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeUnauthenticated, CodeInvalidCredentials, CodeTokenInvalid:
		return http.StatusUnauthorized
	case CodeBadRequest, CodeValidationFailed:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
