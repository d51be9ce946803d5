// Package errors provides structured error handling for the editor service.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Codec errors
	CodeUnsupportedFormat Code = "UNSUPPORTED_FORMAT"
	CodeCorruptDocument   Code = "CORRUPT_DOCUMENT"

	// Store errors
	CodeNotFound Code = "NOT_FOUND"

	// Boundary errors
	CodeInvalidArgument   Code = "INVALID_ARGUMENT"
	CodeUnauthenticated   Code = "UNAUTHENTICATED"
	CodeResourceExhausted Code = "RESOURCE_EXHAUSTED"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// BadRequest - rejected at the boundary before any work is done
	case CodeUnsupportedFormat,
		CodeInvalidArgument:
		return http.StatusBadRequest

	// UnprocessableEntity - payload was accepted but cannot be parsed
	case CodeCorruptDocument:
		return http.StatusUnprocessableEntity

	case CodeNotFound:
		return http.StatusNotFound

	case CodeUnauthenticated:
		return http.StatusUnauthorized

	case CodeResourceExhausted:
		return http.StatusRequestEntityTooLarge

	default:
		return http.StatusInternalServerError
	}
}
