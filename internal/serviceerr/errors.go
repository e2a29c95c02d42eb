package serviceerr

import "net/http"

type Code string

const (
	CodeInvalidRequest         Code = "invalid_request"
	CodeUnauthorized           Code = "unauthorized"
	CodeServerError            Code = "server_error"
	CodeTemporarilyUnavailable Code = "temporarily_unavailable"

	CodeUnknown      Code = "unknown"
	CodeConflict     Code = "conflict"
	CodeNotFound     Code = "not_found"
	CodeInvalidState Code = "invalid_state"
)

// Error is a service error with a machine readable code. Predefined errors
// are compared by identity, so wrap them with %w and test with errors.Is.
type Error struct {
	Err         Code
	Description string
}

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Err)
	}

	return string(e.Err) + ": " + e.Description
}

// HTTPStatus maps the error code to the status an HTTP adapter should reply with.
func (e *Error) HTTPStatus() int {
	switch e.Err {
	case CodeInvalidRequest, CodeInvalidState:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeConflict:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	case CodeTemporarilyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var (
	ErrInvalidRequest = &Error{Err: CodeInvalidRequest}
	ErrServerError    = &Error{Err: CodeServerError}

	ErrUnknown      = &Error{Err: CodeUnknown, Description: "unknown error"}
	ErrConflict     = &Error{Err: CodeConflict, Description: "already exists"}
	ErrNotFound     = &Error{Err: CodeNotFound, Description: "not found"}
	ErrUnauthorized = &Error{Err: CodeUnauthorized, Description: "missing or invalid credentials"}

	// ErrValidation is returned for malformed input.
	ErrValidation = &Error{Err: CodeInvalidRequest, Description: "validation failed"}

	// ErrInvalidState is returned when an operation would break a store-wide
	// invariant, such as deleting the last remaining provider.
	ErrInvalidState = &Error{Err: CodeInvalidState, Description: "cannot delete the last remaining provider"}

	// ErrUnavailable marks failures of the store itself.
	ErrUnavailable = &Error{Err: CodeTemporarilyUnavailable, Description: "store unavailable"}

	// ErrProviderUnavailable is returned when an identity provider's client
	// cannot be built, typically because discovery failed.
	ErrProviderUnavailable = &Error{Err: CodeTemporarilyUnavailable, Description: "identity provider unavailable"}
)
