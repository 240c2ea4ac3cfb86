package core

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidHandle is returned when a handle fails pre-flight validation.
	ErrInvalidHandle = errors.New("invalid handle")

	// ErrMissingCredentialID is returned when the platform authenticator
	// produced a credential without an id.
	ErrMissingCredentialID = errors.New("authenticator returned no credential id")

	// ErrNoProfileName is returned when a social signup fallback cannot
	// proceed because the provider profile carries no usable name.
	ErrNoProfileName = errors.New("cannot access profile name")

	// ErrNotAuthenticated is returned by operations that require an access token.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrNotFound is returned by stores when a key does not exist.
	ErrNotFound = errors.New("key not found")
)

// CodeAccountNotFound is the server error code that signals a social login
// attempt against an account that does not exist yet. It triggers the signup
// fallback during social federation.
const CodeAccountNotFound = 603

// APIError carries the identity API's structured error body, or wraps a
// transport-level fault (Code 0) such as a network failure or an
// undecodable response.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	cause   error
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.cause
}

// Fault reports whether the error is a transport-level fault rather than a
// structured error reported by the server.
func (e *APIError) Fault() bool {
	return e.cause != nil
}

// NewTransportError wraps a transport or decode fault in an APIError.
func NewTransportError(err error) *APIError {
	return &APIError{Message: fmt.Sprintf("request failed: %v", err), cause: err}
}
