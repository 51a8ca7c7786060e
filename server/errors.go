package server

import (
	"errors"
	"fmt"
	"net/http"
)

// OAuth error codes surfaced in the "error" field of error responses
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidRedirectURI      = "invalid_redirect_uri"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeServerError             = "server_error"
	ErrorCodeRateLimitExceeded       = "rate_limit_exceeded"
)

// Error is an OAuth protocol error. Code and Description are sent to the
// client; Err is the internal cause and is only logged.
type Error struct {
	Code        string
	Description string
	Status      int
	Err         error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Description, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Unwrap returns the internal cause
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new OAuth error
func NewError(code, description string, status int) *Error {
	return &Error{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// ErrInvalidRequest indicates a missing or malformed parameter
func ErrInvalidRequest(desc string) *Error {
	return NewError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
}

// ErrInvalidClient indicates the client_id is not registered
func ErrInvalidClient(desc string) *Error {
	return NewError(ErrorCodeInvalidClient, desc, http.StatusUnauthorized)
}

// ErrInvalidRedirectURI indicates the redirect_uri does not match the registered one
func ErrInvalidRedirectURI(desc string) *Error {
	return NewError(ErrorCodeInvalidRedirectURI, desc, http.StatusBadRequest)
}

// ErrUnsupportedResponseType indicates a response_type other than "code"
func ErrUnsupportedResponseType(desc string) *Error {
	return NewError(ErrorCodeUnsupportedResponseType, desc, http.StatusBadRequest)
}

// ErrUnsupportedGrantType indicates a grant_type the token endpoint does not handle
func ErrUnsupportedGrantType(desc string) *Error {
	return NewError(ErrorCodeUnsupportedGrantType, desc, http.StatusBadRequest)
}

// ErrInvalidGrant indicates the code or refresh token is unknown, spent, expired or mismatched
func ErrInvalidGrant(desc string) *Error {
	return NewError(ErrorCodeInvalidGrant, desc, http.StatusBadRequest)
}

// ErrRateLimitExceeded indicates the caller exceeded its request budget
func ErrRateLimitExceeded(desc string) *Error {
	return NewError(ErrorCodeRateLimitExceeded, desc, http.StatusTooManyRequests)
}

// ErrServerError wraps a collaborator failure. The cause is never shown to the client.
func ErrServerError(cause error) *Error {
	e := NewError(ErrorCodeServerError, "The server encountered an unexpected error", http.StatusInternalServerError)
	e.Err = cause
	return e
}

// withCause attaches an internal cause to e and returns it
func (e *Error) withCause(cause error) *Error {
	e.Err = cause
	return e
}

// AsError returns err as an *Error. Errors that are not protocol errors become server_error.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var oauthErr *Error
	if errors.As(err, &oauthErr) {
		return oauthErr
	}
	return ErrServerError(err)
}
