package auth

import (
	"errors"
	"net/http"
)

// Error is an authentication or authorization failure with the HTTP status
// it maps to.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

// Failure codes recorded in audit events.
const (
	CodeMissing   = "missing_credential"
	CodeMalformed = "malformed_credential"
	CodeUnknown   = "unknown_credential"
	CodePending   = "credential_pending"
	CodeRevoked   = "credential_revoked"
	CodeForbidden = "forbidden"
	CodeInternal  = "auth_unavailable"
)

var (
	ErrMissing   = &Error{Status: http.StatusUnauthorized, Code: CodeMissing, Message: "API key required"}
	ErrMalformed = &Error{Status: http.StatusUnauthorized, Code: CodeMalformed, Message: "malformed API key"}
	ErrUnknown   = &Error{Status: http.StatusUnauthorized, Code: CodeUnknown, Message: "invalid API key"}
	ErrPending   = &Error{Status: http.StatusForbidden, Code: CodePending, Message: "credential pending approval"}
	ErrRevoked   = &Error{Status: http.StatusForbidden, Code: CodeRevoked, Message: "credential revoked"}
	ErrForbidden = &Error{Status: http.StatusForbidden, Code: CodeForbidden, Message: "insufficient privileges"}
	// ErrInternal never reveals why the lookup failed.
	ErrInternal = &Error{Status: http.StatusInternalServerError, Code: CodeInternal, Message: "authentication unavailable"}
)

// AsError extracts an *Error, defaulting to ErrInternal for anything else.
func AsError(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return ErrInternal
}
