// Package oautherr maps internal errors to OAuth 2.0 / OIDC error responses.
// Only the code and a fixed description reach the client; the wrapped
// error text never does.
package oautherr

import (
	"errors"
	"net/http"

	"github.com/koskedk/dwh-identity/internal/core"
	"github.com/koskedk/dwh-identity/internal/keys"
	"github.com/koskedk/dwh-identity/internal/registry"
	"github.com/koskedk/dwh-identity/internal/token"
)

// OAuth 2.0 (RFC 6749, 7009, 6750) and OIDC Core error codes
const (
	InvalidRequest          = "invalid_request"
	InvalidClient           = "invalid_client"
	UnauthorizedClient      = "unauthorized_client"
	InvalidGrant            = "invalid_grant"
	InvalidScope            = "invalid_scope"
	UnsupportedGrantType    = "unsupported_grant_type"
	UnsupportedResponseType = "unsupported_response_type"
	AccessDenied            = "access_denied"
	LoginRequired           = "login_required"
	ConsentRequired         = "consent_required"
	ServerError             = "server_error"
	InvalidToken            = "invalid_token"
	InsufficientScope       = "insufficient_scope"
)

// Error is an OAuth error response body
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Status      int    `json:"-"`
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

// New returns an error with the default status for code
func New(code, description string) *Error {
	return &Error{Code: code, Description: description, Status: statusFor(code)}
}

var (
	errInvalidGrant = New(InvalidGrant, "the grant is invalid, expired or revoked")
	errServer       = New(ServerError, "the server could not complete the request")
)

// From maps err to an OAuth error. Unknown errors become server_error.
func From(err error) *Error {
	if err == nil {
		return nil
	}

	var oe *Error
	if errors.As(err, &oe) {
		return oe
	}

	switch {
	case errors.Is(err, registry.ErrUnknownClient):
		return New(InvalidClient, "unknown client")
	case errors.Is(err, registry.ErrInvalidRedirectURI):
		return New(InvalidRequest, "redirect_uri is not registered for this client")
	case errors.Is(err, registry.ErrScopeNotAllowed),
		errors.Is(err, registry.ErrUnknownScope):
		return New(InvalidScope, "requested scope is not allowed")

	// Replay gets the same answer as every other grant failure
	case errors.Is(err, core.ErrReplayDetected),
		errors.Is(err, core.ErrGrantNotFound),
		errors.Is(err, core.ErrGrantExpired),
		errors.Is(err, core.ErrAlreadyConsumed),
		errors.Is(err, core.ErrGrantRevoked):
		return errInvalidGrant

	case errors.Is(err, token.ErrInvalidToken),
		errors.Is(err, token.ErrExpiredToken),
		errors.Is(err, token.ErrWrongTokenUse):
		return New(InvalidToken, "the access token is invalid")

	case errors.Is(err, token.ErrSigningUnavailable),
		errors.Is(err, keys.ErrNoActiveKey),
		errors.Is(err, core.ErrClaimsUnavailable):
		return errServer
	}
	return errServer
}

// IsServerError reports whether err maps to server_error and should be logged
func IsServerError(err error) bool {
	return From(err).Code == ServerError
}

func statusFor(code string) int {
	switch code {
	case InvalidClient, InvalidToken:
		return http.StatusUnauthorized
	case AccessDenied, InsufficientScope:
		return http.StatusForbidden
	case ServerError:
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}
