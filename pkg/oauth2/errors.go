// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package oauth2 defines the protocol vocabulary shared by every endpoint:
// the structured Error type rendered on all failure paths, the RFC 6749 and
// OIDC Core error codes, and the request parameter names used throughout
// the framework.
package oauth2

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// Error is the single error kind produced by the protocol engines. It
// carries the HTTP status to respond with, the machine-readable error code
// from RFC 6749 Section 5.2 / OIDC Core Section 3.1.2.6, and a
// human-readable description. The wrapped cause, if any, is for logs only
// and is never rendered to clients.
type Error struct {
	Status      int
	Code        string
	Description string

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Unwrap returns the internal cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error with the same code. This makes
// errors.Is(err, oauth2.ErrInvalidGrant) work regardless of description.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// WithDescription returns a copy of the error with the given description.
// The receiver is not modified, so the package-level sentinels stay
// immutable.
func (e *Error) WithDescription(format string, args ...any) *Error {
	c := *e
	c.Description = fmt.Sprintf(format, args...)
	return &c
}

// WithCause returns a copy of the error wrapping the given cause. The
// cause is surfaced through Unwrap for logging, never in the rendered
// response body.
func (e *Error) WithCause(cause error) *Error {
	c := *e
	c.cause = cause
	return &c
}

// body is the wire representation per RFC 6749 Section 5.2.
type body struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// MarshalJSON renders the RFC 6749 error body.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(body{Error: e.Code, ErrorDescription: e.Description})
}

// Params returns the front-channel representation of the error, suitable
// for merging into a redirect URI by a response mode.
func (e *Error) Params() url.Values {
	v := url.Values{"error": {e.Code}}
	if e.Description != "" {
		v.Set("error_description", e.Description)
	}
	return v
}

// WriteJSON renders err as a back-channel JSON error response. Non-protocol
// errors are masked as server_error so internals never leak.
func WriteJSON(w http.ResponseWriter, err error) {
	e := AsError(err)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(e)
}

// AsError converts any error into a protocol *Error. Unknown errors become
// server_error with a fixed description, preserving the original as the
// cause for logging.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrServerError.WithCause(err)
}

// Error sentinels. Use WithDescription to attach detail; invalid_client
// deliberately never carries detail about which credential check failed.
var (
	ErrInvalidRequest          = &Error{Status: http.StatusBadRequest, Code: "invalid_request"}
	ErrInvalidClient           = &Error{Status: http.StatusUnauthorized, Code: "invalid_client", Description: "client authentication failed"}
	ErrInvalidGrant            = &Error{Status: http.StatusBadRequest, Code: "invalid_grant"}
	ErrUnauthorizedClient      = &Error{Status: http.StatusBadRequest, Code: "unauthorized_client"}
	ErrUnsupportedGrantType    = &Error{Status: http.StatusBadRequest, Code: "unsupported_grant_type"}
	ErrUnsupportedResponseType = &Error{Status: http.StatusBadRequest, Code: "unsupported_response_type"}
	ErrInvalidScope            = &Error{Status: http.StatusBadRequest, Code: "invalid_scope"}
	ErrAccessDenied            = &Error{Status: http.StatusForbidden, Code: "access_denied"}
	ErrServerError             = &Error{Status: http.StatusInternalServerError, Code: "server_error", Description: "the authorization server encountered an unexpected condition"}

	// OIDC prompt=none failures per OIDC Core Section 3.1.2.6. Delivered
	// on the front channel only; the status applies when no validated
	// redirect URI is available to carry them.
	ErrLoginRequired            = &Error{Status: http.StatusUnauthorized, Code: "login_required"}
	ErrConsentRequired          = &Error{Status: http.StatusUnauthorized, Code: "consent_required"}
	ErrInteractionRequired      = &Error{Status: http.StatusUnauthorized, Code: "interaction_required"}
	ErrAccountSelectionRequired = &Error{Status: http.StatusUnauthorized, Code: "account_selection_required"}

	// Client registration failures per RFC 7591 Section 3.2.2.
	ErrInvalidClientMetadata = &Error{Status: http.StatusBadRequest, Code: "invalid_client_metadata"}
	ErrInvalidRedirectURI    = &Error{Status: http.StatusBadRequest, Code: "invalid_redirect_uri"}
)
