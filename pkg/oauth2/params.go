// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

package oauth2

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Request parameter and client metadata names used across the endpoints.
const (
	ParamClientID            = "client_id"
	ParamClientSecret        = "client_secret"
	ParamGrantType           = "grant_type"
	ParamResponseType        = "response_type"
	ParamResponseMode        = "response_mode"
	ParamRedirectURI         = "redirect_uri"
	ParamScope               = "scope"
	ParamState               = "state"
	ParamNonce               = "nonce"
	ParamPrompt              = "prompt"
	ParamMaxAge              = "max_age"
	ParamCode                = "code"
	ParamCodeChallenge       = "code_challenge"
	ParamCodeChallengeMethod = "code_challenge_method"
	ParamCodeVerifier        = "code_verifier"
	ParamRefreshToken        = "refresh_token"
	ParamUsername            = "username"
	ParamPassword            = "password"
	ParamAssertion           = "assertion"
	ParamClientAssertion     = "client_assertion"
	ParamClientAssertionType = "client_assertion_type"
	ParamToken               = "token"
	ParamTokenTypeHint       = "token_type_hint"
)

// Client metadata keys per RFC 7591 Section 2 and OIDC Registration.
const (
	MetadataTokenEndpointAuthMethod = "token_endpoint_auth_method"
	MetadataGrantTypes              = "grant_types"
	MetadataResponseTypes           = "response_types"
	MetadataRedirectURIs            = "redirect_uris"
	MetadataScope                   = "scope"
	MetadataClientName              = "client_name"
	MetadataClientSecretExpiresAt   = "client_secret_expires_at"
	MetadataClientIDIssuedAt        = "client_id_issued_at"
	MetadataDefaultMaxAge           = "default_max_age"
)

// AuthMethodNone is the token_endpoint_auth_method value marking a public
// client.
const AuthMethodNone = "none"

// ScopeSplit splits a space-delimited scope string per RFC 6749
// Section 3.3. Empty input yields nil.
func ScopeSplit(s string) []string {
	return strings.Fields(s)
}

// ScopeJoin joins scope values into the wire form.
func ScopeJoin(scopes []string) string {
	return strings.Join(scopes, " ")
}

// ScopeContains reports whether scopes contains the given value.
func ScopeContains(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}

// ScopeSubset reports whether every requested scope appears in allowed.
func ScopeSubset(requested, allowed []string) bool {
	for _, s := range requested {
		if !ScopeContains(allowed, s) {
			return false
		}
	}
	return true
}

// NormalizeResponseType canonicalizes a response_type value by splitting
// on spaces, sorting, and re-joining, so "token code" and "code token"
// select the same registered response type.
func NormalizeResponseType(responseType string) string {
	parts := strings.Fields(responseType)
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

// MissingParams builds the aggregated invalid_request error naming every
// absent required parameter at once, per the framework's error policy.
// Returns nil when all required parameters are present and non-empty.
func MissingParams(form url.Values, required ...string) *Error {
	var missing []string
	for _, p := range required {
		if form.Get(p) == "" {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return ErrInvalidRequest.WithDescription(
		"missing required parameter(s): %s", strings.Join(missing, ", "))
}

// FormatExpiresIn renders an expiry duration in seconds for the token
// response body, never negative.
func FormatExpiresIn(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d", seconds)
}
