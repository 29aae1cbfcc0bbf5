// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/oauthkit/oauthkit/pkg/databag"
	"github.com/oauthkit/oauthkit/pkg/id"
)

// ErrCodeAlreadyUsed is returned by MarkUsed when the code was already
// redeemed. Exactly one of two concurrent redemption attempts observes
// success; the other observes this error.
var ErrCodeAlreadyUsed = errors.New("token: authorization code already used")

// AuthorizationCode is a single-use credential binding an authorization
// grant to the client that requested it. Query preserves the original
// authorization request parameters; RedirectURI is the exact URI the code
// was issued against and must match redemption.
type AuthorizationCode struct {
	ID             id.AuthorizationCodeID
	ClientID       id.ClientID
	UserAccount    id.UserAccountID
	Query          url.Values
	RedirectURI    string
	Parameters     *databag.Bag
	Metadata       *databag.Bag
	ExpiresAt      time.Time
	ResourceServer id.ResourceServerID

	// Used marks redemption; distinct from Revoked, which is an
	// administrative kill switch (for example on detected replay).
	Used    bool
	Revoked bool
}

// NewAuthorizationCode issues a fresh code for the given grant.
func NewAuthorizationCode(clientID id.ClientID, account id.UserAccountID, query url.Values, redirectURI string, expiresAt time.Time) *AuthorizationCode {
	return &AuthorizationCode{
		ID:          id.GenerateAuthorizationCodeID(),
		ClientID:    clientID,
		UserAccount: account,
		Query:       query,
		RedirectURI: redirectURI,
		Parameters:  databag.New(),
		Metadata:    databag.New(),
		ExpiresAt:   expiresAt,
	}
}

// HasExpired is purely a function of ExpiresAt against the given clock.
func (c *AuthorizationCode) HasExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Revoke marks the code administratively unusable.
func (c *AuthorizationCode) Revoke() {
	c.Revoked = true
}

// CodeChallenge returns the stored PKCE challenge and method from the
// original authorization request, empty when the client did not use PKCE.
func (c *AuthorizationCode) CodeChallenge() (challenge, method string) {
	return c.Query.Get("code_challenge"), c.Query.Get("code_challenge_method")
}

// AuthorizationCodeRepository persists authorization codes. MarkUsed is
// the single-use gate: implementations must make the find-then-mark
// sequence atomic so that two concurrent redemptions of the same code
// yield exactly one success and one ErrCodeAlreadyUsed.
type AuthorizationCodeRepository interface {
	// Find returns the code with the given id, or ErrNotFound.
	Find(ctx context.Context, codeID id.AuthorizationCodeID) (*AuthorizationCode, error)

	// Save persists the code, replacing any previous version.
	Save(ctx context.Context, c *AuthorizationCode) error

	// MarkUsed atomically flips the Used flag. When the code was already
	// used it returns ErrCodeAlreadyUsed; when it does not exist it
	// returns ErrNotFound.
	MarkUsed(ctx context.Context, codeID id.AuthorizationCodeID) error
}
