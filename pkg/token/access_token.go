// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package token holds the issued-credential aggregates: access tokens,
// refresh tokens, and authorization codes, together with the repository
// contracts that persist them.
package token

import (
	"context"
	"errors"
	"time"

	"github.com/oauthkit/oauthkit/pkg/databag"
	"github.com/oauthkit/oauthkit/pkg/id"
	"github.com/oauthkit/oauthkit/pkg/oauth2"
)

// ErrNotFound is returned by repositories when no token exists for the
// given identifier.
var ErrNotFound = errors.New("token: not found")

// AccessToken is an issued access token. Parameters carries the
// protocol-visible values (token_type, scope); Metadata carries issuance
// context such as redirect_uri and requested claims.
type AccessToken struct {
	ID             id.AccessTokenID
	ClientID       id.ClientID
	ResourceOwner  id.ResourceOwnerID
	Parameters     *databag.Bag
	Metadata       *databag.Bag
	ExpiresAt      time.Time
	ResourceServer id.ResourceServerID
	Revoked        bool
}

// NewAccessToken issues a fresh access token for the given client and
// resource owner. token_type defaults to Bearer; callers add scope and
// further parameters on the returned token.
func NewAccessToken(clientID id.ClientID, owner id.ResourceOwnerID, expiresAt time.Time) *AccessToken {
	params := databag.New()
	params.Set("token_type", "Bearer")
	return &AccessToken{
		ID:            id.GenerateAccessTokenID(),
		ClientID:      clientID,
		ResourceOwner: owner,
		Parameters:    params,
		Metadata:      databag.New(),
		ExpiresAt:     expiresAt,
	}
}

// HasExpired is purely a function of ExpiresAt against the given clock.
func (t *AccessToken) HasExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Revoke marks the token permanently unusable, regardless of expiry.
func (t *AccessToken) Revoke() {
	t.Revoked = true
}

// IsUsable reports whether the token can still authorize requests.
func (t *AccessToken) IsUsable(now time.Time) bool {
	return !t.Revoked && !t.HasExpired(now)
}

// TokenType returns the token_type parameter, defaulting to Bearer.
func (t *AccessToken) TokenType() string {
	return t.Parameters.GetStringDefault("token_type", "Bearer")
}

// Scope returns the granted scope values.
func (t *AccessToken) Scope() []string {
	return oauth2.ScopeSplit(t.Parameters.GetStringDefault(oauth2.ParamScope, ""))
}

// SetScope records the granted scopes in the protocol parameter form.
func (t *AccessToken) SetScope(scopes []string) {
	t.Parameters.Set(oauth2.ParamScope, oauth2.ScopeJoin(scopes))
}

// AccessTokenRepository persists access tokens.
type AccessTokenRepository interface {
	// Find returns the token with the given id, or ErrNotFound.
	Find(ctx context.Context, tokenID id.AccessTokenID) (*AccessToken, error)

	// Save persists the token, replacing any previous version.
	Save(ctx context.Context, t *AccessToken) error
}
