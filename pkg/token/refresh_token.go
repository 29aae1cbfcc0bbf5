// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"context"
	"time"

	"github.com/oauthkit/oauthkit/pkg/id"
	"github.com/oauthkit/oauthkit/pkg/oauth2"
)

// RefreshToken is an issued refresh token. Scopes records the grant's
// ceiling: a refresh exchange may narrow but never widen them.
type RefreshToken struct {
	ID            id.RefreshTokenID
	ClientID      id.ClientID
	ResourceOwner id.ResourceOwnerID
	Scopes        []string
	ExpiresAt     time.Time
	Revoked       bool
}

// NewRefreshToken issues a fresh refresh token.
func NewRefreshToken(clientID id.ClientID, owner id.ResourceOwnerID, scopes []string, expiresAt time.Time) *RefreshToken {
	return &RefreshToken{
		ID:            id.GenerateRefreshTokenID(),
		ClientID:      clientID,
		ResourceOwner: owner,
		Scopes:        scopes,
		ExpiresAt:     expiresAt,
	}
}

// HasExpired is purely a function of ExpiresAt against the given clock.
func (t *RefreshToken) HasExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Revoke marks the token permanently unusable.
func (t *RefreshToken) Revoke() {
	t.Revoked = true
}

// AllowsScopes reports whether the requested scopes stay within the
// token's granted ceiling.
func (t *RefreshToken) AllowsScopes(requested []string) bool {
	return oauth2.ScopeSubset(requested, t.Scopes)
}

// RefreshTokenRepository persists refresh tokens.
type RefreshTokenRepository interface {
	// Find returns the token with the given id, or ErrNotFound.
	Find(ctx context.Context, tokenID id.RefreshTokenID) (*RefreshToken, error)

	// Save persists the token, replacing any previous version.
	Save(ctx context.Context, t *RefreshToken) error
}
