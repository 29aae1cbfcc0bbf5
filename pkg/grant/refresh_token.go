// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

package grant

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/oauthkit/oauthkit/pkg/client"
	"github.com/oauthkit/oauthkit/pkg/id"
	"github.com/oauthkit/oauthkit/pkg/oauth2"
	"github.com/oauthkit/oauthkit/pkg/token"
)

// RefreshToken exchanges a refresh token for a new access token per
// RFC 6749 Section 6. A scope parameter, when present, may narrow but
// never widen the scopes of the original grant.
type RefreshToken struct {
	tokens token.RefreshTokenRepository
	now    func() time.Time
}

// NewRefreshToken creates the refresh_token grant type backed by the
// given repository.
func NewRefreshToken(tokens token.RefreshTokenRepository) *RefreshToken {
	return &RefreshToken{tokens: tokens, now: time.Now}
}

// Name implements Type.
func (*RefreshToken) Name() string { return TypeRefreshToken }

// AssociatedResponseTypes implements Type.
func (*RefreshToken) AssociatedResponseTypes() []string { return nil }

// CheckRequest implements Type.
func (*RefreshToken) CheckRequest(r *http.Request) error {
	if err := r.ParseForm(); err != nil {
		return oauth2.ErrInvalidRequest.WithDescription("malformed request body").WithCause(err)
	}
	if err := oauth2.MissingParams(r.PostForm, oauth2.ParamRefreshToken); err != nil {
		return err
	}
	return nil
}

// PrepareResponse implements Type. The refresh token rotates: a new one
// is issued with every exchange.
func (*RefreshToken) PrepareResponse(_ context.Context, _ *client.Client, _ *http.Request, data *Data) error {
	data.IssueRefreshToken = true
	return nil
}

// Grant implements Type.
func (g *RefreshToken) Grant(ctx context.Context, c *client.Client, r *http.Request, data *Data) error {
	if !c.IsGrantTypeAllowed(TypeRefreshToken) {
		return oauth2.ErrUnauthorizedClient.WithDescription("client is not authorized for the refresh_token grant")
	}
	if err := r.ParseForm(); err != nil {
		return oauth2.ErrInvalidRequest.WithDescription("malformed request body").WithCause(err)
	}

	tokenID, err := id.NewRefreshTokenID(r.PostForm.Get(oauth2.ParamRefreshToken))
	if err != nil {
		return oauth2.ErrInvalidGrant.WithCause(err)
	}
	rt, err := g.tokens.Find(ctx, tokenID)
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			return oauth2.ErrInvalidGrant.WithDescription("unknown refresh token")
		}
		return oauth2.ErrServerError.WithCause(err)
	}

	switch {
	case rt.Revoked:
		return oauth2.ErrInvalidGrant.WithDescription("refresh token has been revoked")
	case rt.HasExpired(g.now()):
		return oauth2.ErrInvalidGrant.WithDescription("refresh token has expired")
	case rt.ClientID != c.ID:
		return oauth2.ErrInvalidGrant.WithDescription("refresh token was issued to another client")
	}

	scopes := rt.Scopes
	if requested := oauth2.ScopeSplit(r.PostForm.Get(oauth2.ParamScope)); len(requested) > 0 {
		if !rt.AllowsScopes(requested) {
			return oauth2.ErrInvalidScope.WithDescription("requested scope exceeds the original grant")
		}
		scopes = requested
	}

	// Rotation: the presented token is spent whether or not the caller
	// ever uses the replacement.
	rt.Revoke()
	if err := g.tokens.Save(ctx, rt); err != nil {
		return oauth2.ErrServerError.WithCause(err)
	}

	data.ResourceOwner = rt.ResourceOwner
	data.Scopes = scopes
	return nil
}
