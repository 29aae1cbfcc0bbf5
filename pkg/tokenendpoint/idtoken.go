// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

package tokenendpoint

import (
	"context"

	"github.com/oauthkit/oauthkit/pkg/authorize"
	"github.com/oauthkit/oauthkit/pkg/databag"
	"github.com/oauthkit/oauthkit/pkg/oauth2"
)

// IDTokenExtension adds an OpenID Connect ID token to the response when
// the granted scope contains openid and the originating authorization
// carried a redirect_uri, which marks the exchange as a front-channel
// initiated OIDC flow.
type IDTokenExtension struct {
	issuer authorize.IDTokenIssuer
}

// NewIDTokenExtension creates the ID-token extension.
func NewIDTokenExtension(issuer authorize.IDTokenIssuer) *IDTokenExtension {
	return &IDTokenExtension{issuer: issuer}
}

// Handle implements Extension.
func (e *IDTokenExtension) Handle(ctx context.Context, ex *Exchange, body *databag.Bag, next Handler) (*databag.Bag, error) {
	if !oauth2.ScopeContains(ex.Data.Scopes, "openid") {
		return next(ctx, ex, body)
	}
	if ex.AccessToken.Metadata.GetStringDefault(oauth2.ParamRedirectURI, "") == "" {
		return next(ctx, ex, body)
	}

	idToken, err := e.issuer.IssueIDToken(ctx, authorize.IDTokenClaims{
		Subject:     ex.Data.ResourceOwner.String(),
		ClientID:    ex.Client.ID.String(),
		Nonce:       ex.AccessToken.Metadata.GetStringDefault(oauth2.ParamNonce, ""),
		Scopes:      ex.Data.Scopes,
		AccessToken: ex.AccessToken.ID.String(),
	})
	if err != nil {
		return nil, oauth2.ErrServerError.WithCause(err)
	}
	body.Set("id_token", idToken)
	return next(ctx, ex, body)
}
