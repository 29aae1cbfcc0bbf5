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
	"github.com/oauthkit/oauthkit/pkg/pkce"
	"github.com/oauthkit/oauthkit/pkg/token"
)

// AuthorizationCode redeems single-use authorization codes per RFC 6749
// Section 4.1.3. The code must be unexpired, unrevoked, never used
// before, bound to the authenticated client, and presented with the same
// redirect_uri it was issued against. When the code carries a PKCE
// challenge the verifier is mandatory.
type AuthorizationCode struct {
	codes token.AuthorizationCodeRepository
	now   func() time.Time
}

// NewAuthorizationCode creates the authorization_code grant type backed
// by the given code repository.
func NewAuthorizationCode(codes token.AuthorizationCodeRepository) *AuthorizationCode {
	return &AuthorizationCode{codes: codes, now: time.Now}
}

// Name implements Type.
func (*AuthorizationCode) Name() string { return TypeAuthorizationCode }

// AssociatedResponseTypes implements Type.
func (*AuthorizationCode) AssociatedResponseTypes() []string {
	return []string{"code", "code token", "code id_token", "code id_token token"}
}

// CheckRequest implements Type.
func (*AuthorizationCode) CheckRequest(r *http.Request) error {
	if err := r.ParseForm(); err != nil {
		return oauth2.ErrInvalidRequest.WithDescription("malformed request body").WithCause(err)
	}
	if err := oauth2.MissingParams(r.PostForm, oauth2.ParamCode, oauth2.ParamRedirectURI); err != nil {
		return err
	}
	return nil
}

// PrepareResponse implements Type. A refresh token is issued when the
// client registered for the refresh_token grant.
func (*AuthorizationCode) PrepareResponse(_ context.Context, c *client.Client, _ *http.Request, data *Data) error {
	data.IssueRefreshToken = c.IsGrantTypeAllowed(TypeRefreshToken)
	return nil
}

// Grant implements Type.
func (g *AuthorizationCode) Grant(ctx context.Context, c *client.Client, r *http.Request, data *Data) error {
	if !c.IsGrantTypeAllowed(TypeAuthorizationCode) {
		return oauth2.ErrUnauthorizedClient.WithDescription("client is not authorized for the authorization_code grant")
	}
	if err := r.ParseForm(); err != nil {
		return oauth2.ErrInvalidRequest.WithDescription("malformed request body").WithCause(err)
	}

	codeID, err := id.NewAuthorizationCodeID(r.PostForm.Get(oauth2.ParamCode))
	if err != nil {
		return oauth2.ErrInvalidGrant.WithCause(err)
	}
	code, err := g.codes.Find(ctx, codeID)
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			return oauth2.ErrInvalidGrant.WithDescription("unknown authorization code")
		}
		return oauth2.ErrServerError.WithCause(err)
	}

	switch {
	case code.Revoked:
		return oauth2.ErrInvalidGrant.WithDescription("authorization code has been revoked")
	case code.Used:
		return oauth2.ErrInvalidGrant.WithDescription("authorization code has already been used")
	case code.HasExpired(g.now()):
		return oauth2.ErrInvalidGrant.WithDescription("authorization code has expired")
	case code.ClientID != c.ID:
		return oauth2.ErrInvalidGrant.WithDescription("authorization code was issued to another client")
	case code.RedirectURI != r.PostForm.Get(oauth2.ParamRedirectURI):
		return oauth2.ErrInvalidGrant.WithDescription("redirect_uri does not match the authorization request")
	}

	challenge, method := code.CodeChallenge()
	if challenge != "" || r.PostForm.Get(oauth2.ParamCodeVerifier) != "" {
		if err := pkce.Verify(challenge, method, r.PostForm.Get(oauth2.ParamCodeVerifier)); err != nil {
			return oauth2.ErrInvalidGrant.WithDescription("PKCE verification failed").WithCause(err)
		}
	}

	// The atomic gate: exactly one of two racing redemptions passes.
	if err := g.codes.MarkUsed(ctx, code.ID); err != nil {
		if errors.Is(err, token.ErrCodeAlreadyUsed) {
			return oauth2.ErrInvalidGrant.WithDescription("authorization code has already been used")
		}
		return oauth2.ErrServerError.WithCause(err)
	}

	data.ResourceOwner = id.OwnerFromUserAccount(code.UserAccount)
	// The code carries the granted scopes when consent narrowed the
	// request; the raw query holds only what was asked for.
	grantedScope := code.Parameters.GetStringDefault(oauth2.ParamScope, "")
	if grantedScope == "" {
		grantedScope = code.Query.Get(oauth2.ParamScope)
	}
	data.Scopes = oauth2.ScopeSplit(grantedScope)
	data.Metadata.Set(oauth2.ParamRedirectURI, code.RedirectURI)
	if nonce := code.Query.Get(oauth2.ParamNonce); nonce != "" {
		data.Metadata.Set(oauth2.ParamNonce, nonce)
	}
	for _, key := range code.Parameters.Keys() {
		v, _ := code.Parameters.Get(key)
		data.Parameters.Set(key, v)
	}
	return nil
}
