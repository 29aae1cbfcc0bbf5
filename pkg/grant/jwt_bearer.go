// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

package grant

import (
	"context"
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	"github.com/oauthkit/oauthkit/pkg/client"
	"github.com/oauthkit/oauthkit/pkg/clientauth"
	"github.com/oauthkit/oauthkit/pkg/id"
	"github.com/oauthkit/oauthkit/pkg/oauth2"
	"github.com/oauthkit/oauthkit/pkg/user"
)

// JWTBearer implements the JWT assertion authorization grant of
// RFC 7523 Section 2.1: a signed assertion vouches for the resource
// owner named in its subject. The key used to verify the assertion is
// resolved per client, typically from its registered jwks or jwks_uri.
type JWTBearer struct {
	accounts user.Repository
	keys     clientauth.AssertionKeyResolver
	audience string
}

// NewJWTBearer creates the jwt-bearer grant type. audience is the value
// the assertion's aud claim must contain, normally the token endpoint
// URL.
func NewJWTBearer(accounts user.Repository, keys clientauth.AssertionKeyResolver, audience string) *JWTBearer {
	return &JWTBearer{accounts: accounts, keys: keys, audience: audience}
}

// Name implements Type.
func (*JWTBearer) Name() string { return TypeJWTBearer }

// AssociatedResponseTypes implements Type.
func (*JWTBearer) AssociatedResponseTypes() []string { return nil }

// CheckRequest implements Type.
func (*JWTBearer) CheckRequest(r *http.Request) error {
	if err := r.ParseForm(); err != nil {
		return oauth2.ErrInvalidRequest.WithDescription("malformed request body").WithCause(err)
	}
	if err := oauth2.MissingParams(r.PostForm, oauth2.ParamAssertion); err != nil {
		return err
	}
	return nil
}

// PrepareResponse implements Type. RFC 7523 Section 2.1: a refresh
// token should not be issued for assertion grants.
func (*JWTBearer) PrepareResponse(_ context.Context, _ *client.Client, _ *http.Request, _ *Data) error {
	return nil
}

// Grant implements Type.
func (g *JWTBearer) Grant(ctx context.Context, c *client.Client, r *http.Request, data *Data) error {
	if !c.IsGrantTypeAllowed(TypeJWTBearer) {
		return oauth2.ErrUnauthorizedClient.WithDescription("client is not authorized for the jwt-bearer grant")
	}
	if err := r.ParseForm(); err != nil {
		return oauth2.ErrInvalidRequest.WithDescription("malformed request body").WithCause(err)
	}

	parser := jwt.NewParser(
		jwt.WithAudience(g.audience),
		jwt.WithExpirationRequired(),
	)
	claims := &jwt.RegisteredClaims{}
	_, err := parser.ParseWithClaims(r.PostForm.Get(oauth2.ParamAssertion), claims, func(t *jwt.Token) (any, error) {
		return g.keys.ResolveKey(ctx, c, t)
	})
	if err != nil {
		return oauth2.ErrInvalidGrant.WithDescription("assertion verification failed").WithCause(err)
	}
	if claims.Subject == "" {
		return oauth2.ErrInvalidGrant.WithDescription("assertion has no subject")
	}

	accountID, err := id.NewUserAccountID(claims.Subject)
	if err != nil {
		return oauth2.ErrInvalidGrant.WithCause(err)
	}
	account, err := g.accounts.Find(ctx, accountID)
	if err != nil {
		return oauth2.ErrInvalidGrant.WithDescription("assertion subject is not a known account").WithCause(err)
	}

	scopes := oauth2.ScopeSplit(r.PostForm.Get(oauth2.ParamScope))
	if allowed := c.AllowedScopes(); len(allowed) > 0 && !oauth2.ScopeSubset(scopes, allowed) {
		return oauth2.ErrInvalidScope.WithDescription("requested scope exceeds the client's allowance")
	}

	data.ResourceOwner = id.OwnerFromUserAccount(account.ID)
	data.Scopes = scopes
	return nil
}
