// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

package grant

import (
	"context"
	"net/http"

	"github.com/oauthkit/oauthkit/pkg/client"
	"github.com/oauthkit/oauthkit/pkg/id"
	"github.com/oauthkit/oauthkit/pkg/oauth2"
	"github.com/oauthkit/oauthkit/pkg/user"
)

// Password implements the resource-owner password credentials grant of
// RFC 6749 Section 4.3. Credential verification is delegated to the
// account repository, which must not distinguish unknown users from
// wrong passwords.
type Password struct {
	accounts user.Repository
}

// NewPassword creates the password grant type backed by the given
// account repository.
func NewPassword(accounts user.Repository) *Password {
	return &Password{accounts: accounts}
}

// Name implements Type.
func (*Password) Name() string { return TypePassword }

// AssociatedResponseTypes implements Type.
func (*Password) AssociatedResponseTypes() []string { return nil }

// CheckRequest implements Type.
func (*Password) CheckRequest(r *http.Request) error {
	if err := r.ParseForm(); err != nil {
		return oauth2.ErrInvalidRequest.WithDescription("malformed request body").WithCause(err)
	}
	if err := oauth2.MissingParams(r.PostForm, oauth2.ParamUsername, oauth2.ParamPassword); err != nil {
		return err
	}
	return nil
}

// PrepareResponse implements Type.
func (*Password) PrepareResponse(_ context.Context, c *client.Client, _ *http.Request, data *Data) error {
	data.IssueRefreshToken = c.IsGrantTypeAllowed(TypeRefreshToken)
	return nil
}

// Grant implements Type.
func (g *Password) Grant(ctx context.Context, c *client.Client, r *http.Request, data *Data) error {
	if !c.IsGrantTypeAllowed(TypePassword) {
		return oauth2.ErrUnauthorizedClient.WithDescription("client is not authorized for the password grant")
	}
	if err := r.ParseForm(); err != nil {
		return oauth2.ErrInvalidRequest.WithDescription("malformed request body").WithCause(err)
	}

	account, err := g.accounts.CheckPassword(ctx,
		r.PostForm.Get(oauth2.ParamUsername),
		r.PostForm.Get(oauth2.ParamPassword),
	)
	if err != nil {
		return oauth2.ErrInvalidGrant.WithDescription("invalid resource owner credentials").WithCause(err)
	}

	scopes := oauth2.ScopeSplit(r.PostForm.Get(oauth2.ParamScope))
	if allowed := c.AllowedScopes(); len(allowed) > 0 && !oauth2.ScopeSubset(scopes, allowed) {
		return oauth2.ErrInvalidScope.WithDescription("requested scope exceeds the client's allowance")
	}

	data.ResourceOwner = id.OwnerFromUserAccount(account.ID)
	data.Scopes = scopes
	return nil
}
