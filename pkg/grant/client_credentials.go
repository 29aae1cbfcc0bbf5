// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

package grant

import (
	"context"
	"net/http"

	"github.com/oauthkit/oauthkit/pkg/client"
	"github.com/oauthkit/oauthkit/pkg/id"
	"github.com/oauthkit/oauthkit/pkg/oauth2"
)

// ClientCredentials implements the grant of RFC 6749 Section 4.4: the
// client acts on its own behalf and becomes the resource owner of the
// issued token. Public clients are excluded; the grant is meaningless
// without client authentication.
type ClientCredentials struct{}

// NewClientCredentials creates the client_credentials grant type.
func NewClientCredentials() *ClientCredentials { return &ClientCredentials{} }

// Name implements Type.
func (*ClientCredentials) Name() string { return TypeClientCredentials }

// AssociatedResponseTypes implements Type.
func (*ClientCredentials) AssociatedResponseTypes() []string { return nil }

// CheckRequest implements Type. grant_type is the only required
// parameter and the manager has already seen it.
func (*ClientCredentials) CheckRequest(r *http.Request) error {
	if err := r.ParseForm(); err != nil {
		return oauth2.ErrInvalidRequest.WithDescription("malformed request body").WithCause(err)
	}
	return nil
}

// PrepareResponse implements Type. RFC 6749 Section 4.4.3: no refresh
// token should be included.
func (*ClientCredentials) PrepareResponse(_ context.Context, _ *client.Client, _ *http.Request, _ *Data) error {
	return nil
}

// Grant implements Type.
func (*ClientCredentials) Grant(_ context.Context, c *client.Client, r *http.Request, data *Data) error {
	if !c.IsGrantTypeAllowed(TypeClientCredentials) {
		return oauth2.ErrUnauthorizedClient.WithDescription("client is not authorized for the client_credentials grant")
	}
	if c.IsPublic() {
		return oauth2.ErrUnauthorizedClient.WithDescription("public clients cannot use the client_credentials grant")
	}
	if err := r.ParseForm(); err != nil {
		return oauth2.ErrInvalidRequest.WithDescription("malformed request body").WithCause(err)
	}

	scopes := oauth2.ScopeSplit(r.PostForm.Get(oauth2.ParamScope))
	if allowed := c.AllowedScopes(); len(allowed) > 0 {
		if len(scopes) == 0 {
			scopes = allowed
		} else if !oauth2.ScopeSubset(scopes, allowed) {
			return oauth2.ErrInvalidScope.WithDescription("requested scope exceeds the client's allowance")
		}
	}

	data.ResourceOwner = id.OwnerFromClient(c.ID)
	data.Scopes = scopes
	return nil
}
