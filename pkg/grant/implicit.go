// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

package grant

import (
	"context"
	"net/http"

	"github.com/oauthkit/oauthkit/pkg/client"
	"github.com/oauthkit/oauthkit/pkg/oauth2"
)

// Implicit represents the implicit grant of RFC 6749 Section 4.2. It is
// registered so client metadata validation and the discovery document
// can name it, but the grant is redeemed entirely at the authorization
// endpoint: any attempt to exercise it at the token endpoint fails.
type Implicit struct{}

// NewImplicit creates the implicit grant type.
func NewImplicit() *Implicit { return &Implicit{} }

// Name implements Type.
func (*Implicit) Name() string { return TypeImplicit }

// AssociatedResponseTypes implements Type.
func (*Implicit) AssociatedResponseTypes() []string {
	return []string{"token", "id_token", "id_token token"}
}

// CheckRequest implements Type.
func (*Implicit) CheckRequest(_ *http.Request) error {
	return errNotAtTokenEndpoint()
}

// PrepareResponse implements Type.
func (*Implicit) PrepareResponse(_ context.Context, _ *client.Client, _ *http.Request, _ *Data) error {
	return errNotAtTokenEndpoint()
}

// Grant implements Type.
func (*Implicit) Grant(_ context.Context, _ *client.Client, _ *http.Request, _ *Data) error {
	return errNotAtTokenEndpoint()
}

func errNotAtTokenEndpoint() error {
	return oauth2.ErrUnsupportedGrantType.WithDescription("the implicit grant is redeemed at the authorization endpoint")
}
