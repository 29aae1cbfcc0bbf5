// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package grant implements the token-endpoint grant types of RFC 6749
// and RFC 7523 as pluggable strategies behind a registry. A grant type
// validates the exchange request, resolves the resource owner, and
// decides the scopes of the tokens to be issued; minting and persisting
// the tokens belongs to the token endpoint dispatcher.
package grant

import (
	"context"
	"net/http"

	"github.com/oauthkit/oauthkit/pkg/client"
	"github.com/oauthkit/oauthkit/pkg/databag"
	"github.com/oauthkit/oauthkit/pkg/id"
	"github.com/oauthkit/oauthkit/pkg/oauth2"
)

// Grant type names.
const (
	TypeAuthorizationCode = "authorization_code"
	TypeRefreshToken      = "refresh_token"
	TypeClientCredentials = "client_credentials"
	TypePassword          = "password"
	TypeJWTBearer         = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	TypeImplicit          = "implicit"
)

// Data is the grant decision a Type assembles for the dispatcher. A
// successful Grant call fills in the resource owner and the scopes;
// Parameters and Metadata are copied onto the minted access token.
type Data struct {
	ResourceOwner id.ResourceOwnerID
	Scopes        []string

	// Parameters become the access token's protocol parameters (on top
	// of token_type and scope).
	Parameters *databag.Bag

	// Metadata becomes the access token's issuance metadata, e.g. the
	// redirect_uri and nonce of the originating authorization.
	Metadata *databag.Bag

	// IssueRefreshToken is set by PrepareResponse when both the grant
	// type and the client configuration permit a refresh token.
	IssueRefreshToken bool
}

// NewData returns an empty grant decision.
func NewData() *Data {
	return &Data{Parameters: databag.New(), Metadata: databag.New()}
}

// Type is one grant-type strategy.
type Type interface {
	// Name returns the grant_type value this strategy handles.
	Name() string

	// AssociatedResponseTypes returns the authorization-endpoint
	// response types this grant participates in, or nil for
	// back-channel-only grants.
	AssociatedResponseTypes() []string

	// CheckRequest validates parameter presence and shape. It reports
	// every missing required parameter in a single invalid_request
	// error rather than stopping at the first.
	CheckRequest(r *http.Request) error

	// PrepareResponse runs before token allocation and decides
	// issuance options such as refresh-token eligibility.
	PrepareResponse(ctx context.Context, c *client.Client, r *http.Request, data *Data) error

	// Grant makes the authorization decision: it verifies the client
	// is entitled to this grant type, checks the grant-specific
	// credentials or tokens, and fills data with the resource owner
	// and granted scopes.
	Grant(ctx context.Context, c *client.Client, r *http.Request, data *Data) error
}

// Manager is the grant-type registry. Dispatch is strictly by the
// grant_type request parameter.
type Manager struct {
	types  []Type
	byName map[string]Type
}

// NewManager creates an empty registry.
func NewManager() *Manager {
	return &Manager{byName: make(map[string]Type)}
}

// Add registers a grant type. Later registrations of the same name are
// ignored.
func (m *Manager) Add(t Type) {
	if _, dup := m.byName[t.Name()]; dup {
		return
	}
	m.types = append(m.types, t)
	m.byName[t.Name()] = t
}

// Has reports whether a grant type with the given name is registered.
func (m *Manager) Has(name string) bool {
	_, ok := m.byName[name]
	return ok
}

// Get returns the grant type with the given name, or nil.
func (m *Manager) Get(name string) Type {
	return m.byName[name]
}

// All returns the registered grant types in registration order.
func (m *Manager) All() []Type {
	out := make([]Type, len(m.types))
	copy(out, m.types)
	return out
}

// Names returns the registered grant type names in registration order,
// for the discovery document.
func (m *Manager) Names() []string {
	out := make([]string, 0, len(m.types))
	for _, t := range m.types {
		out = append(out, t.Name())
	}
	return out
}

// Resolve selects the grant type for a token-endpoint request. A
// missing grant_type parameter is invalid_request; an unregistered one
// is unsupported_grant_type.
func (m *Manager) Resolve(r *http.Request) (Type, error) {
	if err := r.ParseForm(); err != nil {
		return nil, oauth2.ErrInvalidRequest.WithDescription("malformed request body").WithCause(err)
	}
	if err := oauth2.MissingParams(r.PostForm, oauth2.ParamGrantType); err != nil {
		return nil, err
	}
	name := r.PostForm.Get(oauth2.ParamGrantType)
	t, ok := m.byName[name]
	if !ok {
		return nil, oauth2.ErrUnsupportedGrantType.WithDescription("unsupported grant type %q", name)
	}
	return t, nil
}
