// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

package authorize

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/oauthkit/oauthkit/pkg/id"
	"github.com/oauthkit/oauthkit/pkg/oauth2"
	"github.com/oauthkit/oauthkit/pkg/token"
)

// Response type names.
const (
	ResponseTypeCode    = "code"
	ResponseTypeToken   = "token"
	ResponseTypeIDToken = "id_token"
	ResponseTypeNone    = "none"
)

// Type packages a decided authorization into the flat result set a
// response mode delivers. Registered names are the normalized
// (space-split, sorted, rejoined) response_type values.
type Type interface {
	// Name returns the normalized response_type value.
	Name() string

	// DefaultResponseMode returns the mode used when the request
	// carries no explicit response_mode: query for code-only
	// responses, fragment for anything carrying tokens.
	DefaultResponseMode() string

	// Respond mints the response artifacts for an allowed request.
	Respond(ctx context.Context, ar *Request) (url.Values, error)
}

// contributor lets composite response types build one result set from
// several parts. Later parts see the values minted by earlier ones, so
// an ID token can bind to the code and access token beside it.
type contributor interface {
	Type
	respondInto(ctx context.Context, ar *Request, acc url.Values) error
}

// IDTokenClaims is the material pkg/jose signs into an ID token.
type IDTokenClaims struct {
	Subject  string
	ClientID string
	Nonce    string
	AuthTime time.Time
	Scopes   []string

	// AccessToken and Code, when non-empty, request at_hash and c_hash
	// claims binding the ID token to its siblings.
	AccessToken string
	Code        string
}

// IDTokenIssuer signs ID tokens. Implemented by pkg/jose.
type IDTokenIssuer interface {
	IssueIDToken(ctx context.Context, claims IDTokenClaims) (string, error)
}

// TypeManager is the response-type registry. Selection is by exact
// match of the normalized response_type parameter.
type TypeManager struct {
	types  []Type
	byName map[string]Type
}

// NewTypeManager creates an empty registry.
func NewTypeManager() *TypeManager {
	return &TypeManager{byName: make(map[string]Type)}
}

// Add registers a response type under its normalized name.
func (m *TypeManager) Add(t Type) {
	name := oauth2.NormalizeResponseType(t.Name())
	if _, dup := m.byName[name]; dup {
		return
	}
	m.types = append(m.types, t)
	m.byName[name] = t
}

// Has reports whether the normalized response type is registered.
func (m *TypeManager) Has(responseType string) bool {
	_, ok := m.byName[oauth2.NormalizeResponseType(responseType)]
	return ok
}

// Names returns the registered names in registration order.
func (m *TypeManager) Names() []string {
	out := make([]string, 0, len(m.types))
	for _, t := range m.types {
		out = append(out, t.Name())
	}
	return out
}

// Resolve selects the response type for the given response_type
// parameter value, normalizing parameter order first.
func (m *TypeManager) Resolve(responseType string) (Type, error) {
	t, ok := m.byName[oauth2.NormalizeResponseType(responseType)]
	if !ok {
		return nil, oauth2.ErrUnsupportedResponseType.WithDescription("unsupported response type %q", responseType)
	}
	return t, nil
}

// CodeType issues an authorization code.
type CodeType struct {
	codes    token.AuthorizationCodeRepository
	lifespan time.Duration
}

// NewCodeType creates the code response type. Issued codes expire after
// lifespan.
func NewCodeType(codes token.AuthorizationCodeRepository, lifespan time.Duration) *CodeType {
	return &CodeType{codes: codes, lifespan: lifespan}
}

// Name implements Type.
func (*CodeType) Name() string { return ResponseTypeCode }

// DefaultResponseMode implements Type.
func (*CodeType) DefaultResponseMode() string { return ModeQuery }

// Respond implements Type.
func (t *CodeType) Respond(ctx context.Context, ar *Request) (url.Values, error) {
	acc := url.Values{}
	if err := t.respondInto(ctx, ar, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

func (t *CodeType) respondInto(ctx context.Context, ar *Request, acc url.Values) error {
	code := token.NewAuthorizationCode(ar.ClientID, ar.AccountID, ar.Query, ar.RedirectURI, time.Now().Add(t.lifespan))
	// The consent surface may have narrowed the grant below the
	// requested scopes; the narrowed set rides on the code so redemption
	// issues tokens for what the user granted, not what was asked.
	scopes := ar.GrantedScopes
	if len(scopes) == 0 {
		scopes = ar.Scopes()
	}
	if len(scopes) > 0 {
		code.Parameters.Set(oauth2.ParamScope, oauth2.ScopeJoin(scopes))
	}
	if err := t.codes.Save(ctx, code); err != nil {
		return oauth2.ErrServerError.WithCause(err)
	}
	acc.Set(oauth2.ParamCode, code.ID.String())
	return nil
}

// TokenType issues an access token directly from the authorization
// endpoint (implicit and hybrid flows).
type TokenType struct {
	tokens   token.AccessTokenRepository
	lifespan time.Duration
}

// NewTokenType creates the token response type.
func NewTokenType(tokens token.AccessTokenRepository, lifespan time.Duration) *TokenType {
	return &TokenType{tokens: tokens, lifespan: lifespan}
}

// Name implements Type.
func (*TokenType) Name() string { return ResponseTypeToken }

// DefaultResponseMode implements Type.
func (*TokenType) DefaultResponseMode() string { return ModeFragment }

// Respond implements Type.
func (t *TokenType) Respond(ctx context.Context, ar *Request) (url.Values, error) {
	acc := url.Values{}
	if err := t.respondInto(ctx, ar, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

func (t *TokenType) respondInto(ctx context.Context, ar *Request, acc url.Values) error {
	at := token.NewAccessToken(ar.ClientID, id.OwnerFromUserAccount(ar.AccountID), time.Now().Add(t.lifespan))
	scopes := ar.GrantedScopes
	if len(scopes) == 0 {
		scopes = ar.Scopes()
	}
	at.SetScope(scopes)
	at.Metadata.Set(oauth2.ParamRedirectURI, ar.RedirectURI)
	if err := t.tokens.Save(ctx, at); err != nil {
		return oauth2.ErrServerError.WithCause(err)
	}
	acc.Set("access_token", at.ID.String())
	acc.Set("token_type", at.TokenType())
	acc.Set("expires_in", oauth2.FormatExpiresIn(int64(t.lifespan/time.Second)))
	if len(scopes) > 0 {
		acc.Set(oauth2.ParamScope, oauth2.ScopeJoin(scopes))
	}
	return nil
}

// IDTokenType issues an OpenID Connect ID token from the authorization
// endpoint.
type IDTokenType struct {
	issuer IDTokenIssuer
}

// NewIDTokenType creates the id_token response type.
func NewIDTokenType(issuer IDTokenIssuer) *IDTokenType {
	return &IDTokenType{issuer: issuer}
}

// Name implements Type.
func (*IDTokenType) Name() string { return ResponseTypeIDToken }

// DefaultResponseMode implements Type.
func (*IDTokenType) DefaultResponseMode() string { return ModeFragment }

// Respond implements Type.
func (t *IDTokenType) Respond(ctx context.Context, ar *Request) (url.Values, error) {
	acc := url.Values{}
	if err := t.respondInto(ctx, ar, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

func (t *IDTokenType) respondInto(ctx context.Context, ar *Request, acc url.Values) error {
	scopes := ar.GrantedScopes
	if len(scopes) == 0 {
		scopes = ar.Scopes()
	}
	idToken, err := t.issuer.IssueIDToken(ctx, IDTokenClaims{
		Subject:     ar.AccountID.String(),
		ClientID:    ar.ClientID.String(),
		Nonce:       ar.Query.Get(oauth2.ParamNonce),
		AuthTime:    ar.AuthTime,
		Scopes:      scopes,
		AccessToken: acc.Get("access_token"),
		Code:        acc.Get(oauth2.ParamCode),
	})
	if err != nil {
		return oauth2.ErrServerError.WithCause(err)
	}
	acc.Set("id_token", idToken)
	return nil
}

// NoneType acknowledges the authorization without issuing anything.
type NoneType struct{}

// NewNoneType creates the none response type.
func NewNoneType() *NoneType { return &NoneType{} }

// Name implements Type.
func (*NoneType) Name() string { return ResponseTypeNone }

// DefaultResponseMode implements Type.
func (*NoneType) DefaultResponseMode() string { return ModeQuery }

// Respond implements Type.
func (*NoneType) Respond(context.Context, *Request) (url.Values, error) {
	return url.Values{}, nil
}

func (*NoneType) respondInto(context.Context, *Request, url.Values) error { return nil }

// Composite joins several response types into one hybrid response. The
// parts run in the order given, so listing the ID token last lets it
// hash the code and access token issued before it.
type Composite struct {
	name  string
	parts []contributor
}

// NewComposite builds a hybrid response type such as "code id_token"
// from its parts. Parts must be the concrete types of this package.
func NewComposite(parts ...Type) *Composite {
	names := make([]string, 0, len(parts))
	cs := make([]contributor, 0, len(parts))
	for _, p := range parts {
		names = append(names, p.Name())
		cs = append(cs, p.(contributor))
	}
	return &Composite{name: oauth2.NormalizeResponseType(strings.Join(names, " ")), parts: cs}
}

// Name implements Type.
func (c *Composite) Name() string { return c.name }

// DefaultResponseMode implements Type. Any part carrying a token forces
// fragment delivery.
func (c *Composite) DefaultResponseMode() string {
	for _, p := range c.parts {
		if p.DefaultResponseMode() == ModeFragment {
			return ModeFragment
		}
	}
	return ModeQuery
}

// Respond implements Type.
func (c *Composite) Respond(ctx context.Context, ar *Request) (url.Values, error) {
	acc := url.Values{}
	for _, p := range c.parts {
		if err := p.respondInto(ctx, ar, acc); err != nil {
			return nil, err
		}
	}
	return acc, nil
}
