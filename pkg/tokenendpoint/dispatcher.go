// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package tokenendpoint orchestrates the token endpoint of RFC 6749
// Section 3.2: client authentication, grant-type dispatch, token
// allocation, and an extension chain that lets cross-cutting concerns
// add response fields, with OpenID Connect ID-token issuance as the
// canonical extension.
package tokenendpoint

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/oauthkit/oauthkit/pkg/client"
	"github.com/oauthkit/oauthkit/pkg/clientauth"
	"github.com/oauthkit/oauthkit/pkg/databag"
	"github.com/oauthkit/oauthkit/pkg/grant"
	"github.com/oauthkit/oauthkit/pkg/oauth2"
	"github.com/oauthkit/oauthkit/pkg/token"
)

// Exchange is the state of one token-endpoint request as seen by
// extensions: the authenticated client, the grant decision, and the
// tokens allocated from it.
type Exchange struct {
	Client       *client.Client
	GrantType    grant.Type
	Data         *grant.Data
	AccessToken  *token.AccessToken
	RefreshToken *token.RefreshToken
	Request      *http.Request
}

// Handler is the continuation of the extension chain.
type Handler func(ctx context.Context, ex *Exchange, body *databag.Bag) (*databag.Bag, error)

// Extension adds fields to the token response. Calling next before its
// own logic gives an extension post-processing behavior; calling it
// after gives pre-processing.
type Extension interface {
	Handle(ctx context.Context, ex *Exchange, body *databag.Bag, next Handler) (*databag.Bag, error)
}

// ExtensionFunc adapts a function to the Extension interface.
type ExtensionFunc func(ctx context.Context, ex *Exchange, body *databag.Bag, next Handler) (*databag.Bag, error)

// Handle implements Extension.
func (f ExtensionFunc) Handle(ctx context.Context, ex *Exchange, body *databag.Bag, next Handler) (*databag.Bag, error) {
	return f(ctx, ex, body, next)
}

// Dispatcher is the token endpoint.
type Dispatcher struct {
	auth          *clientauth.Manager
	grants        *grant.Manager
	accessTokens  token.AccessTokenRepository
	refreshTokens token.RefreshTokenRepository
	extensions    []Extension
	logger        *slog.Logger

	accessTokenLifespan  time.Duration
	refreshTokenLifespan time.Duration
	now                  func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithExtensions sets the extension chain. Order is evaluation order.
func WithExtensions(extensions ...Extension) Option {
	return func(d *Dispatcher) { d.extensions = extensions }
}

// WithRefreshTokens enables refresh-token issuance through the given
// repository.
func WithRefreshTokens(repo token.RefreshTokenRepository, lifespan time.Duration) Option {
	return func(d *Dispatcher) {
		d.refreshTokens = repo
		d.refreshTokenLifespan = lifespan
	}
}

// WithLogger sets the dispatcher's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// NewDispatcher assembles the token endpoint. Access tokens expire
// after accessTokenLifespan.
func NewDispatcher(auth *clientauth.Manager, grants *grant.Manager,
	accessTokens token.AccessTokenRepository, accessTokenLifespan time.Duration, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		auth:                auth,
		grants:              grants,
		accessTokens:        accessTokens,
		accessTokenLifespan: accessTokenLifespan,
		logger:              slog.Default(),
		now:                 time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle serves one token-endpoint request.
func (d *Dispatcher) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	c, err := d.auth.Authenticate(ctx, r)
	if err != nil {
		d.writeError(w, err)
		return
	}

	gt, err := d.grants.Resolve(r)
	if err != nil {
		d.writeError(w, err)
		return
	}
	if err := gt.CheckRequest(r); err != nil {
		d.writeError(w, err)
		return
	}

	data := grant.NewData()
	if err := gt.PrepareResponse(ctx, c, r, data); err != nil {
		d.writeError(w, err)
		return
	}
	if err := gt.Grant(ctx, c, r, data); err != nil {
		d.logger.Debug("grant rejected",
			"grant_type", gt.Name(),
			"client_id", c.ID.String(),
			"error", err,
		)
		d.writeError(w, err)
		return
	}

	ex := &Exchange{Client: c, GrantType: gt, Data: data, Request: r}
	if err := d.allocate(ctx, ex); err != nil {
		d.writeError(w, err)
		return
	}

	body, err := d.buildBody(ctx, ex)
	if err != nil {
		d.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		d.logger.Error("failed to write token response", "error", err)
	}
}

// allocate mints and persists the tokens the grant decision calls for.
func (d *Dispatcher) allocate(ctx context.Context, ex *Exchange) error {
	at := token.NewAccessToken(ex.Client.ID, ex.Data.ResourceOwner, d.now().Add(d.accessTokenLifespan))
	at.SetScope(ex.Data.Scopes)
	for _, key := range ex.Data.Parameters.Keys() {
		v, _ := ex.Data.Parameters.Get(key)
		at.Parameters.Set(key, v)
	}
	for _, key := range ex.Data.Metadata.Keys() {
		v, _ := ex.Data.Metadata.Get(key)
		at.Metadata.Set(key, v)
	}
	if err := d.accessTokens.Save(ctx, at); err != nil {
		return oauth2.ErrServerError.WithCause(err)
	}
	ex.AccessToken = at

	if ex.Data.IssueRefreshToken && d.refreshTokens != nil {
		rt := token.NewRefreshToken(ex.Client.ID, ex.Data.ResourceOwner, ex.Data.Scopes, d.now().Add(d.refreshTokenLifespan))
		if err := d.refreshTokens.Save(ctx, rt); err != nil {
			return oauth2.ErrServerError.WithCause(err)
		}
		ex.RefreshToken = rt
	}
	return nil
}

// buildBody assembles the success body and runs the extension chain
// over it.
func (d *Dispatcher) buildBody(ctx context.Context, ex *Exchange) (*databag.Bag, error) {
	body := databag.New()
	body.Set("token_type", ex.AccessToken.TokenType())
	body.Set("access_token", ex.AccessToken.ID.String())
	body.Set("expires_in", int64(d.accessTokenLifespan/time.Second))
	if ex.RefreshToken != nil {
		body.Set("refresh_token", ex.RefreshToken.ID.String())
	}
	if len(ex.Data.Scopes) > 0 {
		body.Set("scope", oauth2.ScopeJoin(ex.Data.Scopes))
	}

	// Explicit composition: the terminal handler ends the chain.
	next := Handler(func(_ context.Context, _ *Exchange, body *databag.Bag) (*databag.Bag, error) {
		return body, nil
	})
	for i := len(d.extensions) - 1; i >= 0; i-- {
		ext, innerNext := d.extensions[i], next
		next = func(ctx context.Context, ex *Exchange, body *databag.Bag) (*databag.Bag, error) {
			return ext.Handle(ctx, ex, body, innerNext)
		}
	}
	return next(ctx, ex, body)
}

// writeError renders a back-channel error body. invalid_client gets the
// WWW-Authenticate challenges of the registered authentication schemes
// per RFC 6749 Section 5.2.
func (d *Dispatcher) writeError(w http.ResponseWriter, err error) {
	oe := oauth2.AsError(err)
	if oe.Code == "invalid_client" {
		for _, challenge := range d.auth.Challenges() {
			w.Header().Add("WWW-Authenticate", challenge)
		}
	}
	oauth2.WriteJSON(w, oe)
}
