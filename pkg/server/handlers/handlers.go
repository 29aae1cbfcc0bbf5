// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package handlers provides the HTTP endpoint layer: authorization,
// token, dynamic registration, introspection, revocation, discovery
// metadata, and JWKS publication, wired onto a chi router.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/oauthkit/oauthkit/pkg/authorize"
	"github.com/oauthkit/oauthkit/pkg/client"
	"github.com/oauthkit/oauthkit/pkg/clientauth"
	"github.com/oauthkit/oauthkit/pkg/databag"
	"github.com/oauthkit/oauthkit/pkg/grant"
	"github.com/oauthkit/oauthkit/pkg/jose"
	"github.com/oauthkit/oauthkit/pkg/oauth2"
	"github.com/oauthkit/oauthkit/pkg/token"
	"github.com/oauthkit/oauthkit/pkg/tokenendpoint"
)

// Deps carries the collaborators of the endpoint layer. RefreshTokens
// may be nil when the deployment issues no refresh tokens.
type Deps struct {
	Driver        *authorize.Driver
	Dispatcher    *tokenendpoint.Dispatcher
	Clients       *client.Service
	ClientAuth    *clientauth.Manager
	AccessTokens  token.AccessTokenRepository
	RefreshTokens token.RefreshTokenRepository
	Keys          jose.KeyProvider
	Grants        *grant.Manager
	ResponseTypes *authorize.TypeManager
	ResponseModes *authorize.ModeManager
}

// Handlers exposes the protocol endpoints over HTTP.
type Handlers struct {
	logger *slog.Logger
	issuer string
	scopes []string
	deps   Deps
}

// Option configures a Handlers instance.
type Option func(*Handlers)

// WithScopesSupported sets the scope list advertised in discovery
// metadata.
func WithScopesSupported(scopes []string) Option {
	return func(h *Handlers) { h.scopes = scopes }
}

// New creates the endpoint layer. issuer is the external base URL under
// which the endpoints are reachable, without a trailing slash.
func New(logger *slog.Logger, issuer string, deps Deps, opts ...Option) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		logger: logger,
		issuer: strings.TrimSuffix(issuer, "/"),
		deps:   deps,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers all endpoints on the given router.
func (h *Handlers) Routes(r chi.Router) {
	r.Get("/oauth/authorize", h.Authorize)
	r.Post("/oauth/authorize", h.Authorize)
	r.Post("/oauth/token", h.Token)

	r.Post("/oauth/register", h.Register)
	r.Put("/oauth/register/{clientID}", h.UpdateRegistration)
	r.Delete("/oauth/register/{clientID}", h.DeleteRegistration)

	r.Post("/oauth/introspect", h.Introspect)
	r.Post("/oauth/revoke", h.Revoke)

	r.Get("/.well-known/openid-configuration", h.Discovery)
	r.Get("/.well-known/oauth-authorization-server", h.Discovery)
	r.Get("/.well-known/jwks.json", h.JWKS)
}

// Authorize serves the authorization endpoint, both the initial request
// and re-entries carrying a request id after user interaction.
func (h *Handlers) Authorize(w http.ResponseWriter, r *http.Request) {
	h.deps.Driver.Handle(w, r)
}

// Token serves the token endpoint.
func (h *Handlers) Token(w http.ResponseWriter, r *http.Request) {
	h.deps.Dispatcher.Handle(w, r)
}

// Register handles dynamic client registration per RFC 7591. When the
// service is configured with an initial access token gate, the token is
// presented as a bearer credential.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	incoming, err := decodeMetadata(r)
	if err != nil {
		oauth2.WriteJSON(w, oauth2.ErrInvalidClientMetadata.WithDescription("request body is not a JSON object"))
		return
	}

	c, secret, err := h.deps.Clients.Create(ctx, incoming, bearerToken(r))
	if err != nil {
		h.logger.InfoContext(ctx, "client registration rejected", "error", err)
		oauth2.WriteJSON(w, err)
		return
	}

	h.writeRegistration(w, http.StatusCreated, c, secret)
}

// UpdateRegistration replaces a client's metadata per RFC 7592. The
// client authenticates as itself; updating another client's
// registration is not possible.
func (h *Handlers) UpdateRegistration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	caller, err := h.deps.ClientAuth.Authenticate(ctx, r)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}
	if caller.ID.String() != chi.URLParam(r, "clientID") {
		oauth2.WriteJSON(w, oauth2.ErrInvalidClient)
		return
	}

	incoming, err := decodeMetadata(r)
	if err != nil {
		oauth2.WriteJSON(w, oauth2.ErrInvalidClientMetadata.WithDescription("request body is not a JSON object"))
		return
	}

	updated, err := h.deps.Clients.Update(ctx, caller.ID, incoming)
	if err != nil {
		oauth2.WriteJSON(w, err)
		return
	}

	h.writeRegistration(w, http.StatusOK, updated, "")
}

// DeleteRegistration soft-deletes the authenticated client and cascades
// revocation over its issued credentials.
func (h *Handlers) DeleteRegistration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	caller, err := h.deps.ClientAuth.Authenticate(ctx, r)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}
	if caller.ID.String() != chi.URLParam(r, "clientID") {
		oauth2.WriteJSON(w, oauth2.ErrInvalidClient)
		return
	}

	if err := h.deps.Clients.Delete(ctx, caller.ID); err != nil {
		oauth2.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) writeRegistration(w http.ResponseWriter, status int, c *client.Client, secret string) {
	body := databag.New()
	body.Set(oauth2.ParamClientID, c.ID.String())
	if secret != "" {
		body.Set(oauth2.ParamClientSecret, secret)
	}
	for _, key := range c.Metadata.Keys() {
		// The plaintext secret kept for HMAC client assertions never
		// leaves the server.
		if key == oauth2.ParamClientSecret {
			continue
		}
		v, err := c.Metadata.Get(key)
		if err != nil {
			continue
		}
		body.Set(key, v)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("encode registration response", "error", err)
	}
}

func decodeMetadata(r *http.Request) (*databag.Bag, error) {
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, err
	}
	return databag.FromMap(raw), nil
}

// bearerToken extracts a bearer credential from the Authorization
// header, empty when none is present.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}

func (h *Handlers) writeAuthError(w http.ResponseWriter, err error) {
	if e := oauth2.AsError(err); e.Code == "invalid_client" {
		for _, challenge := range h.deps.ClientAuth.Challenges() {
			w.Header().Add("WWW-Authenticate", challenge)
		}
	}
	oauth2.WriteJSON(w, err)
}
