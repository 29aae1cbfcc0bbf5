// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"context"
	"time"

	"github.com/oauthkit/oauthkit/pkg/databag"
	"github.com/oauthkit/oauthkit/pkg/id"
	"github.com/oauthkit/oauthkit/pkg/oauth2"
)

// Validation limits guarding against oversized registration requests.
const (
	// MaxClientNameLength is the maximum allowed length for a client name.
	MaxClientNameLength = 256
)

// knownAuthMethods are the token endpoint authentication methods the
// framework's clientauth package can serve.
var knownAuthMethods = map[string]bool{
	"none":                true,
	"client_secret_basic": true,
	"client_secret_post":  true,
	"client_secret_jwt":   true,
	"private_key_jwt":     true,
}

// TokenEndpointAuthMethodRule validates token_endpoint_auth_method,
// defaulting to client_secret_basic per RFC 7591 Section 2.
type TokenEndpointAuthMethodRule struct{}

// Handle implements Rule.
func (TokenEndpointAuthMethodRule) Handle(ctx context.Context, clientID id.ClientID, incoming, validated *databag.Bag, next Handler) (*databag.Bag, error) {
	method := "client_secret_basic"
	if incoming.Has(oauth2.MetadataTokenEndpointAuthMethod) {
		m, err := incoming.GetString(oauth2.MetadataTokenEndpointAuthMethod)
		if err != nil {
			return nil, oauth2.ErrInvalidClientMetadata.WithDescription("token_endpoint_auth_method must be a string")
		}
		method = m
	}
	if !knownAuthMethods[method] {
		return nil, oauth2.ErrInvalidClientMetadata.WithDescription("unsupported token_endpoint_auth_method %q", method)
	}
	validated.Set(oauth2.MetadataTokenEndpointAuthMethod, method)
	return next(ctx, clientID, incoming, validated)
}

// GrantTypesRule validates grant_types, defaulting to authorization_code.
// The allowed set is fixed at construction from the grant type registry.
type GrantTypesRule struct {
	Allowed []string
}

// Handle implements Rule.
func (r GrantTypesRule) Handle(ctx context.Context, clientID id.ClientID, incoming, validated *databag.Bag, next Handler) (*databag.Bag, error) {
	grants := []string{"authorization_code"}
	if incoming.Has(oauth2.MetadataGrantTypes) {
		g, err := incoming.GetStrings(oauth2.MetadataGrantTypes)
		if err != nil {
			return nil, oauth2.ErrInvalidClientMetadata.WithDescription("grant_types must be an array of strings")
		}
		if len(g) == 0 {
			return nil, oauth2.ErrInvalidClientMetadata.WithDescription("grant_types must not be empty")
		}
		grants = g
	}
	for _, g := range grants {
		if !oauth2.ScopeContains(r.Allowed, g) {
			return nil, oauth2.ErrInvalidClientMetadata.WithDescription("unsupported grant type %q", g)
		}
	}
	validated.Set(oauth2.MetadataGrantTypes, grants)
	return next(ctx, clientID, incoming, validated)
}

// ResponseTypesRule validates response_types, normalizing composite
// values and defaulting to ["code"]. It must be registered before any
// rule that reads response_types from the validated bag.
type ResponseTypesRule struct {
	Allowed []string
}

// Handle implements Rule.
func (r ResponseTypesRule) Handle(ctx context.Context, clientID id.ClientID, incoming, validated *databag.Bag, next Handler) (*databag.Bag, error) {
	types := []string{"code"}
	if incoming.Has(oauth2.MetadataResponseTypes) {
		rt, err := incoming.GetStrings(oauth2.MetadataResponseTypes)
		if err != nil {
			return nil, oauth2.ErrInvalidClientMetadata.WithDescription("response_types must be an array of strings")
		}
		types = rt
	}
	normalized := make([]string, 0, len(types))
	for _, t := range types {
		n := oauth2.NormalizeResponseType(t)
		if !oauth2.ScopeContains(r.Allowed, n) {
			return nil, oauth2.ErrInvalidClientMetadata.WithDescription("unsupported response type %q", t)
		}
		normalized = append(normalized, n)
	}
	validated.Set(oauth2.MetadataResponseTypes, normalized)
	return next(ctx, clientID, incoming, validated)
}

// ScopeRule validates the optional scope allowance string.
type ScopeRule struct{}

// Handle implements Rule.
func (ScopeRule) Handle(ctx context.Context, clientID id.ClientID, incoming, validated *databag.Bag, next Handler) (*databag.Bag, error) {
	if incoming.Has(oauth2.MetadataScope) {
		s, err := incoming.GetString(oauth2.MetadataScope)
		if err != nil {
			return nil, oauth2.ErrInvalidClientMetadata.WithDescription("scope must be a space-delimited string")
		}
		validated.Set(oauth2.MetadataScope, s)
	}
	return next(ctx, clientID, incoming, validated)
}

// ClientNameRule validates the optional human-readable client name.
type ClientNameRule struct{}

// Handle implements Rule.
func (ClientNameRule) Handle(ctx context.Context, clientID id.ClientID, incoming, validated *databag.Bag, next Handler) (*databag.Bag, error) {
	if incoming.Has(oauth2.MetadataClientName) {
		name, err := incoming.GetString(oauth2.MetadataClientName)
		if err != nil || name == "" {
			return nil, oauth2.ErrInvalidClientMetadata.WithDescription("client_name must be a non-empty string")
		}
		if len(name) > MaxClientNameLength {
			return nil, oauth2.ErrInvalidClientMetadata.WithDescription("client_name exceeds %d characters", MaxClientNameLength)
		}
		validated.Set(oauth2.MetadataClientName, name)
	}
	return next(ctx, clientID, incoming, validated)
}

// IssuedAtRule stamps client_id_issued_at after the rest of the chain has
// succeeded, demonstrating post-processing: it calls next first and only
// touches the validated bag on the way back out.
type IssuedAtRule struct {
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Handle implements Rule.
func (r IssuedAtRule) Handle(ctx context.Context, clientID id.ClientID, incoming, validated *databag.Bag, next Handler) (*databag.Bag, error) {
	out, err := next(ctx, clientID, incoming, validated)
	if err != nil {
		return nil, err
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	if !out.Has(oauth2.MetadataClientIDIssuedAt) {
		out.Set(oauth2.MetadataClientIDIssuedAt, now().Unix())
	}
	return out, nil
}
