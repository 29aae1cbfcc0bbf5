// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"context"
	"net/url"

	"github.com/oauthkit/oauthkit/pkg/databag"
	"github.com/oauthkit/oauthkit/pkg/id"
	"github.com/oauthkit/oauthkit/pkg/oauth2"
)

// MaxRedirectURICount is the maximum number of redirect URIs allowed per
// client, guarding against oversized registration requests.
const MaxRedirectURICount = 10

// RedirectURIsRule validates redirect_uris per RFC 6749 Section 3.1.2:
// absolute URIs without fragments. The URIs are required when the
// client's response types involve the authorization endpoint.
type RedirectURIsRule struct{}

// Handle implements Rule.
func (RedirectURIsRule) Handle(ctx context.Context, clientID id.ClientID, incoming, validated *databag.Bag, next Handler) (*databag.Bag, error) {
	if !incoming.Has(oauth2.MetadataRedirectURIs) {
		return next(ctx, clientID, incoming, validated)
	}
	uris, err := incoming.GetStrings(oauth2.MetadataRedirectURIs)
	if err != nil {
		return nil, oauth2.ErrInvalidRedirectURI.WithDescription("redirect_uris must be an array of strings")
	}
	if len(uris) == 0 {
		return nil, oauth2.ErrInvalidRedirectURI.WithDescription("redirect_uris must not be empty")
	}
	if len(uris) > MaxRedirectURICount {
		return nil, oauth2.ErrInvalidRedirectURI.WithDescription("too many redirect_uris (maximum %d)", MaxRedirectURICount)
	}
	for _, raw := range uris {
		u, err := url.Parse(raw)
		if err != nil || !u.IsAbs() {
			return nil, oauth2.ErrInvalidRedirectURI.WithDescription("redirect URI %q is not an absolute URI", raw)
		}
		if u.Fragment != "" {
			return nil, oauth2.ErrInvalidRedirectURI.WithDescription("redirect URI %q must not contain a fragment", raw)
		}
	}
	validated.Set(oauth2.MetadataRedirectURIs, uris)
	return next(ctx, clientID, incoming, validated)
}

// RequestURIsRule validates the optional request_uris parameter. It reads
// response_types from the validated bag, so it must be registered after
// ResponseTypesRule; redirect-based response types require https request
// URIs.
type RequestURIsRule struct{}

// Handle implements Rule.
func (RequestURIsRule) Handle(ctx context.Context, clientID id.ClientID, incoming, validated *databag.Bag, next Handler) (*databag.Bag, error) {
	if !incoming.Has("request_uris") {
		return next(ctx, clientID, incoming, validated)
	}
	uris, err := incoming.GetStrings("request_uris")
	if err != nil {
		return nil, oauth2.ErrInvalidClientMetadata.WithDescription("request_uris must be an array of strings")
	}
	responseTypes, err := validated.GetStrings(oauth2.MetadataResponseTypes)
	if err != nil {
		// Ordering violation: ResponseTypesRule has not run yet.
		return nil, oauth2.ErrInvalidClientMetadata.WithDescription("request_uris requires response_types to be validated first")
	}
	redirectBased := false
	for _, rt := range responseTypes {
		if rt != "none" {
			redirectBased = true
			break
		}
	}
	for _, raw := range uris {
		u, err := url.Parse(raw)
		if err != nil || !u.IsAbs() {
			return nil, oauth2.ErrInvalidClientMetadata.WithDescription("request URI %q is not an absolute URI", raw)
		}
		if redirectBased && u.Scheme != "https" {
			return nil, oauth2.ErrInvalidClientMetadata.WithDescription("request URI %q must use https", raw)
		}
	}
	validated.Set("request_uris", uris)
	return next(ctx, clientID, incoming, validated)
}
