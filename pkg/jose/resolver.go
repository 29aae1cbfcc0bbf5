// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

package jose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/oauthkit/oauthkit/pkg/client"
	"github.com/oauthkit/oauthkit/pkg/oauth2"
)

// Client metadata keys for registered assertion keys, per RFC 7591.
const (
	metadataJWKS    = "jwks"
	metadataJWKSURI = "jwks_uri"
)

// KeyResolver resolves the verification key for a client's JWT
// assertion: the raw client secret for HMAC algorithms
// (client_secret_jwt), or a key from the client's registered jwks or
// jwks_uri for asymmetric ones (private_key_jwt).
type KeyResolver struct{}

// NewKeyResolver creates a resolver.
func NewKeyResolver() *KeyResolver { return &KeyResolver{} }

// ResolveKey implements clientauth.AssertionKeyResolver.
func (*KeyResolver) ResolveKey(ctx context.Context, c *client.Client, token *gojwt.Token) (any, error) {
	alg := token.Method.Alg()
	if strings.HasPrefix(alg, "HS") {
		secret, err := c.Metadata.GetString(oauth2.ParamClientSecret)
		if err != nil || secret == "" {
			return nil, errors.New("jose: client has no recoverable secret for HMAC assertions")
		}
		return []byte(secret), nil
	}

	set, err := registeredKeySet(ctx, c)
	if err != nil {
		return nil, err
	}

	var key jwk.Key
	if kid, ok := token.Header["kid"].(string); ok && kid != "" {
		k, found := set.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("jose: key id %q not found in client key set", kid)
		}
		key = k
	} else {
		if set.Len() != 1 {
			return nil, errors.New("jose: assertion has no kid and the client registered multiple keys")
		}
		k, ok := set.Key(0)
		if !ok {
			return nil, errors.New("jose: empty client key set")
		}
		key = k
	}

	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return nil, fmt.Errorf("jose: export client key: %w", err)
	}
	return raw, nil
}

// registeredKeySet loads the client's key set from inline jwks metadata
// or from its jwks_uri.
func registeredKeySet(ctx context.Context, c *client.Client) (jwk.Set, error) {
	if inline, err := c.Metadata.Get(metadataJWKS); err == nil {
		raw, err := json.Marshal(inline)
		if err != nil {
			return nil, fmt.Errorf("jose: encode registered jwks: %w", err)
		}
		set, err := jwk.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("jose: parse registered jwks: %w", err)
		}
		return set, nil
	}
	if uri, err := c.Metadata.GetString(metadataJWKSURI); err == nil && uri != "" {
		set, err := jwk.Fetch(ctx, uri)
		if err != nil {
			return nil, fmt.Errorf("jose: fetch jwks_uri: %w", err)
		}
		return set, nil
	}
	return nil, errors.New("jose: client registered neither jwks nor jwks_uri")
}
