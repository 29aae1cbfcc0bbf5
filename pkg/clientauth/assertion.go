// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

package clientauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/oauthkit/oauthkit/pkg/client"
	"github.com/oauthkit/oauthkit/pkg/id"
	"github.com/oauthkit/oauthkit/pkg/oauth2"
)

// AssertionTypeJWTBearer is the client_assertion_type for JWT client
// authentication per RFC 7523 Section 2.2.
const AssertionTypeJWTBearer = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// Names of the two assertion-based authentication methods.
const (
	MethodPrivateKeyJWT   = "private_key_jwt"
	MethodClientSecretJWT = "client_secret_jwt"
)

// AssertionKeyResolver resolves the verification key material for a
// client's assertion: the registered public key set for private_key_jwt,
// or the shared secret for client_secret_jwt. Implemented by pkg/jose.
type AssertionKeyResolver interface {
	// ResolveKey returns the golang-jwt keyfunc key for the given client
	// and parsed (unverified) token header.
	ResolveKey(ctx context.Context, c *client.Client, token *jwt.Token) (any, error)
}

// ReplayGuard remembers client-assertion jti values until their expiry so
// a captured assertion cannot be replayed. Implemented by the storage
// backends.
type ReplayGuard interface {
	// ClaimJTI records the jti; a second claim of the same jti before
	// expiresAt is an error.
	ClaimJTI(ctx context.Context, jti string, expiresAt time.Time) error
}

// assertionCredentials carries the raw compact assertion.
type assertionCredentials struct {
	assertion string
}

// JWTBearer authenticates clients presenting a signed JWT assertion per
// RFC 7523: private_key_jwt when the assertion is signed with a key from
// the client's registered key set, client_secret_jwt when it is
// HMAC-signed with the client secret. One type serves both registrations;
// the assertion's algorithm family decides which instance matches, so the
// two can coexist in one manager without producing competing matches.
type JWTBearer struct {
	method   string
	keys     AssertionKeyResolver
	replay   ReplayGuard
	audience string
}

// NewPrivateKeyJWT creates the private_key_jwt authentication method.
// audience is the token endpoint URL the assertion must be addressed to.
func NewPrivateKeyJWT(keys AssertionKeyResolver, replay ReplayGuard, audience string) *JWTBearer {
	return &JWTBearer{method: MethodPrivateKeyJWT, keys: keys, replay: replay, audience: audience}
}

// NewClientSecretJWT creates the client_secret_jwt authentication method.
func NewClientSecretJWT(keys AssertionKeyResolver, replay ReplayGuard, audience string) *JWTBearer {
	return &JWTBearer{method: MethodClientSecretJWT, keys: keys, replay: replay, audience: audience}
}

// Name implements Method.
func (b *JWTBearer) Name() string { return b.method }

// Scheme implements Method.
func (*JWTBearer) Scheme() string { return "" }

// FindClientInRequest implements Method. The client identity is the
// assertion's sub claim, which RFC 7523 requires to equal iss; the
// signature is not checked here, only in Authenticate.
func (b *JWTBearer) FindClientInRequest(r *http.Request) (id.ClientID, Credentials, error) {
	if err := r.ParseForm(); err != nil {
		return id.ClientID{}, nil, fmt.Errorf("clientauth: parse form: %w", err)
	}
	if r.PostForm.Get(oauth2.ParamClientAssertionType) != AssertionTypeJWTBearer {
		return id.ClientID{}, nil, nil
	}
	assertion := r.PostForm.Get(oauth2.ParamClientAssertion)
	if assertion == "" {
		return id.ClientID{}, nil, errors.New("clientauth: client_assertion is missing")
	}

	claims := jwt.MapClaims{}
	// Unverified parse: we only need the subject and the signing
	// algorithm to route the assertion; the signature is checked in
	// Authenticate.
	parsed, _, err := jwt.NewParser().ParseUnverified(assertion, claims)
	if err != nil {
		return id.ClientID{}, nil, fmt.Errorf("clientauth: malformed client_assertion: %w", err)
	}
	// HMAC assertions belong to client_secret_jwt, asymmetric ones to
	// private_key_jwt. An assertion from the other family is not this
	// instance's to claim.
	if isMACAlgorithm(parsed.Method.Alg()) != (b.method == MethodClientSecretJWT) {
		return id.ClientID{}, nil, nil
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return id.ClientID{}, nil, errors.New("clientauth: client_assertion has no sub claim")
	}
	iss, err := claims.GetIssuer()
	if err != nil || iss != sub {
		return id.ClientID{}, nil, errors.New("clientauth: client_assertion iss must equal sub")
	}
	cid, err := id.NewClientID(sub)
	if err != nil {
		return id.ClientID{}, nil, err
	}
	return cid, assertionCredentials{assertion: assertion}, nil
}

// isMACAlgorithm reports whether alg is an HMAC JWS algorithm.
func isMACAlgorithm(alg string) bool {
	return strings.HasPrefix(alg, "HS")
}

// Authenticate implements Method: verifies signature, audience, expiry,
// and guards the jti against replay.
func (b *JWTBearer) Authenticate(ctx context.Context, c *client.Client, creds Credentials, _ *http.Request) error {
	ac, ok := creds.(assertionCredentials)
	if !ok {
		return fmt.Errorf("clientauth: unexpected credentials type %T", creds)
	}

	claims := jwt.MapClaims{}
	token, err := jwt.NewParser(
		jwt.WithAudience(b.audience),
		jwt.WithExpirationRequired(),
		jwt.WithSubject(c.ID.String()),
	).ParseWithClaims(ac.assertion, claims, func(t *jwt.Token) (any, error) {
		return b.keys.ResolveKey(ctx, c, t)
	})
	if err != nil {
		return fmt.Errorf("clientauth: client_assertion verification failed: %w", err)
	}
	if !token.Valid {
		return errors.New("clientauth: client_assertion is invalid")
	}

	if b.replay != nil {
		jti, _ := claims["jti"].(string)
		if jti == "" {
			return errors.New("clientauth: client_assertion has no jti claim")
		}
		exp, err := claims.GetExpirationTime()
		if err != nil || exp == nil {
			return errors.New("clientauth: client_assertion has no exp claim")
		}
		if err := b.replay.ClaimJTI(ctx, jti, exp.Time); err != nil {
			return fmt.Errorf("clientauth: client_assertion replayed: %w", err)
		}
	}
	return nil
}
