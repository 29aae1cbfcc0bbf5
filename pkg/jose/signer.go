// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

package jose

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/oauthkit/oauthkit/pkg/authorize"
)

// Signer issues signed ID tokens per OIDC Core Section 2.
type Signer struct {
	issuer   string
	provider KeyProvider
	lifespan time.Duration
	now      func() time.Time
}

// NewSigner creates an ID token signer. issuer becomes the iss claim;
// tokens expire after lifespan.
func NewSigner(issuer string, provider KeyProvider, lifespan time.Duration) *Signer {
	return &Signer{issuer: issuer, provider: provider, lifespan: lifespan, now: time.Now}
}

// IssueIDToken implements authorize.IDTokenIssuer.
func (s *Signer) IssueIDToken(ctx context.Context, claims authorize.IDTokenClaims) (string, error) {
	key, err := s.provider.SigningKey(ctx)
	if err != nil {
		return "", err
	}

	opts := (&gojose.SignerOptions{}).WithType("JWT").WithHeader("kid", key.KeyID)
	signer, err := gojose.NewSigner(gojose.SigningKey{Algorithm: key.Algorithm, Key: key.Key}, opts)
	if err != nil {
		return "", fmt.Errorf("jose: create signer: %w", err)
	}

	now := s.now()
	std := jwt.Claims{
		Issuer:   s.issuer,
		Subject:  claims.Subject,
		Audience: jwt.Audience{claims.ClientID},
		Expiry:   jwt.NewNumericDate(now.Add(s.lifespan)),
		IssuedAt: jwt.NewNumericDate(now),
	}

	extra := map[string]any{"azp": claims.ClientID}
	if claims.Nonce != "" {
		extra["nonce"] = claims.Nonce
	}
	if !claims.AuthTime.IsZero() {
		extra["auth_time"] = claims.AuthTime.Unix()
	}
	// OIDC Core Section 3.3.2.11: hash claims bind the ID token to the
	// artifacts issued beside it.
	if claims.AccessToken != "" {
		extra["at_hash"] = leftHalfHash(claims.AccessToken)
	}
	if claims.Code != "" {
		extra["c_hash"] = leftHalfHash(claims.Code)
	}

	serialized, err := jwt.Signed(signer).Claims(std).Claims(extra).Serialize()
	if err != nil {
		return "", fmt.Errorf("jose: sign id token: %w", err)
	}
	return serialized, nil
}

// leftHalfHash is the base64url-encoded left half of the SHA-256 hash
// of the value, as required for at_hash and c_hash with *S256
// signatures.
func leftHalfHash(value string) string {
	sum := sha256.Sum256([]byte(value))
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])
}
