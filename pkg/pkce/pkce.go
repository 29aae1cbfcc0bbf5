// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package pkce implements Proof Key for Code Exchange per RFC 7636:
// verifier generation, challenge derivation, and redemption-time
// verification.
package pkce

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"regexp"

	"golang.org/x/oauth2"
)

// Challenge methods per RFC 7636 Section 4.2.
const (
	MethodS256  = "S256"
	MethodPlain = "plain"
)

// verifierPattern is the allowed code_verifier alphabet and length per
// RFC 7636 Section 4.1.
var verifierPattern = regexp.MustCompile(`^[A-Za-z0-9\-._~]{43,128}$`)

// GenerateVerifier generates a cryptographically random code_verifier.
// Delegates to oauth2.GenerateVerifier, which panics on crypto/rand
// failure.
func GenerateVerifier() string {
	return oauth2.GenerateVerifier()
}

// ComputeChallenge computes the S256 code_challenge for a verifier:
// BASE64URL(SHA256(code_verifier)).
func ComputeChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// Verify checks a presented code_verifier against the challenge stored
// with the authorization code. An empty stored challenge means the
// original request did not use PKCE, in which case presenting a verifier
// is an error (and vice versa). The plain method may be disabled by the
// caller before reaching this function.
func Verify(storedChallenge, storedMethod, verifier string) error {
	if storedChallenge == "" {
		if verifier != "" {
			return fmt.Errorf("pkce: code_verifier presented but no challenge was stored")
		}
		return nil
	}
	if verifier == "" {
		return fmt.Errorf("pkce: code_verifier is required")
	}
	if !verifierPattern.MatchString(verifier) {
		return fmt.Errorf("pkce: code_verifier is malformed")
	}

	switch storedMethod {
	case MethodPlain:
		if subtle.ConstantTimeCompare([]byte(storedChallenge), []byte(verifier)) != 1 {
			return fmt.Errorf("pkce: code_verifier does not match challenge")
		}
	case MethodS256, "":
		// S256 is the default when the method was omitted at
		// authorization time.
		sum := sha256.Sum256([]byte(verifier))
		derived := base64.RawURLEncoding.EncodeToString(sum[:])
		if subtle.ConstantTimeCompare([]byte(storedChallenge), []byte(derived)) != 1 {
			return fmt.Errorf("pkce: code_verifier does not match challenge")
		}
	default:
		return fmt.Errorf("pkce: unsupported code_challenge_method %q", storedMethod)
	}
	return nil
}
