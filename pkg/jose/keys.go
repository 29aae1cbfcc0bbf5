// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package jose is the signing and key-management layer: it provides
// signing keys, publishes them as a JWKS, signs ID tokens, and
// resolves the verification keys for client JWT assertions.
package jose

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	gojose "github.com/go-jose/go-jose/v4"
)

// ErrNoSigningKey is returned when a provider has no usable key.
var ErrNoSigningKey = errors.New("jose: no signing key available")

// SigningKey is one signing key with its derived JOSE parameters.
type SigningKey struct {
	KeyID     string
	Algorithm gojose.SignatureAlgorithm
	Key       crypto.Signer
}

// KeyProvider supplies the signing key and the public key set.
type KeyProvider interface {
	// SigningKey returns the key new tokens are signed with.
	SigningKey(ctx context.Context) (*SigningKey, error)

	// PublicKeys returns the key set for the JWKS endpoint. More than
	// one key may be present during rotation.
	PublicKeys(ctx context.Context) (*gojose.JSONWebKeySet, error)
}

// deriveParams computes the algorithm and a stable key id from the key
// material. The key id is the truncated SHA-256 of the public key's
// DER encoding.
func deriveParams(key crypto.Signer) (string, gojose.SignatureAlgorithm, error) {
	var alg gojose.SignatureAlgorithm
	switch pub := key.Public().(type) {
	case *rsa.PublicKey:
		alg = gojose.RS256
	case *ecdsa.PublicKey:
		switch pub.Curve {
		case elliptic.P256():
			alg = gojose.ES256
		case elliptic.P384():
			alg = gojose.ES384
		case elliptic.P521():
			alg = gojose.ES512
		default:
			return "", "", fmt.Errorf("jose: unsupported curve %s", pub.Curve.Params().Name)
		}
	case ed25519.PublicKey:
		alg = gojose.EdDSA
	default:
		return "", "", fmt.Errorf("jose: unsupported key type %T", pub)
	}

	der, err := x509.MarshalPKIXPublicKey(key.Public())
	if err != nil {
		return "", "", fmt.Errorf("jose: derive key id: %w", err)
	}
	sum := sha256.Sum256(der)
	return base64.RawURLEncoding.EncodeToString(sum[:16]), alg, nil
}

// StaticProvider serves a fixed set of keys, the first being the
// signing key.
type StaticProvider struct {
	keys []*SigningKey
}

// NewStaticProvider wraps pre-loaded keys.
func NewStaticProvider(keys ...*SigningKey) *StaticProvider {
	return &StaticProvider{keys: keys}
}

// SigningKey implements KeyProvider.
func (p *StaticProvider) SigningKey(context.Context) (*SigningKey, error) {
	if len(p.keys) == 0 {
		return nil, ErrNoSigningKey
	}
	return p.keys[0], nil
}

// PublicKeys implements KeyProvider.
func (p *StaticProvider) PublicKeys(context.Context) (*gojose.JSONWebKeySet, error) {
	set := &gojose.JSONWebKeySet{}
	for _, k := range p.keys {
		set.Keys = append(set.Keys, gojose.JSONWebKey{
			Key:       k.Key.Public(),
			KeyID:     k.KeyID,
			Algorithm: string(k.Algorithm),
			Use:       "sig",
		})
	}
	return set, nil
}

// NewEphemeralProvider generates a fresh ECDSA P-256 key, for
// development and tests. Tokens signed with it do not survive a
// restart.
func NewEphemeralProvider() (*StaticProvider, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("jose: generate ephemeral key: %w", err)
	}
	kid, alg, err := deriveParams(key)
	if err != nil {
		return nil, err
	}
	return NewStaticProvider(&SigningKey{KeyID: kid, Algorithm: alg, Key: key}), nil
}

// NewFileProvider loads PEM-encoded keys from dir. The first file is
// the signing key; the rest are exposed through the JWKS only, for
// rotation. RSA, ECDSA, and Ed25519 keys are supported in PKCS#8,
// PKCS#1, and SEC1 encodings.
func NewFileProvider(dir string, signingKeyFile string, fallbackKeyFiles ...string) (*StaticProvider, error) {
	if signingKeyFile == "" {
		return nil, errors.New("jose: signing key file is required")
	}
	files := append([]string{signingKeyFile}, fallbackKeyFiles...)
	keys := make([]*SigningKey, 0, len(files))
	for _, name := range files {
		key, err := loadKeyFromFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("jose: load key %s: %w", name, err)
		}
		keys = append(keys, key)
	}
	return NewStaticProvider(keys...), nil
}

func loadKeyFromFile(path string) (*SigningKey, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- path comes from operator configuration
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	var key crypto.Signer
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		var parsed any
		parsed, err = x509.ParsePKCS8PrivateKey(block.Bytes)
		if err == nil {
			signer, ok := parsed.(crypto.Signer)
			if !ok {
				return nil, fmt.Errorf("unsupported PKCS#8 key type %T", parsed)
			}
			key = signer
		}
	default:
		return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
	}
	if err != nil {
		return nil, err
	}

	kid, alg, err := deriveParams(key)
	if err != nil {
		return nil, err
	}
	return &SigningKey{KeyID: kid, Algorithm: alg, Key: key}, nil
}
