// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/oauthkit/oauthkit/pkg/client/rules"
	"github.com/oauthkit/oauthkit/pkg/databag"
	"github.com/oauthkit/oauthkit/pkg/id"
	"github.com/oauthkit/oauthkit/pkg/oauth2"
)

// InitialAccessTokenValidator gates client registration when the server
// is configured for protected registration per RFC 7591 Section 1.2. A
// nil validator means open registration.
type InitialAccessTokenValidator interface {
	// Validate checks the presented initial access token and returns the
	// owner to attach to the new client, or an error.
	Validate(ctx context.Context, token string) (id.UserAccountID, error)
}

// TokenRevoker cascades revocation when a client is soft-deleted. The
// storage backends implement it.
type TokenRevoker interface {
	RevokeForClient(ctx context.Context, clientID id.ClientID) error
}

// Service executes the client lifecycle commands: registration, update,
// owner change, and soft deletion. All registration parameters pass
// through the rule chain before anything is persisted.
type Service struct {
	repo      Repository
	chain     *rules.Chain
	logger    *slog.Logger
	gate      InitialAccessTokenValidator
	revoker   TokenRevoker
	secretTTL time.Duration
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithInitialAccessTokenValidator enables protected registration.
func WithInitialAccessTokenValidator(v InitialAccessTokenValidator) ServiceOption {
	return func(s *Service) { s.gate = v }
}

// WithTokenRevoker enables cascading token revocation on client deletion.
func WithTokenRevoker(r TokenRevoker) ServiceOption {
	return func(s *Service) { s.revoker = r }
}

// WithSecretLifetime sets how long provisioned client secrets stay valid.
// Zero means secrets never expire.
func WithSecretLifetime(ttl time.Duration) ServiceOption {
	return func(s *Service) { s.secretTTL = ttl }
}

// NewService creates a client lifecycle service.
func NewService(repo Repository, chain *rules.Chain, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{repo: repo, chain: chain, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a new client. When an initial access token validator
// is configured, initialAccessToken must verify and the resulting account
// becomes the client's owner. The returned secret is the plaintext client
// secret for confidential clients, shown exactly once; only its bcrypt
// hash is persisted.
func (s *Service) Create(ctx context.Context, incoming *databag.Bag, initialAccessToken string) (*Client, string, error) {
	var owner id.UserAccountID
	if s.gate != nil {
		if initialAccessToken == "" {
			return nil, "", oauth2.ErrInvalidRequest.WithDescription("an initial access token is required for registration")
		}
		o, err := s.gate.Validate(ctx, initialAccessToken)
		if err != nil {
			return nil, "", oauth2.ErrInvalidRequest.WithDescription("initial access token is invalid").WithCause(err)
		}
		owner = o
	}

	clientID, err := s.repo.CreateClientID(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("allocate client id: %w", err)
	}

	validated, err := s.chain.Process(ctx, clientID, incoming)
	if err != nil {
		return nil, "", err
	}

	c := New(clientID, validated)
	if !owner.IsZero() {
		c.SetOwner(owner)
	}

	secret := ""
	if !c.IsPublic() && requiresSecret(c.TokenEndpointAuthMethod()) {
		secret, err = s.provisionSecret(c)
		if err != nil {
			return nil, "", err
		}
	}

	if err := s.repo.Save(ctx, c); err != nil {
		return nil, "", fmt.Errorf("save client: %w", err)
	}
	s.logger.Info("client registered",
		"client_id", clientID.String(),
		"auth_method", c.TokenEndpointAuthMethod(),
	)
	return c, secret, nil
}

// Update re-validates the incoming parameters through the rule chain and
// replaces the client's metadata. The client identity, owner, secret hash
// and deletion state are untouched.
func (s *Service) Update(ctx context.Context, clientID id.ClientID, incoming *databag.Bag) (*Client, error) {
	c, err := s.repo.Find(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if c.Deleted {
		return nil, ErrNotFound
	}
	validated, err := s.chain.Process(ctx, clientID, incoming)
	if err != nil {
		return nil, err
	}
	// Preserve the original issuance timestamp across updates.
	if issuedAt, err := c.Metadata.GetInt64(oauth2.MetadataClientIDIssuedAt); err == nil {
		validated.Set(oauth2.MetadataClientIDIssuedAt, issuedAt)
	}
	c.Metadata = validated
	if err := s.repo.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("save client: %w", err)
	}
	return c, nil
}

// ChangeOwner reassigns the client to a different user account.
func (s *Service) ChangeOwner(ctx context.Context, clientID id.ClientID, owner id.UserAccountID) error {
	c, err := s.repo.Find(ctx, clientID)
	if err != nil {
		return err
	}
	if c.Deleted {
		return ErrNotFound
	}
	c.SetOwner(owner)
	if err := s.repo.Save(ctx, c); err != nil {
		return fmt.Errorf("save client: %w", err)
	}
	return nil
}

// Delete soft-deletes the client and cascades revocation of its issued
// tokens when a revoker is configured. The record itself is never purged.
func (s *Service) Delete(ctx context.Context, clientID id.ClientID) error {
	c, err := s.repo.Find(ctx, clientID)
	if err != nil {
		return err
	}
	if c.Deleted {
		return nil
	}
	c.MarkDeleted()
	if err := s.repo.Save(ctx, c); err != nil {
		return fmt.Errorf("save client: %w", err)
	}
	if s.revoker != nil {
		if err := s.revoker.RevokeForClient(ctx, clientID); err != nil {
			s.logger.Error("cascading revocation failed",
				"client_id", clientID.String(),
				"error", err,
			)
			return fmt.Errorf("revoke tokens for deleted client: %w", err)
		}
	}
	s.logger.Info("client deleted", "client_id", clientID.String())
	return nil
}

// VerifySecret compares the presented secret against the stored hash in
// constant time.
func (c *Client) VerifySecret(secret string) bool {
	if len(c.SecretHash) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(c.SecretHash, []byte(secret)) == nil
}

// requiresSecret reports whether the auth method relies on a shared
// secret provisioned by the server. private_key_jwt clients register a
// public key instead.
func requiresSecret(method string) bool {
	switch method {
	case "client_secret_basic", "client_secret_post", "client_secret_jwt":
		return true
	}
	return false
}

func (s *Service) provisionSecret(c *Client) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate client secret: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(raw)
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash client secret: %w", err)
	}
	c.SecretHash = hash
	// HMAC client assertions are verified against the raw secret bytes,
	// so the hash alone is not enough for client_secret_jwt.
	if c.TokenEndpointAuthMethod() == "client_secret_jwt" {
		c.Metadata.Set(oauth2.ParamClientSecret, secret)
	}
	if s.secretTTL > 0 {
		c.Metadata.Set(oauth2.MetadataClientSecretExpiresAt, time.Now().Add(s.secretTTL).Unix())
	} else {
		c.Metadata.Set(oauth2.MetadataClientSecretExpiresAt, int64(0))
	}
	return secret, nil
}
