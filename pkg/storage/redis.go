// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oauthkit/oauthkit/pkg/authorize"
	"github.com/oauthkit/oauthkit/pkg/client"
	"github.com/oauthkit/oauthkit/pkg/id"
	"github.com/oauthkit/oauthkit/pkg/token"
)

const (
	// DefaultKeyPrefix namespaces every key so multiple deployments can
	// share one Redis instance.
	DefaultKeyPrefix = "oauthkit"

	// DefaultUsedCodeTTL is how long the used-marker of a redeemed
	// authorization code outlives the code itself, so a replayed code
	// is reported as already used rather than unknown.
	DefaultUsedCodeTTL = 24 * time.Hour

	// expiredRecordTTL keeps an already-expired record around briefly
	// so a late redemption reports expiry instead of absence.
	expiredRecordTTL = time.Minute
)

// Key kinds, the middle segment of every key.
const (
	keyKindClient      = "client"
	keyKindAccessToken = "access_token"
	keyKindAuthCode    = "auth_code"
	keyKindCodeUsed    = "auth_code_used"
	keyKindRefresh     = "refresh_token"
	keyKindRequest     = "authz_request"
	keyKindJTI         = "assertion_jti"
	keyKindInitial     = "initial_access_token"
	keyKindClientIndex = "client_index"
)

// RedisConfig carries the connection and behavior settings of the Redis
// backend.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string

	// Password authenticates the connection; empty means no AUTH.
	Password string

	// DB selects the logical database.
	DB int

	// KeyPrefix namespaces all keys; DefaultKeyPrefix when empty.
	KeyPrefix string

	// RequestTTL bounds how long suspended authorization requests
	// live; DefaultRequestTTL when zero.
	RequestTTL time.Duration
}

// Redis is the shared-state backend. Every record is a JSON document
// with a TTL derived from the credential's own expiry, so Redis evicts
// what the framework no longer needs.
type Redis struct {
	client     redis.UniversalClient
	keyPrefix  string
	requestTTL time.Duration
	now        func() time.Time
}

// NewRedis connects to the configured server and verifies the
// connection with a ping.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	c := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}

	s := NewRedisWithClient(c, cfg.KeyPrefix)
	if cfg.RequestTTL > 0 {
		s.requestTTL = cfg.RequestTTL
	}
	return s, nil
}

// NewRedisWithClient wraps an existing client, which the caller remains
// responsible for configuring. Used by tests and by hosts that manage
// their own connection pools.
func NewRedisWithClient(c redis.UniversalClient, keyPrefix string) *Redis {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &Redis{
		client:     c,
		keyPrefix:  keyPrefix,
		requestTTL: DefaultRequestTTL,
		now:        time.Now,
	}
}

// Health pings the server.
func (s *Redis) Health(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Redis) Close() error {
	return s.client.Close()
}

func (s *Redis) key(kind, id string) string {
	return s.keyPrefix + ":" + kind + ":" + id
}

// recordTTL converts a credential expiry into a key TTL.
func (s *Redis) recordTTL(expiresAt time.Time) time.Duration {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return expiredRecordTTL
	}
	return ttl + expiredRecordTTL
}

// -----------------------
// client.Repository
// -----------------------

// FindClient returns the stored client, soft-deleted ones included.
func (s *Redis) FindClient(ctx context.Context, clientID id.ClientID) (*client.Client, error) {
	raw, err := s.client.Get(ctx, s.key(keyKindClient, clientID.String())).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, client.ErrNotFound
		}
		return nil, fmt.Errorf("get client: %w", err)
	}

	c := &client.Client{}
	if err := json.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("decode client: %w", err)
	}
	return c, nil
}

// SaveClient persists the client. Clients have no TTL; soft-deleted
// ones stay resident.
func (s *Redis) SaveClient(ctx context.Context, c *client.Client) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode client: %w", err)
	}
	if err := s.client.Set(ctx, s.key(keyKindClient, c.ID.String()), raw, 0).Err(); err != nil {
		return fmt.Errorf("save client: %w", err)
	}
	return nil
}

// CreateClientID allocates a fresh, unused client identifier.
func (s *Redis) CreateClientID(ctx context.Context) (id.ClientID, error) {
	for {
		candidate := id.GenerateClientID()
		n, err := s.client.Exists(ctx, s.key(keyKindClient, candidate.String())).Result()
		if err != nil {
			return id.ClientID{}, fmt.Errorf("check client id: %w", err)
		}
		if n == 0 {
			return candidate, nil
		}
	}
}

// -----------------------
// token repositories
// -----------------------

// FindAccessToken returns the token with the given id, or
// token.ErrNotFound.
func (s *Redis) FindAccessToken(ctx context.Context, tokenID id.AccessTokenID) (*token.AccessToken, error) {
	var r accessTokenRecord
	if err := s.getRecord(ctx, s.key(keyKindAccessToken, tokenID.String()), &r); err != nil {
		return nil, err
	}
	return r.aggregate(), nil
}

// SaveAccessToken persists the token with a TTL derived from its
// expiry, and indexes it for cascading revocation.
func (s *Redis) SaveAccessToken(ctx context.Context, t *token.AccessToken) error {
	key := s.key(keyKindAccessToken, t.ID.String())
	if err := s.setRecord(ctx, key, encodeAccessToken(t), s.recordTTL(t.ExpiresAt)); err != nil {
		return err
	}
	return s.indexForClient(ctx, t.ClientID, keyKindAccessToken, t.ID.String())
}

// FindAuthorizationCode returns the code with the given id, or
// token.ErrNotFound. A redeemed code carries Used regardless of what
// the record itself says, so replay detection survives concurrent
// writers.
func (s *Redis) FindAuthorizationCode(ctx context.Context, codeID id.AuthorizationCodeID) (*token.AuthorizationCode, error) {
	var r authorizationCodeRecord
	if err := s.getRecord(ctx, s.key(keyKindAuthCode, codeID.String()), &r); err != nil {
		return nil, err
	}

	used, err := s.client.Exists(ctx, s.key(keyKindCodeUsed, codeID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("check code used marker: %w", err)
	}
	if used > 0 {
		r.Used = true
	}
	return r.aggregate(), nil
}

// SaveAuthorizationCode persists the code with a TTL derived from its
// expiry, and indexes it for cascading revocation.
func (s *Redis) SaveAuthorizationCode(ctx context.Context, c *token.AuthorizationCode) error {
	key := s.key(keyKindAuthCode, c.ID.String())
	if err := s.setRecord(ctx, key, encodeAuthorizationCode(c), s.recordTTL(c.ExpiresAt)); err != nil {
		return err
	}
	return s.indexForClient(ctx, c.ClientID, keyKindAuthCode, c.ID.String())
}

// MarkAuthorizationCodeUsed flips the code's Used flag through a SETNX
// marker key, which makes the redemption race a single atomic step: of
// two concurrent calls exactly one wins the SETNX and the other
// observes token.ErrCodeAlreadyUsed.
func (s *Redis) MarkAuthorizationCodeUsed(ctx context.Context, codeID id.AuthorizationCodeID) error {
	n, err := s.client.Exists(ctx, s.key(keyKindAuthCode, codeID.String())).Result()
	if err != nil {
		return fmt.Errorf("check authorization code: %w", err)
	}
	if n == 0 {
		return token.ErrNotFound
	}

	ok, err := s.client.SetNX(ctx, s.key(keyKindCodeUsed, codeID.String()), "1", DefaultUsedCodeTTL).Result()
	if err != nil {
		return fmt.Errorf("mark authorization code used: %w", err)
	}
	if !ok {
		return token.ErrCodeAlreadyUsed
	}
	return nil
}

// FindRefreshToken returns the token with the given id, or
// token.ErrNotFound.
func (s *Redis) FindRefreshToken(ctx context.Context, tokenID id.RefreshTokenID) (*token.RefreshToken, error) {
	var r refreshTokenRecord
	if err := s.getRecord(ctx, s.key(keyKindRefresh, tokenID.String()), &r); err != nil {
		return nil, err
	}
	return r.aggregate(), nil
}

// SaveRefreshToken persists the token with a TTL derived from its
// expiry, and indexes it for cascading revocation.
func (s *Redis) SaveRefreshToken(ctx context.Context, t *token.RefreshToken) error {
	key := s.key(keyKindRefresh, t.ID.String())
	if err := s.setRecord(ctx, key, encodeRefreshToken(t), s.recordTTL(t.ExpiresAt)); err != nil {
		return err
	}
	return s.indexForClient(ctx, t.ClientID, keyKindRefresh, t.ID.String())
}

// RevokeForClient revokes every live credential issued to the client,
// walking the per-client index maintained by the Save methods.
func (s *Redis) RevokeForClient(ctx context.Context, clientID id.ClientID) error {
	members, err := s.client.SMembers(ctx, s.key(keyKindClientIndex, clientID.String())).Result()
	if err != nil {
		return fmt.Errorf("load client credential index: %w", err)
	}

	for _, member := range members {
		kind, credentialID, ok := splitIndexMember(member)
		if !ok {
			continue
		}
		if err := s.revokeIndexed(ctx, kind, credentialID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Redis) revokeIndexed(ctx context.Context, kind, credentialID string) error {
	key := s.key(kind, credentialID)

	switch kind {
	case keyKindAccessToken:
		var r accessTokenRecord
		if err := s.getRecord(ctx, key, &r); err != nil {
			if errors.Is(err, token.ErrNotFound) {
				return nil
			}
			return err
		}
		r.Revoked = true
		return s.setRecord(ctx, key, r, s.recordTTL(r.ExpiresAt))

	case keyKindRefresh:
		var r refreshTokenRecord
		if err := s.getRecord(ctx, key, &r); err != nil {
			if errors.Is(err, token.ErrNotFound) {
				return nil
			}
			return err
		}
		r.Revoked = true
		return s.setRecord(ctx, key, r, s.recordTTL(r.ExpiresAt))

	case keyKindAuthCode:
		var r authorizationCodeRecord
		if err := s.getRecord(ctx, key, &r); err != nil {
			if errors.Is(err, token.ErrNotFound) {
				return nil
			}
			return err
		}
		r.Revoked = true
		return s.setRecord(ctx, key, r, s.recordTTL(r.ExpiresAt))
	}
	return nil
}

func (s *Redis) indexForClient(ctx context.Context, clientID id.ClientID, kind, credentialID string) error {
	if err := s.client.SAdd(ctx, s.key(keyKindClientIndex, clientID.String()), kind+"/"+credentialID).Err(); err != nil {
		return fmt.Errorf("index credential for client: %w", err)
	}
	return nil
}

func splitIndexMember(member string) (kind, credentialID string, ok bool) {
	for i := 0; i < len(member); i++ {
		if member[i] == '/' {
			return member[:i], member[i+1:], true
		}
	}
	return "", "", false
}

// -----------------------
// authorize.RequestStorage
// -----------------------

// SetRequest persists a suspended authorization request under its id.
func (s *Redis) SetRequest(ctx context.Context, requestID string, ar *authorize.Request) error {
	raw, err := json.Marshal(ar)
	if err != nil {
		return fmt.Errorf("encode authorization request: %w", err)
	}
	if err := s.client.Set(ctx, s.key(keyKindRequest, requestID), raw, s.requestTTL).Err(); err != nil {
		return fmt.Errorf("save authorization request: %w", err)
	}
	return nil
}

// GetRequest returns the suspended request, or
// authorize.ErrRequestNotFound when it is unknown or has expired.
func (s *Redis) GetRequest(ctx context.Context, requestID string) (*authorize.Request, error) {
	raw, err := s.client.Get(ctx, s.key(keyKindRequest, requestID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, authorize.ErrRequestNotFound
		}
		return nil, fmt.Errorf("get authorization request: %w", err)
	}

	ar := &authorize.Request{}
	if err := json.Unmarshal(raw, ar); err != nil {
		return nil, fmt.Errorf("decode authorization request: %w", err)
	}
	return ar, nil
}

// RemoveRequest discards the request. Removing an unknown id is not an
// error.
func (s *Redis) RemoveRequest(ctx context.Context, requestID string) error {
	if err := s.client.Del(ctx, s.key(keyKindRequest, requestID)).Err(); err != nil {
		return fmt.Errorf("remove authorization request: %w", err)
	}
	return nil
}

// -----------------------
// clientauth.ReplayGuard
// -----------------------

// ClaimJTI records the assertion's jti with SETNX, expiring with the
// assertion itself. A second claim before expiry returns ErrJTIReplayed.
func (s *Redis) ClaimJTI(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		ttl = time.Second
	}

	ok, err := s.client.SetNX(ctx, s.key(keyKindJTI, jti), "1", ttl).Result()
	if err != nil {
		return fmt.Errorf("claim assertion jti: %w", err)
	}
	if !ok {
		return ErrJTIReplayed
	}
	return nil
}

// -----------------------
// client.InitialAccessTokenValidator
// -----------------------

// PutInitialAccessToken registers an initial access token that gates
// dynamic client registration, bound to the given owner.
func (s *Redis) PutInitialAccessToken(ctx context.Context, tok string, owner id.UserAccountID) error {
	if err := s.client.Set(ctx, s.key(keyKindInitial, tok), owner.String(), 0).Err(); err != nil {
		return fmt.Errorf("save initial access token: %w", err)
	}
	return nil
}

// Validate resolves the presented initial access token to its owner.
func (s *Redis) Validate(ctx context.Context, tok string) (id.UserAccountID, error) {
	raw, err := s.client.Get(ctx, s.key(keyKindInitial, tok)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return id.UserAccountID{}, ErrInvalidInitialAccessToken
		}
		return id.UserAccountID{}, fmt.Errorf("get initial access token: %w", err)
	}
	return id.NewUserAccountID(raw)
}

func (s *Redis) getRecord(ctx context.Context, key string, into any) error {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return token.ErrNotFound
		}
		return fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *Redis) setRecord(ctx context.Context, key string, record any, ttl time.Duration) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}
