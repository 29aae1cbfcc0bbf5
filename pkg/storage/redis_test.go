// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oauthkit/oauthkit/pkg/authorize"
	"github.com/oauthkit/oauthkit/pkg/client"
	"github.com/oauthkit/oauthkit/pkg/databag"
	"github.com/oauthkit/oauthkit/pkg/id"
	"github.com/oauthkit/oauthkit/pkg/token"
)

var _ Backend = &Redis{}

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	c := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })

	return NewRedisWithClient(c, "test"), mr
}

func TestRedisClientRoundTrip(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx := context.Background()

	cid := mustClientID(t, "c1")
	meta := databag.New()
	meta.Set("client_name", "Test App")
	c := client.New(cid, meta)
	c.SecretHash = []byte("$2a$04$fakehash")
	c.MarkDeleted()

	require.NoError(t, s.SaveClient(ctx, c))

	got, err := s.FindClient(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, cid, got.ID)
	assert.Equal(t, "Test App", got.Metadata.GetStringDefault("client_name", ""))
	assert.Equal(t, []byte("$2a$04$fakehash"), got.SecretHash)
	assert.True(t, got.Deleted)

	_, err = s.FindClient(ctx, mustClientID(t, "ghost"))
	assert.ErrorIs(t, err, client.ErrNotFound)
}

func TestRedisCreateClientID(t *testing.T) {
	s, _ := newTestRedis(t)

	a, err := s.CreateClientID(context.Background())
	require.NoError(t, err)
	b, err := s.CreateClientID(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestRedisAccessTokenRoundTrip(t *testing.T) {
	s, mr := newTestRedis(t)
	ctx := context.Background()

	cid := mustClientID(t, "c1")
	owner := id.OwnerFromUserAccount(mustAccountID(t, "u1"))
	at := token.NewAccessToken(cid, owner, time.Now().Add(time.Hour))
	at.SetScope([]string{"openid"})
	at.Metadata.Set("redirect_uri", "https://app.example/cb")

	require.NoError(t, s.SaveAccessToken(ctx, at))

	got, err := s.FindAccessToken(ctx, at.ID)
	require.NoError(t, err)
	assert.Equal(t, cid, got.ClientID)
	assert.Equal(t, owner, got.ResourceOwner)
	assert.Equal(t, "openid", got.Parameters.GetStringDefault("scope", ""))
	assert.Equal(t, "https://app.example/cb", got.Metadata.GetStringDefault("redirect_uri", ""))

	// Redis evicts the record once the token's TTL fully runs out.
	mr.FastForward(2 * time.Hour)
	_, err = s.FindAccessToken(ctx, at.ID)
	assert.ErrorIs(t, err, token.ErrNotFound)
}

func TestRedisAuthorizationCodeSingleUse(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx := context.Background()

	code := token.NewAuthorizationCode(
		mustClientID(t, "c1"),
		mustAccountID(t, "u1"),
		url.Values{"scope": {"openid"}, "code_challenge": {"abc"}},
		"https://app.example/cb",
		time.Now().Add(10*time.Minute),
	)
	require.NoError(t, s.SaveAuthorizationCode(ctx, code))

	fresh, err := s.FindAuthorizationCode(ctx, code.ID)
	require.NoError(t, err)
	assert.False(t, fresh.Used)
	challenge, _ := fresh.CodeChallenge()
	assert.Equal(t, "abc", challenge)

	require.NoError(t, s.MarkAuthorizationCodeUsed(ctx, code.ID))
	assert.ErrorIs(t, s.MarkAuthorizationCodeUsed(ctx, code.ID), token.ErrCodeAlreadyUsed)

	// The used marker overlays the stored record even though the record
	// itself was never rewritten.
	redeemed, err := s.FindAuthorizationCode(ctx, code.ID)
	require.NoError(t, err)
	assert.True(t, redeemed.Used)

	assert.ErrorIs(t, s.MarkAuthorizationCodeUsed(ctx, id.GenerateAuthorizationCodeID()), token.ErrNotFound)
}

func TestRedisRefreshTokenRoundTrip(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx := context.Background()

	rt := token.NewRefreshToken(
		mustClientID(t, "c1"),
		id.OwnerFromUserAccount(mustAccountID(t, "u1")),
		[]string{"openid", "offline_access"},
		time.Now().Add(24*time.Hour),
	)
	require.NoError(t, s.SaveRefreshToken(ctx, rt))

	got, err := s.FindRefreshToken(ctx, rt.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"openid", "offline_access"}, got.Scopes)

	got.Revoke()
	require.NoError(t, s.SaveRefreshToken(ctx, got))

	again, err := s.FindRefreshToken(ctx, rt.ID)
	require.NoError(t, err)
	assert.True(t, again.Revoked)
}

func TestRedisRevokeForClient(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx := context.Background()

	mine := mustClientID(t, "mine")
	other := mustClientID(t, "other")
	owner := id.OwnerFromUserAccount(mustAccountID(t, "u1"))

	at := token.NewAccessToken(mine, owner, time.Now().Add(time.Hour))
	rt := token.NewRefreshToken(mine, owner, []string{"openid"}, time.Now().Add(time.Hour))
	code := token.NewAuthorizationCode(mine, mustAccountID(t, "u1"), url.Values{}, "https://app.example/cb", time.Now().Add(10*time.Minute))
	foreign := token.NewAccessToken(other, owner, time.Now().Add(time.Hour))
	require.NoError(t, s.SaveAccessToken(ctx, at))
	require.NoError(t, s.SaveRefreshToken(ctx, rt))
	require.NoError(t, s.SaveAuthorizationCode(ctx, code))
	require.NoError(t, s.SaveAccessToken(ctx, foreign))

	require.NoError(t, s.RevokeForClient(ctx, mine))

	gotAT, err := s.FindAccessToken(ctx, at.ID)
	require.NoError(t, err)
	assert.True(t, gotAT.Revoked)

	gotRT, err := s.FindRefreshToken(ctx, rt.ID)
	require.NoError(t, err)
	assert.True(t, gotRT.Revoked)

	gotCode, err := s.FindAuthorizationCode(ctx, code.ID)
	require.NoError(t, err)
	assert.True(t, gotCode.Revoked)

	gotForeign, err := s.FindAccessToken(ctx, foreign.ID)
	require.NoError(t, err)
	assert.False(t, gotForeign.Revoked)
}

func TestRedisRequestStorage(t *testing.T) {
	s, mr := newTestRedis(t)
	ctx := context.Background()

	c := client.New(mustClientID(t, "c1"), databag.New())
	ar := authorize.NewRequest(c, url.Values{"response_type": {"code"}, "state": {"xyz"}}, "https://app.example/cb")

	require.NoError(t, s.SetRequest(ctx, ar.ID, ar))

	got, err := s.GetRequest(ctx, ar.ID)
	require.NoError(t, err)
	assert.Equal(t, ar.ID, got.ID)
	assert.Equal(t, "xyz", got.Query.Get("state"))
	assert.Nil(t, got.Client)

	// Suspended requests expire with their TTL.
	mr.FastForward(2 * DefaultRequestTTL)
	_, err = s.GetRequest(ctx, ar.ID)
	assert.ErrorIs(t, err, authorize.ErrRequestNotFound)

	assert.NoError(t, s.RemoveRequest(ctx, "ghost"))
}

func TestRedisClaimJTI(t *testing.T) {
	s, mr := newTestRedis(t)
	ctx := context.Background()

	exp := time.Now().Add(5 * time.Minute)
	require.NoError(t, s.ClaimJTI(ctx, "jti-1", exp))
	assert.ErrorIs(t, s.ClaimJTI(ctx, "jti-1", exp), ErrJTIReplayed)

	mr.FastForward(10 * time.Minute)
	assert.NoError(t, s.ClaimJTI(ctx, "jti-1", time.Now().Add(5*time.Minute)))
}

func TestRedisInitialAccessToken(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx := context.Background()

	owner := mustAccountID(t, "admin")
	require.NoError(t, s.PutInitialAccessToken(ctx, "iat-secret", owner))

	got, err := s.Validate(ctx, "iat-secret")
	require.NoError(t, err)
	assert.Equal(t, owner, got)

	_, err = s.Validate(ctx, "wrong")
	assert.ErrorIs(t, err, ErrInvalidInitialAccessToken)
}

func TestRedisHealth(t *testing.T) {
	s, mr := newTestRedis(t)

	assert.NoError(t, s.Health(context.Background()))

	mr.Close()
	assert.Error(t, s.Health(context.Background()))
}
