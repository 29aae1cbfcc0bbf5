// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/oauthkit/oauthkit/pkg/authorize"
	"github.com/oauthkit/oauthkit/pkg/client"
	"github.com/oauthkit/oauthkit/pkg/databag"
	"github.com/oauthkit/oauthkit/pkg/id"
	"github.com/oauthkit/oauthkit/pkg/token"
	"github.com/oauthkit/oauthkit/pkg/user"
)

var (
	_ client.Repository                  = Clients(&Memory{})
	_ token.AccessTokenRepository        = AccessTokens(&Memory{})
	_ token.AuthorizationCodeRepository  = AuthorizationCodes(&Memory{})
	_ token.RefreshTokenRepository       = RefreshTokens(&Memory{})
	_ authorize.RequestStorage           = Requests(&Memory{})
	_ user.Repository                    = Accounts(&Memory{})
	_ client.TokenRevoker                = &Memory{}
	_ client.InitialAccessTokenValidator = &Memory{}
)

func newTestMemory(t *testing.T) *Memory {
	t.Helper()
	s := NewMemory(WithCleanupInterval(time.Hour))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustClientID(t *testing.T, v string) id.ClientID {
	t.Helper()
	cid, err := id.NewClientID(v)
	require.NoError(t, err)
	return cid
}

func mustAccountID(t *testing.T, v string) id.UserAccountID {
	t.Helper()
	uid, err := id.NewUserAccountID(v)
	require.NoError(t, err)
	return uid
}

func TestMemoryClientRoundTrip(t *testing.T) {
	s := newTestMemory(t)
	ctx := context.Background()

	cid := mustClientID(t, "c1")
	meta := databag.New()
	meta.Set("client_name", "Test App")
	meta.Set("redirect_uris", []string{"https://app.example/cb"})
	c := client.New(cid, meta)
	c.SecretHash = []byte("$2a$04$fakehash")

	require.NoError(t, s.SaveClient(ctx, c))

	got, err := s.FindClient(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, cid, got.ID)
	assert.Equal(t, []byte("$2a$04$fakehash"), got.SecretHash)
	name, err := got.Metadata.GetString("client_name")
	require.NoError(t, err)
	assert.Equal(t, "Test App", name)

	// Mutating the returned copy must not leak into the store.
	got.Metadata.Set("client_name", "Tampered")
	got.MarkDeleted()

	again, err := s.FindClient(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, "Test App", again.Metadata.GetStringDefault("client_name", ""))
	assert.False(t, again.Deleted)
}

func TestMemoryClientNotFound(t *testing.T) {
	s := newTestMemory(t)

	_, err := s.FindClient(context.Background(), mustClientID(t, "ghost"))
	assert.ErrorIs(t, err, client.ErrNotFound)
}

func TestMemoryCreateClientID(t *testing.T) {
	s := newTestMemory(t)

	a, err := s.CreateClientID(context.Background())
	require.NoError(t, err)
	b, err := s.CreateClientID(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestMemoryAccessTokenRoundTrip(t *testing.T) {
	s := newTestMemory(t)
	ctx := context.Background()

	cid := mustClientID(t, "c1")
	owner := id.OwnerFromUserAccount(mustAccountID(t, "u1"))
	at := token.NewAccessToken(cid, owner, time.Now().Add(time.Hour))
	at.SetScope([]string{"openid", "profile"})

	require.NoError(t, s.SaveAccessToken(ctx, at))

	got, err := s.FindAccessToken(ctx, at.ID)
	require.NoError(t, err)
	assert.Equal(t, cid, got.ClientID)
	assert.Equal(t, owner, got.ResourceOwner)
	assert.Equal(t, "Bearer", got.Parameters.GetStringDefault("token_type", ""))
	assert.Equal(t, "openid profile", got.Parameters.GetStringDefault("scope", ""))

	_, err = s.FindAccessToken(ctx, id.GenerateAccessTokenID())
	assert.ErrorIs(t, err, token.ErrNotFound)
}

func TestMemoryAuthorizationCodeSingleUse(t *testing.T) {
	s := newTestMemory(t)
	ctx := context.Background()

	code := token.NewAuthorizationCode(
		mustClientID(t, "c1"),
		mustAccountID(t, "u1"),
		url.Values{"scope": {"openid"}},
		"https://app.example/cb",
		time.Now().Add(10*time.Minute),
	)
	require.NoError(t, s.SaveAuthorizationCode(ctx, code))

	require.NoError(t, s.MarkAuthorizationCodeUsed(ctx, code.ID))
	assert.ErrorIs(t, s.MarkAuthorizationCodeUsed(ctx, code.ID), token.ErrCodeAlreadyUsed)

	got, err := s.FindAuthorizationCode(ctx, code.ID)
	require.NoError(t, err)
	assert.True(t, got.Used)
	assert.Equal(t, "https://app.example/cb", got.RedirectURI)
	assert.Equal(t, "openid", got.Query.Get("scope"))

	assert.ErrorIs(t, s.MarkAuthorizationCodeUsed(ctx, id.GenerateAuthorizationCodeID()), token.ErrNotFound)
}

func TestMemoryMarkUsedIsAtomic(t *testing.T) {
	s := newTestMemory(t)
	ctx := context.Background()

	code := token.NewAuthorizationCode(
		mustClientID(t, "c1"),
		mustAccountID(t, "u1"),
		url.Values{},
		"https://app.example/cb",
		time.Now().Add(10*time.Minute),
	)
	require.NoError(t, s.SaveAuthorizationCode(ctx, code))

	const attempts = 32
	results := make([]error, attempts)
	var wg sync.WaitGroup
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = s.MarkAuthorizationCodeUsed(ctx, code.ID)
		}()
	}
	wg.Wait()

	var wins, replays int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case assert.ErrorIs(t, err, token.ErrCodeAlreadyUsed):
			replays++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, attempts-1, replays)
}

func TestMemoryRefreshTokenRoundTrip(t *testing.T) {
	s := newTestMemory(t)
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
	assert.False(t, got.Revoked)

	got.Revoke()
	require.NoError(t, s.SaveRefreshToken(ctx, got))

	again, err := s.FindRefreshToken(ctx, rt.ID)
	require.NoError(t, err)
	assert.True(t, again.Revoked)
}

func TestMemoryRevokeForClient(t *testing.T) {
	s := newTestMemory(t)
	ctx := context.Background()

	mine := mustClientID(t, "mine")
	other := mustClientID(t, "other")
	owner := id.OwnerFromUserAccount(mustAccountID(t, "u1"))

	at := token.NewAccessToken(mine, owner, time.Now().Add(time.Hour))
	rt := token.NewRefreshToken(mine, owner, []string{"openid"}, time.Now().Add(time.Hour))
	foreign := token.NewAccessToken(other, owner, time.Now().Add(time.Hour))
	require.NoError(t, s.SaveAccessToken(ctx, at))
	require.NoError(t, s.SaveRefreshToken(ctx, rt))
	require.NoError(t, s.SaveAccessToken(ctx, foreign))

	require.NoError(t, s.RevokeForClient(ctx, mine))

	gotAT, err := s.FindAccessToken(ctx, at.ID)
	require.NoError(t, err)
	assert.True(t, gotAT.Revoked)

	gotRT, err := s.FindRefreshToken(ctx, rt.ID)
	require.NoError(t, err)
	assert.True(t, gotRT.Revoked)

	gotForeign, err := s.FindAccessToken(ctx, foreign.ID)
	require.NoError(t, err)
	assert.False(t, gotForeign.Revoked)
}

func TestMemoryRequestStorage(t *testing.T) {
	s := newTestMemory(t)
	ctx := context.Background()

	c := client.New(mustClientID(t, "c1"), databag.New())
	ar := authorize.NewRequest(c, url.Values{"response_type": {"code"}, "state": {"xyz"}}, "https://app.example/cb")

	require.NoError(t, s.SetRequest(ctx, ar.ID, ar))

	got, err := s.GetRequest(ctx, ar.ID)
	require.NoError(t, err)
	assert.Equal(t, ar.ID, got.ID)
	assert.Equal(t, "xyz", got.Query.Get("state"))
	// Transient pointers never survive storage.
	assert.Nil(t, got.Client)

	require.NoError(t, s.RemoveRequest(ctx, ar.ID))
	_, err = s.GetRequest(ctx, ar.ID)
	assert.ErrorIs(t, err, authorize.ErrRequestNotFound)

	// Removing an unknown id is not an error.
	assert.NoError(t, s.RemoveRequest(ctx, "ghost"))
}

func TestMemoryRequestExpiry(t *testing.T) {
	s := newTestMemory(t)
	ctx := context.Background()

	c := client.New(mustClientID(t, "c1"), databag.New())
	ar := authorize.NewRequest(c, url.Values{}, "https://app.example/cb")
	require.NoError(t, s.SetRequest(ctx, ar.ID, ar))

	s.now = func() time.Time { return time.Now().Add(2 * DefaultRequestTTL) }

	_, err := s.GetRequest(ctx, ar.ID)
	assert.ErrorIs(t, err, authorize.ErrRequestNotFound)
}

func TestMemoryCleanupExpired(t *testing.T) {
	s := newTestMemory(t)
	ctx := context.Background()

	cid := mustClientID(t, "c1")
	owner := id.OwnerFromUserAccount(mustAccountID(t, "u1"))
	stale := token.NewAccessToken(cid, owner, time.Now().Add(-time.Minute))
	live := token.NewAccessToken(cid, owner, time.Now().Add(time.Hour))
	require.NoError(t, s.SaveAccessToken(ctx, stale))
	require.NoError(t, s.SaveAccessToken(ctx, live))

	// Before the sweep an expired record is still visible, so a late
	// redemption reports expiry instead of absence.
	got, err := s.FindAccessToken(ctx, stale.ID)
	require.NoError(t, err)
	assert.True(t, got.HasExpired(time.Now()))

	s.cleanupExpired()

	_, err = s.FindAccessToken(ctx, stale.ID)
	assert.ErrorIs(t, err, token.ErrNotFound)
	_, err = s.FindAccessToken(ctx, live.ID)
	assert.NoError(t, err)
}

func TestMemoryClaimJTI(t *testing.T) {
	s := newTestMemory(t)
	ctx := context.Background()

	exp := time.Now().Add(5 * time.Minute)
	require.NoError(t, s.ClaimJTI(ctx, "jti-1", exp))
	assert.ErrorIs(t, s.ClaimJTI(ctx, "jti-1", exp), ErrJTIReplayed)

	// A different jti is independent.
	assert.NoError(t, s.ClaimJTI(ctx, "jti-2", exp))

	// Once the original assertion expires its jti may be reused.
	s.now = func() time.Time { return exp.Add(time.Second) }
	assert.NoError(t, s.ClaimJTI(ctx, "jti-1", exp.Add(10*time.Minute)))
}

func TestMemoryInitialAccessToken(t *testing.T) {
	s := newTestMemory(t)
	ctx := context.Background()

	owner := mustAccountID(t, "admin")
	require.NoError(t, s.PutInitialAccessToken(ctx, "iat-secret", owner))

	got, err := s.Validate(ctx, "iat-secret")
	require.NoError(t, err)
	assert.Equal(t, owner, got)

	_, err = s.Validate(ctx, "wrong")
	assert.ErrorIs(t, err, ErrInvalidInitialAccessToken)
}

func TestMemoryAccounts(t *testing.T) {
	s := newTestMemory(t)
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)

	a := &user.Account{
		ID:       mustAccountID(t, "u1"),
		Username: "alice",
		ConsentedScopes: map[string][]string{
			"c1": {"openid"},
		},
	}
	require.NoError(t, s.SaveAccount(ctx, a, hash))

	got, err := s.FindAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)

	byName, err := s.FindOneByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, a.ID, byName.ID)

	checked, err := s.CheckPassword(ctx, "alice", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, a.ID, checked.ID)

	// Wrong password and unknown user fail with the same error text.
	_, wrongErr := s.CheckPassword(ctx, "alice", "nope")
	require.Error(t, wrongErr)
	_, unknownErr := s.CheckPassword(ctx, "bob", "hunter2")
	require.Error(t, unknownErr)
	assert.Equal(t, wrongErr.Error(), unknownErr.Error())

	_, err = s.FindOneByUsername(ctx, "bob")
	assert.ErrorIs(t, err, user.ErrNotFound)
}
