// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"time"

	"github.com/oauthkit/oauthkit/pkg/authorize"
	"github.com/oauthkit/oauthkit/pkg/client"
	"github.com/oauthkit/oauthkit/pkg/id"
	"github.com/oauthkit/oauthkit/pkg/token"
	"github.com/oauthkit/oauthkit/pkg/user"
)

// The repository contracts in pkg/client, pkg/token, pkg/user, and
// pkg/authorize all name their lookup Find and their write Save, so one
// backend struct cannot satisfy them directly. Each backend exposes the
// contracts through the narrow views below instead.

// Backend is the full persistence surface a storage backend provides.
// Memory and Redis both implement it.
type Backend interface {
	FindClient(ctx context.Context, clientID id.ClientID) (*client.Client, error)
	SaveClient(ctx context.Context, c *client.Client) error
	CreateClientID(ctx context.Context) (id.ClientID, error)

	FindAccessToken(ctx context.Context, tokenID id.AccessTokenID) (*token.AccessToken, error)
	SaveAccessToken(ctx context.Context, t *token.AccessToken) error

	FindAuthorizationCode(ctx context.Context, codeID id.AuthorizationCodeID) (*token.AuthorizationCode, error)
	SaveAuthorizationCode(ctx context.Context, c *token.AuthorizationCode) error
	MarkAuthorizationCodeUsed(ctx context.Context, codeID id.AuthorizationCodeID) error

	FindRefreshToken(ctx context.Context, tokenID id.RefreshTokenID) (*token.RefreshToken, error)
	SaveRefreshToken(ctx context.Context, t *token.RefreshToken) error

	SetRequest(ctx context.Context, requestID string, ar *authorize.Request) error
	GetRequest(ctx context.Context, requestID string) (*authorize.Request, error)
	RemoveRequest(ctx context.Context, requestID string) error

	RevokeForClient(ctx context.Context, clientID id.ClientID) error

	ClaimJTI(ctx context.Context, jti string, expiresAt time.Time) error

	Health(ctx context.Context) error
	Close() error
}

// Clients returns the client.Repository view of the backend.
func Clients(b Backend) client.Repository { return clientRepository{b} }

// AccessTokens returns the token.AccessTokenRepository view.
func AccessTokens(b Backend) token.AccessTokenRepository { return accessTokenRepository{b} }

// AuthorizationCodes returns the token.AuthorizationCodeRepository view.
func AuthorizationCodes(b Backend) token.AuthorizationCodeRepository {
	return authorizationCodeRepository{b}
}

// RefreshTokens returns the token.RefreshTokenRepository view.
func RefreshTokens(b Backend) token.RefreshTokenRepository { return refreshTokenRepository{b} }

// Requests returns the authorize.RequestStorage view.
func Requests(b Backend) authorize.RequestStorage { return requestStorage{b} }

type clientRepository struct{ b Backend }

func (r clientRepository) Find(ctx context.Context, clientID id.ClientID) (*client.Client, error) {
	return r.b.FindClient(ctx, clientID)
}

func (r clientRepository) Save(ctx context.Context, c *client.Client) error {
	return r.b.SaveClient(ctx, c)
}

func (r clientRepository) CreateClientID(ctx context.Context) (id.ClientID, error) {
	return r.b.CreateClientID(ctx)
}

type accessTokenRepository struct{ b Backend }

func (r accessTokenRepository) Find(ctx context.Context, tokenID id.AccessTokenID) (*token.AccessToken, error) {
	return r.b.FindAccessToken(ctx, tokenID)
}

func (r accessTokenRepository) Save(ctx context.Context, t *token.AccessToken) error {
	return r.b.SaveAccessToken(ctx, t)
}

type authorizationCodeRepository struct{ b Backend }

func (r authorizationCodeRepository) Find(ctx context.Context, codeID id.AuthorizationCodeID) (*token.AuthorizationCode, error) {
	return r.b.FindAuthorizationCode(ctx, codeID)
}

func (r authorizationCodeRepository) Save(ctx context.Context, c *token.AuthorizationCode) error {
	return r.b.SaveAuthorizationCode(ctx, c)
}

func (r authorizationCodeRepository) MarkUsed(ctx context.Context, codeID id.AuthorizationCodeID) error {
	return r.b.MarkAuthorizationCodeUsed(ctx, codeID)
}

type refreshTokenRepository struct{ b Backend }

func (r refreshTokenRepository) Find(ctx context.Context, tokenID id.RefreshTokenID) (*token.RefreshToken, error) {
	return r.b.FindRefreshToken(ctx, tokenID)
}

func (r refreshTokenRepository) Save(ctx context.Context, t *token.RefreshToken) error {
	return r.b.SaveRefreshToken(ctx, t)
}

type requestStorage struct{ b Backend }

func (r requestStorage) Set(ctx context.Context, requestID string, ar *authorize.Request) error {
	return r.b.SetRequest(ctx, requestID, ar)
}

func (r requestStorage) Get(ctx context.Context, requestID string) (*authorize.Request, error) {
	return r.b.GetRequest(ctx, requestID)
}

func (r requestStorage) Remove(ctx context.Context, requestID string) error {
	return r.b.RemoveRequest(ctx, requestID)
}

// AccountBackend is the optional account surface. Memory implements it
// for development and demo deployments; production hosts bring their
// own user.Repository.
type AccountBackend interface {
	FindAccount(ctx context.Context, accountID id.UserAccountID) (*user.Account, error)
	FindOneByUsername(ctx context.Context, username string) (*user.Account, error)
	CheckPassword(ctx context.Context, username, password string) (*user.Account, error)
}

// Accounts returns the user.Repository view of the backend.
func Accounts(b AccountBackend) user.Repository { return accountRepository{b} }

type accountRepository struct{ b AccountBackend }

func (r accountRepository) Find(ctx context.Context, accountID id.UserAccountID) (*user.Account, error) {
	return r.b.FindAccount(ctx, accountID)
}

func (r accountRepository) FindOneByUsername(ctx context.Context, username string) (*user.Account, error) {
	return r.b.FindOneByUsername(ctx, username)
}

func (r accountRepository) CheckPassword(ctx context.Context, username, password string) (*user.Account, error) {
	return r.b.CheckPassword(ctx, username, password)
}
