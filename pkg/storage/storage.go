// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage ships the reference persistence backends: an in-memory
// store for development and tests, and a Redis store for deployments
// that need shared state. Both implement the repository contracts of
// pkg/client, pkg/token, and pkg/authorize, plus the client-assertion
// replay guard and the cascading revoker the client service consumes.
package storage

import (
	"errors"
	"time"

	"github.com/oauthkit/oauthkit/pkg/databag"
	"github.com/oauthkit/oauthkit/pkg/id"
	"github.com/oauthkit/oauthkit/pkg/token"
)

// ErrJTIReplayed is returned by ClaimJTI when the assertion's jti was
// already presented and has not yet expired.
var ErrJTIReplayed = errors.New("storage: client assertion jti already used")

// ErrInvalidInitialAccessToken is returned by Validate when the
// presented initial access token is unknown.
var ErrInvalidInitialAccessToken = errors.New("storage: invalid initial access token")

// Storage records. Optional identifiers are pointers so a zero value is
// omitted instead of serialized as an empty string, which the id types
// reject on decode.

type accessTokenRecord struct {
	ID             id.AccessTokenID      `json:"id"`
	ClientID       id.ClientID           `json:"client_id"`
	ResourceOwner  id.ResourceOwnerID    `json:"resource_owner"`
	Parameters     *databag.Bag          `json:"parameters,omitempty"`
	Metadata       *databag.Bag          `json:"metadata,omitempty"`
	ExpiresAt      time.Time             `json:"expires_at"`
	ResourceServer *id.ResourceServerID  `json:"resource_server,omitempty"`
	Revoked        bool                  `json:"revoked"`
}

func encodeAccessToken(t *token.AccessToken) accessTokenRecord {
	r := accessTokenRecord{
		ID:            t.ID,
		ClientID:      t.ClientID,
		ResourceOwner: t.ResourceOwner,
		Parameters:    cloneBag(t.Parameters),
		Metadata:      cloneBag(t.Metadata),
		ExpiresAt:     t.ExpiresAt,
		Revoked:       t.Revoked,
	}
	if !t.ResourceServer.IsZero() {
		rs := t.ResourceServer
		r.ResourceServer = &rs
	}
	return r
}

func (r accessTokenRecord) aggregate() *token.AccessToken {
	t := &token.AccessToken{
		ID:            r.ID,
		ClientID:      r.ClientID,
		ResourceOwner: r.ResourceOwner,
		Parameters:    cloneBag(r.Parameters),
		Metadata:      cloneBag(r.Metadata),
		ExpiresAt:     r.ExpiresAt,
		Revoked:       r.Revoked,
	}
	if r.ResourceServer != nil {
		t.ResourceServer = *r.ResourceServer
	}
	return t
}

type authorizationCodeRecord struct {
	ID             id.AuthorizationCodeID `json:"id"`
	ClientID       id.ClientID            `json:"client_id"`
	UserAccount    id.UserAccountID       `json:"user_account"`
	Query          map[string][]string    `json:"query,omitempty"`
	RedirectURI    string                 `json:"redirect_uri,omitempty"`
	Parameters     *databag.Bag           `json:"parameters,omitempty"`
	Metadata       *databag.Bag           `json:"metadata,omitempty"`
	ExpiresAt      time.Time              `json:"expires_at"`
	ResourceServer *id.ResourceServerID   `json:"resource_server,omitempty"`
	Used           bool                   `json:"used"`
	Revoked        bool                   `json:"revoked"`
}

func encodeAuthorizationCode(c *token.AuthorizationCode) authorizationCodeRecord {
	r := authorizationCodeRecord{
		ID:          c.ID,
		ClientID:    c.ClientID,
		UserAccount: c.UserAccount,
		Query:       cloneValues(c.Query),
		RedirectURI: c.RedirectURI,
		Parameters:  cloneBag(c.Parameters),
		Metadata:    cloneBag(c.Metadata),
		ExpiresAt:   c.ExpiresAt,
		Used:        c.Used,
		Revoked:     c.Revoked,
	}
	if !c.ResourceServer.IsZero() {
		rs := c.ResourceServer
		r.ResourceServer = &rs
	}
	return r
}

func (r authorizationCodeRecord) aggregate() *token.AuthorizationCode {
	c := &token.AuthorizationCode{
		ID:          r.ID,
		ClientID:    r.ClientID,
		UserAccount: r.UserAccount,
		Query:       cloneValues(r.Query),
		RedirectURI: r.RedirectURI,
		Parameters:  cloneBag(r.Parameters),
		Metadata:    cloneBag(r.Metadata),
		ExpiresAt:   r.ExpiresAt,
		Used:        r.Used,
		Revoked:     r.Revoked,
	}
	if r.ResourceServer != nil {
		c.ResourceServer = *r.ResourceServer
	}
	return c
}

type refreshTokenRecord struct {
	ID            id.RefreshTokenID  `json:"id"`
	ClientID      id.ClientID        `json:"client_id"`
	ResourceOwner id.ResourceOwnerID `json:"resource_owner"`
	Scopes        []string           `json:"scopes,omitempty"`
	ExpiresAt     time.Time          `json:"expires_at"`
	Revoked       bool               `json:"revoked"`
}

func encodeRefreshToken(t *token.RefreshToken) refreshTokenRecord {
	return refreshTokenRecord{
		ID:            t.ID,
		ClientID:      t.ClientID,
		ResourceOwner: t.ResourceOwner,
		Scopes:        append([]string(nil), t.Scopes...),
		ExpiresAt:     t.ExpiresAt,
		Revoked:       t.Revoked,
	}
}

func (r refreshTokenRecord) aggregate() *token.RefreshToken {
	return &token.RefreshToken{
		ID:            r.ID,
		ClientID:      r.ClientID,
		ResourceOwner: r.ResourceOwner,
		Scopes:        append([]string(nil), r.Scopes...),
		ExpiresAt:     r.ExpiresAt,
		Revoked:       r.Revoked,
	}
}

func cloneBag(b *databag.Bag) *databag.Bag {
	if b == nil {
		return databag.New()
	}
	return b.Clone()
}

func cloneValues(v map[string][]string) map[string][]string {
	if v == nil {
		return nil
	}
	out := make(map[string][]string, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
