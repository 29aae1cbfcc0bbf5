// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package user defines the minimal end-user account surface the framework
// consumes. Account storage and credential management belong to the host
// application.
package user

import (
	"context"
	"errors"
	"time"

	"github.com/oauthkit/oauthkit/pkg/id"
)

// ErrNotFound is returned by repositories when no account matches.
var ErrNotFound = errors.New("user: not found")

// Account is an end-user resource owner as seen by the authorization
// engine. LastLoginAt feeds the max_age freshness check of the login
// prompt hook; ConsentedScopes records previously granted scopes per
// client for the consent hook.
type Account struct {
	ID          id.UserAccountID
	Username    string
	LastLoginAt time.Time

	// ConsentedScopes maps client id -> scopes the user has already
	// granted that client.
	ConsentedScopes map[string][]string
}

// HasConsentedTo reports whether every requested scope was previously
// granted to the given client.
func (a *Account) HasConsentedTo(clientID id.ClientID, scopes []string) bool {
	granted, ok := a.ConsentedScopes[clientID.String()]
	if !ok {
		return len(scopes) == 0
	}
	for _, s := range scopes {
		found := false
		for _, g := range granted {
			if g == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Repository is the account lookup contract implemented by the host.
type Repository interface {
	// Find returns the account with the given id, or ErrNotFound.
	Find(ctx context.Context, accountID id.UserAccountID) (*Account, error)

	// FindOneByUsername returns the account with the given username, or
	// ErrNotFound. Used by the resource-owner password grant.
	FindOneByUsername(ctx context.Context, username string) (*Account, error)

	// CheckPassword verifies the account's password. It must return a
	// generic error on mismatch without distinguishing unknown users
	// from wrong passwords.
	CheckPassword(ctx context.Context, username, password string) (*Account, error)
}
