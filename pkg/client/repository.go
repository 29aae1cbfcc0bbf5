// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"

	"github.com/oauthkit/oauthkit/pkg/id"
)

// ErrNotFound is returned by repositories when no client exists for the
// given identifier.
var ErrNotFound = errors.New("client: not found")

// Repository is the persistence contract the framework consumes. The host
// application provides the implementation; the framework ships in-memory
// and Redis reference backends in pkg/storage.
type Repository interface {
	// Find returns the client with the given id, including soft-deleted
	// clients, or ErrNotFound.
	Find(ctx context.Context, clientID id.ClientID) (*Client, error)

	// Save persists the client, replacing any previous version.
	Save(ctx context.Context, c *Client) error

	// CreateClientID allocates a fresh, unused client identifier.
	CreateClientID(ctx context.Context) (id.ClientID, error)
}
