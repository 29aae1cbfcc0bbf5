// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package clientauth implements client authentication at the token,
// introspection and revocation endpoints per RFC 6749 Section 2.3 and
// RFC 7523. A Manager holds the registered authentication methods in
// insertion order, selects the single method a request is using, and
// verifies the client's credentials.
//
// Every authentication failure is reported as a generic invalid_client;
// which sub-check failed is attached as an internal cause for logs only,
// so the endpoint cannot be used as an oracle.
package clientauth

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/oauthkit/oauthkit/pkg/client"
	"github.com/oauthkit/oauthkit/pkg/id"
	"github.com/oauthkit/oauthkit/pkg/oauth2"
)

// Credentials is the method-specific credential material extracted from a
// request, opaque to the manager.
type Credentials any

// Method is one client authentication strategy.
type Method interface {
	// Name returns the token_endpoint_auth_method value this method
	// serves, e.g. "client_secret_basic".
	Name() string

	// Scheme returns the WWW-Authenticate challenge scheme for this
	// method, or "" when the method has none.
	Scheme() string

	// FindClientInRequest attempts to extract a client identity and
	// credentials from the request. A zero ClientID means the request is
	// not using this method; an error means the request is using it but
	// malformed.
	FindClientInRequest(r *http.Request) (id.ClientID, Credentials, error)

	// Authenticate performs the method-specific credential check.
	Authenticate(ctx context.Context, c *client.Client, creds Credentials, r *http.Request) error
}

// Manager is the authentication method registry and dispatcher.
type Manager struct {
	methods []Method
	byName  map[string]Method
	finder  client.Repository
	logger  *slog.Logger
}

// NewManager creates a manager resolving clients through the given
// repository.
func NewManager(repo client.Repository, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{byName: make(map[string]Method), finder: repo, logger: logger}
}

// Add registers a method. Registration order is the order methods are
// asked to match a request.
func (m *Manager) Add(method Method) {
	if _, dup := m.byName[method.Name()]; dup {
		return
	}
	m.methods = append(m.methods, method)
	m.byName[method.Name()] = method
}

// Has reports whether a method with the given name is registered.
func (m *Manager) Has(name string) bool {
	_, ok := m.byName[name]
	return ok
}

// Get returns the method with the given name, or nil.
func (m *Manager) Get(name string) Method {
	return m.byName[name]
}

// All returns the registered methods in registration order.
func (m *Manager) All() []Method {
	out := make([]Method, len(m.methods))
	copy(out, m.methods)
	return out
}

// match is one method's successful extraction.
type match struct {
	clientID id.ClientID
	method   Method
	creds    Credentials
}

// FindClientIDInRequest asks every registered method to extract a client
// identity from the request and selects the one to use. At most one
// non-"none" method may produce a client id; two competing real methods,
// or any two methods naming different clients, reject the request as
// invalid_request. A "none" match loses to a real method naming the same
// client.
func (m *Manager) FindClientIDInRequest(r *http.Request) (id.ClientID, Method, Credentials, error) {
	var real, anon []match
	for _, method := range m.methods {
		cid, creds, err := method.FindClientInRequest(r)
		if err != nil {
			return id.ClientID{}, nil, nil, oauth2.ErrInvalidRequest.WithDescription("malformed client authentication").WithCause(err)
		}
		if cid.IsZero() {
			continue
		}
		entry := match{clientID: cid, method: method, creds: creds}
		if method.Name() == oauth2.AuthMethodNone {
			anon = append(anon, entry)
		} else {
			real = append(real, entry)
		}
	}

	if len(real) > 1 {
		return id.ClientID{}, nil, nil, oauth2.ErrInvalidRequest.WithDescription("only one client authentication method may be used")
	}

	var selected match
	switch {
	case len(real) == 1:
		selected = real[0]
	case len(anon) > 0:
		selected = anon[0]
	default:
		return id.ClientID{}, nil, nil, oauth2.ErrInvalidClient
	}

	// Any other match pointing at a different client is ambiguous.
	for _, entry := range append(real, anon...) {
		if entry.clientID != selected.clientID {
			return id.ClientID{}, nil, nil, oauth2.ErrInvalidRequest.WithDescription("only one client authentication method may be used")
		}
	}
	return selected.clientID, selected.method, selected.creds, nil
}

// AuthenticateClient runs the full authentication sequence for the method
// selected by FindClientIDInRequest: the client must not be soft-deleted,
// its configured token_endpoint_auth_method must match the method used,
// its credentials must not be expired, and the method-specific check must
// pass. All failures collapse into the generic invalid_client.
func (m *Manager) AuthenticateClient(ctx context.Context, clientID id.ClientID, method Method, creds Credentials, r *http.Request) (*client.Client, error) {
	c, err := m.finder.Find(ctx, clientID)
	if err != nil {
		return nil, oauth2.ErrInvalidClient.WithCause(err)
	}
	if c.Deleted {
		return nil, oauth2.ErrInvalidClient.WithCause(errDeleted)
	}
	if c.TokenEndpointAuthMethod() != method.Name() {
		return nil, oauth2.ErrInvalidClient.WithCause(errMethodMismatch)
	}
	if c.AreClientCredentialsExpired(time.Now()) {
		return nil, oauth2.ErrInvalidClient.WithCause(errCredentialsExpired)
	}
	if err := method.Authenticate(ctx, c, creds, r); err != nil {
		m.logger.Debug("client authentication failed",
			"client_id", clientID.String(),
			"method", method.Name(),
			"error", err,
		)
		return nil, oauth2.ErrInvalidClient.WithCause(err)
	}
	return c, nil
}

// Authenticate combines selection and verification, the common path for
// the token endpoint dispatcher.
func (m *Manager) Authenticate(ctx context.Context, r *http.Request) (*client.Client, error) {
	clientID, method, creds, err := m.FindClientIDInRequest(r)
	if err != nil {
		return nil, err
	}
	return m.AuthenticateClient(ctx, clientID, method, creds, r)
}

// Challenges returns the WWW-Authenticate challenge values for the
// registered methods, for the 401 invalid_client response.
func (m *Manager) Challenges() []string {
	var out []string
	seen := make(map[string]bool)
	for _, method := range m.methods {
		s := method.Scheme()
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
