// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

package clientauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/oauthkit/oauthkit/pkg/client"
	"github.com/oauthkit/oauthkit/pkg/id"
	"github.com/oauthkit/oauthkit/pkg/oauth2"
)

// Internal causes attached to invalid_client, never rendered to clients.
var (
	errDeleted            = errors.New("clientauth: client is deleted")
	errMethodMismatch     = errors.New("clientauth: configured auth method does not match")
	errCredentialsExpired = errors.New("clientauth: client credentials expired")
	errBadSecret          = errors.New("clientauth: client secret mismatch")
	errNotPublic          = errors.New("clientauth: client is not public")
)

// secretCredentials carries the plaintext secret presented by the client.
type secretCredentials struct {
	secret string
}

// ClientSecretBasic authenticates via the HTTP Basic scheme per RFC 6749
// Section 2.3.1. Client id and secret are application/x-www-form-urlencoded
// inside the header, so both halves are percent-decoded after the Basic
// split.
type ClientSecretBasic struct{}

// Name implements Method.
func (ClientSecretBasic) Name() string { return "client_secret_basic" }

// Scheme implements Method.
func (ClientSecretBasic) Scheme() string { return `Basic realm="oauth2"` }

// FindClientInRequest implements Method.
func (ClientSecretBasic) FindClientInRequest(r *http.Request) (id.ClientID, Credentials, error) {
	rawID, rawSecret, ok := r.BasicAuth()
	if !ok {
		return id.ClientID{}, nil, nil
	}
	clientID, err := url.QueryUnescape(rawID)
	if err != nil {
		return id.ClientID{}, nil, fmt.Errorf("clientauth: malformed basic auth client_id: %w", err)
	}
	secret, err := url.QueryUnescape(rawSecret)
	if err != nil {
		return id.ClientID{}, nil, fmt.Errorf("clientauth: malformed basic auth client_secret: %w", err)
	}
	cid, err := id.NewClientID(clientID)
	if err != nil {
		return id.ClientID{}, nil, err
	}
	return cid, secretCredentials{secret: secret}, nil
}

// Authenticate implements Method.
func (ClientSecretBasic) Authenticate(_ context.Context, c *client.Client, creds Credentials, _ *http.Request) error {
	return checkSecret(c, creds)
}

// ClientSecretPost authenticates via client_id and client_secret form
// parameters per RFC 6749 Section 2.3.1.
type ClientSecretPost struct{}

// Name implements Method.
func (ClientSecretPost) Name() string { return "client_secret_post" }

// Scheme implements Method.
func (ClientSecretPost) Scheme() string { return "" }

// FindClientInRequest implements Method.
func (ClientSecretPost) FindClientInRequest(r *http.Request) (id.ClientID, Credentials, error) {
	if err := r.ParseForm(); err != nil {
		return id.ClientID{}, nil, fmt.Errorf("clientauth: parse form: %w", err)
	}
	clientID := r.PostForm.Get(oauth2.ParamClientID)
	secret := r.PostForm.Get(oauth2.ParamClientSecret)
	if clientID == "" || secret == "" {
		return id.ClientID{}, nil, nil
	}
	cid, err := id.NewClientID(clientID)
	if err != nil {
		return id.ClientID{}, nil, err
	}
	return cid, secretCredentials{secret: secret}, nil
}

// Authenticate implements Method.
func (ClientSecretPost) Authenticate(_ context.Context, c *client.Client, creds Credentials, _ *http.Request) error {
	return checkSecret(c, creds)
}

// None matches public clients that send only their client_id, per
// RFC 6749 Section 2.3: they present no credentials at all.
type None struct{}

// Name implements Method.
func (None) Name() string { return oauth2.AuthMethodNone }

// Scheme implements Method.
func (None) Scheme() string { return "" }

// FindClientInRequest implements Method.
func (None) FindClientInRequest(r *http.Request) (id.ClientID, Credentials, error) {
	if err := r.ParseForm(); err != nil {
		return id.ClientID{}, nil, fmt.Errorf("clientauth: parse form: %w", err)
	}
	clientID := r.PostForm.Get(oauth2.ParamClientID)
	if clientID == "" {
		clientID = r.URL.Query().Get(oauth2.ParamClientID)
	}
	if clientID == "" {
		return id.ClientID{}, nil, nil
	}
	cid, err := id.NewClientID(clientID)
	if err != nil {
		return id.ClientID{}, nil, err
	}
	return cid, nil, nil
}

// Authenticate implements Method. The only check left is that the client
// really is public; a confidential client downgrading to "none" must not
// pass.
func (None) Authenticate(_ context.Context, c *client.Client, _ Credentials, _ *http.Request) error {
	if !c.IsPublic() {
		return errNotPublic
	}
	return nil
}

// checkSecret verifies the presented secret against the stored bcrypt
// hash; bcrypt's comparison is constant time.
func checkSecret(c *client.Client, creds Credentials) error {
	sc, ok := creds.(secretCredentials)
	if !ok {
		return fmt.Errorf("clientauth: unexpected credentials type %T", creds)
	}
	if strings.TrimSpace(sc.secret) == "" {
		return errBadSecret
	}
	if !c.VerifySecret(sc.secret) {
		return errBadSecret
	}
	return nil
}
