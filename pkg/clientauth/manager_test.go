// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

package clientauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/oauthkit/oauthkit/pkg/client"
	"github.com/oauthkit/oauthkit/pkg/databag"
	"github.com/oauthkit/oauthkit/pkg/id"
	"github.com/oauthkit/oauthkit/pkg/oauth2"
)

// fakeRepo is an in-memory client.Repository for tests.
type fakeRepo struct {
	clients map[string]*client.Client
}

func (f *fakeRepo) Find(_ context.Context, clientID id.ClientID) (*client.Client, error) {
	c, ok := f.clients[clientID.String()]
	if !ok {
		return nil, client.ErrNotFound
	}
	return c, nil
}

func (f *fakeRepo) Save(_ context.Context, c *client.Client) error {
	f.clients[c.ID.String()] = c
	return nil
}

func (*fakeRepo) CreateClientID(_ context.Context) (id.ClientID, error) {
	return id.GenerateClientID(), nil
}

func seedClient(t *testing.T, repo *fakeRepo, clientID, method, secret string) *client.Client {
	t.Helper()
	cid, err := id.NewClientID(clientID)
	require.NoError(t, err)
	meta := databag.New()
	meta.Set(oauth2.MetadataTokenEndpointAuthMethod, method)
	c := client.New(cid, meta)
	if secret != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
		require.NoError(t, err)
		c.SecretHash = hash
	}
	repo.clients[clientID] = c
	return c
}

func newManager(t *testing.T) (*Manager, *fakeRepo) {
	t.Helper()
	repo := &fakeRepo{clients: make(map[string]*client.Client)}
	m := NewManager(repo, nil)
	m.Add(ClientSecretBasic{})
	m.Add(ClientSecretPost{})
	m.Add(None{})
	return m, repo
}

func formRequest(form url.Values) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func TestFindClientBasicAuth(t *testing.T) {
	t.Parallel()

	m, _ := newManager(t)
	r := formRequest(url.Values{"grant_type": {"client_credentials"}})
	r.SetBasicAuth("c1", "s3cret")

	cid, method, _, err := m.FindClientIDInRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "c1", cid.String())
	assert.Equal(t, "client_secret_basic", method.Name())
}

func TestTwoRealMethodsDifferentClientsRejected(t *testing.T) {
	t.Parallel()

	m, _ := newManager(t)
	r := formRequest(url.Values{
		"client_id":     {"c2"},
		"client_secret": {"other"},
	})
	r.SetBasicAuth("c1", "s3cret")

	_, _, _, err := m.FindClientIDInRequest(r)
	require.ErrorIs(t, err, oauth2.ErrInvalidRequest)
	assert.Contains(t, err.Error(), "only one")
}

func TestNoneLosesToRealMethodForSameClient(t *testing.T) {
	t.Parallel()

	m, _ := newManager(t)
	// client_secret_post and none both see client_id in the body; post
	// also sees the secret, so it is the real method and must win.
	r := formRequest(url.Values{
		"client_id":     {"c1"},
		"client_secret": {"s3cret"},
	})

	cid, method, _, err := m.FindClientIDInRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "c1", cid.String())
	assert.Equal(t, "client_secret_post", method.Name())
}

func TestRealAndNoneDifferentClientsRejected(t *testing.T) {
	t.Parallel()

	m, _ := newManager(t)
	// Basic header names c1 while the body names only c2 (no secret, so
	// just the none method matches c2).
	r := formRequest(url.Values{"client_id": {"c2"}})
	r.SetBasicAuth("c1", "s3cret")

	_, _, _, err := m.FindClientIDInRequest(r)
	require.ErrorIs(t, err, oauth2.ErrInvalidRequest)
}

func TestNoMethodMatchesIsInvalidClient(t *testing.T) {
	t.Parallel()

	m, _ := newManager(t)
	_, _, _, err := m.FindClientIDInRequest(formRequest(url.Values{"grant_type": {"client_credentials"}}))
	require.ErrorIs(t, err, oauth2.ErrInvalidClient)
}

func TestAuthenticateClientHappyPath(t *testing.T) {
	t.Parallel()

	m, repo := newManager(t)
	seedClient(t, repo, "c1", "client_secret_basic", "s3cret")

	r := formRequest(url.Values{"grant_type": {"client_credentials"}})
	r.SetBasicAuth("c1", "s3cret")

	c, err := m.Authenticate(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, "c1", c.ID.String())
}

func TestAuthenticateFailuresAreGenericInvalidClient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(t *testing.T, repo *fakeRepo)
		basic [2]string
	}{
		{
			name:  "unknown client",
			setup: func(*testing.T, *fakeRepo) {},
			basic: [2]string{"ghost", "whatever"},
		},
		{
			name: "wrong secret",
			setup: func(t *testing.T, repo *fakeRepo) {
				seedClient(t, repo, "c1", "client_secret_basic", "right")
			},
			basic: [2]string{"c1", "wrong"},
		},
		{
			name: "soft-deleted client",
			setup: func(t *testing.T, repo *fakeRepo) {
				c := seedClient(t, repo, "c1", "client_secret_basic", "s3cret")
				c.MarkDeleted()
			},
			basic: [2]string{"c1", "s3cret"},
		},
		{
			name: "configured method mismatch",
			setup: func(t *testing.T, repo *fakeRepo) {
				seedClient(t, repo, "c1", "client_secret_post", "s3cret")
			},
			basic: [2]string{"c1", "s3cret"},
		},
		{
			name: "expired credentials",
			setup: func(t *testing.T, repo *fakeRepo) {
				c := seedClient(t, repo, "c1", "client_secret_basic", "s3cret")
				c.Metadata.Set(oauth2.MetadataClientSecretExpiresAt, time.Now().Add(-time.Hour).Unix())
			},
			basic: [2]string{"c1", "s3cret"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m, repo := newManager(t)
			tt.setup(t, repo)

			r := formRequest(url.Values{"grant_type": {"client_credentials"}})
			r.SetBasicAuth(tt.basic[0], tt.basic[1])

			_, err := m.Authenticate(context.Background(), r)
			require.ErrorIs(t, err, oauth2.ErrInvalidClient)

			// The rendered message must not leak which check failed.
			var protoErr *oauth2.Error
			require.ErrorAs(t, err, &protoErr)
			assert.Equal(t, "client authentication failed", protoErr.Description)
		})
	}
}

func TestPublicClientWithNone(t *testing.T) {
	t.Parallel()

	m, repo := newManager(t)
	seedClient(t, repo, "pub", "none", "")

	c, err := m.Authenticate(context.Background(), formRequest(url.Values{"client_id": {"pub"}}))
	require.NoError(t, err)
	assert.True(t, c.IsPublic())

	// A confidential client must not authenticate by omitting its secret.
	seedClient(t, repo, "conf", "client_secret_basic", "s3cret")
	_, err = m.Authenticate(context.Background(), formRequest(url.Values{"client_id": {"conf"}}))
	require.ErrorIs(t, err, oauth2.ErrInvalidClient)
}

func TestBasicAuthPercentDecoding(t *testing.T) {
	t.Parallel()

	m, repo := newManager(t)
	// RFC 6749 Section 2.3.1: credentials are form-encoded before the
	// Basic encoding.
	cid := "client with space"
	seedClient(t, repo, cid, "client_secret_basic", "p@ss")

	r := formRequest(url.Values{})
	r.SetBasicAuth(url.QueryEscape(cid), url.QueryEscape("p@ss"))

	c, err := m.Authenticate(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, cid, c.ID.String())
}

func TestChallengesListsRegisteredSchemes(t *testing.T) {
	t.Parallel()

	m, _ := newManager(t)
	assert.Equal(t, []string{`Basic realm="oauth2"`}, m.Challenges())
}

func TestManagerRegistryAccessors(t *testing.T) {
	t.Parallel()

	m, _ := newManager(t)
	assert.True(t, m.Has("client_secret_basic"))
	assert.False(t, m.Has("private_key_jwt"))
	assert.NotNil(t, m.Get("none"))

	names := make([]string, 0, 3)
	for _, method := range m.All() {
		names = append(names, method.Name())
	}
	assert.Equal(t, []string{"client_secret_basic", "client_secret_post", "none"}, names,
		"All preserves registration order")
}
