// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

package grant

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oauthkit/oauthkit/pkg/client"
	"github.com/oauthkit/oauthkit/pkg/databag"
	"github.com/oauthkit/oauthkit/pkg/id"
	"github.com/oauthkit/oauthkit/pkg/oauth2"
	"github.com/oauthkit/oauthkit/pkg/pkce"
	"github.com/oauthkit/oauthkit/pkg/token"
)

// codeRepo is an in-memory AuthorizationCodeRepository whose MarkUsed is
// atomic under the mutex, matching the contract.
type codeRepo struct {
	mu    sync.Mutex
	codes map[string]*token.AuthorizationCode
}

func newCodeRepo() *codeRepo {
	return &codeRepo{codes: make(map[string]*token.AuthorizationCode)}
}

func (r *codeRepo) Find(_ context.Context, codeID id.AuthorizationCodeID) (*token.AuthorizationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.codes[codeID.String()]
	if !ok {
		return nil, token.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *codeRepo) Save(_ context.Context, c *token.AuthorizationCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.codes[c.ID.String()] = &cp
	return nil
}

func (r *codeRepo) MarkUsed(_ context.Context, codeID id.AuthorizationCodeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.codes[codeID.String()]
	if !ok {
		return token.ErrNotFound
	}
	if c.Used {
		return token.ErrCodeAlreadyUsed
	}
	c.Used = true
	return nil
}

type refreshRepo struct {
	tokens map[string]*token.RefreshToken
}

func (r *refreshRepo) Find(_ context.Context, tokenID id.RefreshTokenID) (*token.RefreshToken, error) {
	t, ok := r.tokens[tokenID.String()]
	if !ok {
		return nil, token.ErrNotFound
	}
	return t, nil
}

func (r *refreshRepo) Save(_ context.Context, t *token.RefreshToken) error {
	r.tokens[t.ID.String()] = t
	return nil
}

func testClient(t *testing.T, grantTypes ...string) *client.Client {
	t.Helper()
	cid, err := id.NewClientID("c1")
	require.NoError(t, err)
	meta := databag.New()
	if len(grantTypes) > 0 {
		meta.Set(oauth2.MetadataGrantTypes, grantTypes)
	}
	return client.New(cid, meta)
}

func tokenRequest(form url.Values) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func issueCode(t *testing.T, repo *codeRepo, clientID, redirectURI string, query url.Values) *token.AuthorizationCode {
	t.Helper()
	cid, err := id.NewClientID(clientID)
	require.NoError(t, err)
	account, err := id.NewUserAccountID("u1")
	require.NoError(t, err)
	code := token.NewAuthorizationCode(cid, account, query, redirectURI, time.Now().Add(time.Minute))
	require.NoError(t, repo.Save(context.Background(), code))
	return code
}

func TestAuthorizationCodeHappyPath(t *testing.T) {
	t.Parallel()

	repo := newCodeRepo()
	g := NewAuthorizationCode(repo)
	c := testClient(t, TypeAuthorizationCode)
	code := issueCode(t, repo, "c1", "https://cb", url.Values{
		"scope": {"openid profile"},
		"nonce": {"n-123"},
	})

	r := tokenRequest(url.Values{
		"grant_type":   {TypeAuthorizationCode},
		"code":         {code.ID.String()},
		"redirect_uri": {"https://cb"},
	})
	require.NoError(t, g.CheckRequest(r))

	data := NewData()
	require.NoError(t, g.Grant(context.Background(), c, r, data))
	assert.Equal(t, "u1", data.ResourceOwner.String())
	assert.Equal(t, []string{"openid", "profile"}, data.Scopes)
	assert.Equal(t, "https://cb", data.Metadata.GetStringDefault("redirect_uri", ""))
	assert.Equal(t, "n-123", data.Metadata.GetStringDefault("nonce", ""))
}

func TestAuthorizationCodeNarrowedConsent(t *testing.T) {
	t.Parallel()

	repo := newCodeRepo()
	g := NewAuthorizationCode(repo)
	c := testClient(t, TypeAuthorizationCode)
	code := issueCode(t, repo, "c1", "https://cb", url.Values{
		"scope": {"openid profile email"},
	})
	// The consent surface granted only a subset of the requested scopes.
	code.Parameters.Set("scope", "openid")
	require.NoError(t, repo.Save(context.Background(), code))

	data := NewData()
	require.NoError(t, g.Grant(context.Background(), c, tokenRequest(url.Values{
		"grant_type":   {TypeAuthorizationCode},
		"code":         {code.ID.String()},
		"redirect_uri": {"https://cb"},
	}), data))
	assert.Equal(t, []string{"openid"}, data.Scopes)
}

func TestAuthorizationCodeSingleUse(t *testing.T) {
	t.Parallel()

	repo := newCodeRepo()
	g := NewAuthorizationCode(repo)
	c := testClient(t, TypeAuthorizationCode)
	code := issueCode(t, repo, "c1", "https://cb", url.Values{})

	form := url.Values{
		"grant_type":   {TypeAuthorizationCode},
		"code":         {code.ID.String()},
		"redirect_uri": {"https://cb"},
	}
	require.NoError(t, g.Grant(context.Background(), c, tokenRequest(form), NewData()))

	// Second redemption with identical, otherwise valid parameters.
	err := g.Grant(context.Background(), c, tokenRequest(form), NewData())
	require.ErrorIs(t, err, oauth2.ErrInvalidGrant)
}

func TestAuthorizationCodeBindings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		clientID    string
		redirectURI string
	}{
		{"different client", "c2", "https://cb"},
		{"different redirect_uri", "c1", "https://evil"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			repo := newCodeRepo()
			g := NewAuthorizationCode(repo)
			code := issueCode(t, repo, "c1", "https://cb", url.Values{})

			cid, err := id.NewClientID(tt.clientID)
			require.NoError(t, err)
			meta := databag.New()
			meta.Set(oauth2.MetadataGrantTypes, []string{TypeAuthorizationCode})
			c := client.New(cid, meta)

			r := tokenRequest(url.Values{
				"grant_type":   {TypeAuthorizationCode},
				"code":         {code.ID.String()},
				"redirect_uri": {tt.redirectURI},
			})
			err = g.Grant(context.Background(), c, r, NewData())
			require.ErrorIs(t, err, oauth2.ErrInvalidGrant)

			// A failed binding check must not consume the code.
			stored, findErr := repo.Find(context.Background(), code.ID)
			require.NoError(t, findErr)
			assert.False(t, stored.Used)
		})
	}
}

func TestAuthorizationCodeExpired(t *testing.T) {
	t.Parallel()

	repo := newCodeRepo()
	g := NewAuthorizationCode(repo)
	g.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	c := testClient(t, TypeAuthorizationCode)
	code := issueCode(t, repo, "c1", "https://cb", url.Values{})

	r := tokenRequest(url.Values{
		"grant_type":   {TypeAuthorizationCode},
		"code":         {code.ID.String()},
		"redirect_uri": {"https://cb"},
	})
	require.ErrorIs(t, g.Grant(context.Background(), c, r, NewData()), oauth2.ErrInvalidGrant)
}

func TestAuthorizationCodePKCE(t *testing.T) {
	t.Parallel()

	verifier := pkce.GenerateVerifier()
	challenge := pkce.ComputeChallenge(verifier)

	repo := newCodeRepo()
	g := NewAuthorizationCode(repo)
	c := testClient(t, TypeAuthorizationCode)
	code := issueCode(t, repo, "c1", "https://cb", url.Values{
		"code_challenge":        {challenge},
		"code_challenge_method": {pkce.MethodS256},
	})

	form := url.Values{
		"grant_type":   {TypeAuthorizationCode},
		"code":         {code.ID.String()},
		"redirect_uri": {"https://cb"},
	}

	// Missing verifier fails without consuming the code.
	err := g.Grant(context.Background(), c, tokenRequest(form), NewData())
	require.ErrorIs(t, err, oauth2.ErrInvalidGrant)

	form.Set("code_verifier", verifier)
	require.NoError(t, g.Grant(context.Background(), c, tokenRequest(form), NewData()))
}

func TestAuthorizationCodeCheckRequestAggregatesMissing(t *testing.T) {
	t.Parallel()

	g := NewAuthorizationCode(newCodeRepo())
	err := g.CheckRequest(tokenRequest(url.Values{"grant_type": {TypeAuthorizationCode}}))
	require.ErrorIs(t, err, oauth2.ErrInvalidRequest)
	assert.Contains(t, err.Error(), "code")
	assert.Contains(t, err.Error(), "redirect_uri")
}

func TestAuthorizationCodeGrantNotAllowed(t *testing.T) {
	t.Parallel()

	repo := newCodeRepo()
	g := NewAuthorizationCode(repo)
	code := issueCode(t, repo, "c1", "https://cb", url.Values{})
	c := testClient(t, TypeClientCredentials)

	r := tokenRequest(url.Values{
		"grant_type":   {TypeAuthorizationCode},
		"code":         {code.ID.String()},
		"redirect_uri": {"https://cb"},
	})
	require.ErrorIs(t, g.Grant(context.Background(), c, r, NewData()), oauth2.ErrUnauthorizedClient)
}

func TestRefreshTokenNarrowing(t *testing.T) {
	t.Parallel()

	cid, err := id.NewClientID("c1")
	require.NoError(t, err)
	owner, err := id.NewResourceOwnerID("u1")
	require.NoError(t, err)
	rt := token.NewRefreshToken(cid, owner, []string{"openid", "profile"}, time.Now().Add(time.Hour))

	repo := &refreshRepo{tokens: map[string]*token.RefreshToken{rt.ID.String(): rt}}
	g := NewRefreshToken(repo)
	c := testClient(t, TypeRefreshToken)

	r := tokenRequest(url.Values{
		"grant_type":    {TypeRefreshToken},
		"refresh_token": {rt.ID.String()},
		"scope":         {"openid"},
	})
	data := NewData()
	require.NoError(t, g.Grant(context.Background(), c, r, data))
	assert.Equal(t, []string{"openid"}, data.Scopes)
	assert.Equal(t, "u1", data.ResourceOwner.String())

	// The presented token rotated out.
	assert.True(t, rt.Revoked)
}

func TestRefreshTokenWideningRejected(t *testing.T) {
	t.Parallel()

	cid, err := id.NewClientID("c1")
	require.NoError(t, err)
	owner, err := id.NewResourceOwnerID("u1")
	require.NoError(t, err)
	rt := token.NewRefreshToken(cid, owner, []string{"openid"}, time.Now().Add(time.Hour))

	repo := &refreshRepo{tokens: map[string]*token.RefreshToken{rt.ID.String(): rt}}
	g := NewRefreshToken(repo)
	c := testClient(t, TypeRefreshToken)

	r := tokenRequest(url.Values{
		"grant_type":    {TypeRefreshToken},
		"refresh_token": {rt.ID.String()},
		"scope":         {"openid admin"},
	})
	err = g.Grant(context.Background(), c, r, NewData())
	require.ErrorIs(t, err, oauth2.ErrInvalidScope)
	assert.False(t, rt.Revoked, "a rejected exchange must not spend the token")
}

func TestClientCredentials(t *testing.T) {
	t.Parallel()

	g := NewClientCredentials()
	c := testClient(t, TypeClientCredentials)

	r := tokenRequest(url.Values{"grant_type": {TypeClientCredentials}})
	require.NoError(t, g.CheckRequest(r))

	data := NewData()
	require.NoError(t, g.Grant(context.Background(), c, r, data))
	assert.Equal(t, "c1", data.ResourceOwner.String())
	assert.False(t, data.IssueRefreshToken)
}

func TestClientCredentialsRejectsPublicClient(t *testing.T) {
	t.Parallel()

	g := NewClientCredentials()
	cid, err := id.NewClientID("pub")
	require.NoError(t, err)
	meta := databag.New()
	meta.Set(oauth2.MetadataTokenEndpointAuthMethod, oauth2.AuthMethodNone)
	meta.Set(oauth2.MetadataGrantTypes, []string{TypeClientCredentials})
	c := client.New(cid, meta)

	r := tokenRequest(url.Values{"grant_type": {TypeClientCredentials}})
	require.ErrorIs(t, g.Grant(context.Background(), c, r, NewData()), oauth2.ErrUnauthorizedClient)
}

func TestPasswordCheckRequestAggregatesMissing(t *testing.T) {
	t.Parallel()

	g := NewPassword(nil)
	err := g.CheckRequest(tokenRequest(url.Values{"grant_type": {TypePassword}}))
	require.ErrorIs(t, err, oauth2.ErrInvalidRequest)
	assert.Contains(t, err.Error(), "username")
	assert.Contains(t, err.Error(), "password")
}

func TestImplicitRejectedAtTokenEndpoint(t *testing.T) {
	t.Parallel()

	g := NewImplicit()
	c := testClient(t, TypeImplicit)
	r := tokenRequest(url.Values{"grant_type": {TypeImplicit}})
	require.ErrorIs(t, g.Grant(context.Background(), c, r, NewData()), oauth2.ErrUnsupportedGrantType)
}

func TestManagerResolve(t *testing.T) {
	t.Parallel()

	m := NewManager()
	m.Add(NewClientCredentials())
	m.Add(NewAuthorizationCode(newCodeRepo()))

	got, err := m.Resolve(tokenRequest(url.Values{"grant_type": {TypeClientCredentials}}))
	require.NoError(t, err)
	assert.Equal(t, TypeClientCredentials, got.Name())

	_, err = m.Resolve(tokenRequest(url.Values{}))
	require.ErrorIs(t, err, oauth2.ErrInvalidRequest)

	_, err = m.Resolve(tokenRequest(url.Values{"grant_type": {"device_code"}}))
	require.ErrorIs(t, err, oauth2.ErrUnsupportedGrantType)

	assert.Equal(t, []string{TypeClientCredentials, TypeAuthorizationCode}, m.Names())
}
