// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

package authorize

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oauthkit/oauthkit/pkg/client"
	"github.com/oauthkit/oauthkit/pkg/databag"
	"github.com/oauthkit/oauthkit/pkg/id"
	"github.com/oauthkit/oauthkit/pkg/token"
	"github.com/oauthkit/oauthkit/pkg/user"
)

type clientRepo struct {
	clients map[string]*client.Client
}

func (f *clientRepo) Find(_ context.Context, clientID id.ClientID) (*client.Client, error) {
	c, ok := f.clients[clientID.String()]
	if !ok {
		return nil, client.ErrNotFound
	}
	return c, nil
}

func (f *clientRepo) Save(_ context.Context, c *client.Client) error {
	f.clients[c.ID.String()] = c
	return nil
}

func (*clientRepo) CreateClientID(_ context.Context) (id.ClientID, error) {
	return id.GenerateClientID(), nil
}

type accountRepo struct {
	accounts map[string]*user.Account
}

func (f *accountRepo) Find(_ context.Context, accountID id.UserAccountID) (*user.Account, error) {
	a, ok := f.accounts[accountID.String()]
	if !ok {
		return nil, user.ErrNotFound
	}
	return a, nil
}

func (f *accountRepo) FindOneByUsername(_ context.Context, username string) (*user.Account, error) {
	for _, a := range f.accounts {
		if a.Username == username {
			return a, nil
		}
	}
	return nil, user.ErrNotFound
}

func (*accountRepo) CheckPassword(context.Context, string, string) (*user.Account, error) {
	return nil, user.ErrNotFound
}

type memStorage struct {
	requests map[string]*Request
}

func newMemStorage() *memStorage { return &memStorage{requests: make(map[string]*Request)} }

func (s *memStorage) Set(_ context.Context, requestID string, ar *Request) error {
	s.requests[requestID] = ar
	return nil
}

func (s *memStorage) Get(_ context.Context, requestID string) (*Request, error) {
	ar, ok := s.requests[requestID]
	if !ok {
		return nil, ErrRequestNotFound
	}
	return ar, nil
}

func (s *memStorage) Remove(_ context.Context, requestID string) error {
	delete(s.requests, requestID)
	return nil
}

type codeRepo struct {
	codes map[string]*token.AuthorizationCode
}

func newCodeRepo() *codeRepo { return &codeRepo{codes: make(map[string]*token.AuthorizationCode)} }

func (r *codeRepo) Find(_ context.Context, codeID id.AuthorizationCodeID) (*token.AuthorizationCode, error) {
	c, ok := r.codes[codeID.String()]
	if !ok {
		return nil, token.ErrNotFound
	}
	return c, nil
}

func (r *codeRepo) Save(_ context.Context, c *token.AuthorizationCode) error {
	r.codes[c.ID.String()] = c
	return nil
}

func (r *codeRepo) MarkUsed(_ context.Context, codeID id.AuthorizationCodeID) error {
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

type staticIssuer struct{}

func (staticIssuer) IssueIDToken(context.Context, IDTokenClaims) (string, error) {
	return "signed-id-token", nil
}

type staticSession struct {
	accountID id.UserAccountID
	authTime  time.Time
	ok        bool
}

func (s staticSession) AuthenticatedAccount(*http.Request) (id.UserAccountID, time.Time, bool) {
	return s.accountID, s.authTime, s.ok
}

type fixture struct {
	driver  *Driver
	clients *clientRepo
	codes   *codeRepo
	storage *memStorage
	logins  int
}

func newFixture(t *testing.T, opts ...DriverOption) *fixture {
	t.Helper()

	cid, err := id.NewClientID("c1")
	require.NoError(t, err)
	meta := databag.New()
	meta.Set("redirect_uris", []string{"https://cb"})
	meta.Set("response_types", []string{"code", "id_token", "code id_token"})

	accountID, err := id.NewUserAccountID("u1")
	require.NoError(t, err)
	account := &user.Account{
		ID:              accountID,
		Username:        "alice",
		LastLoginAt:     time.Now(),
		ConsentedScopes: map[string][]string{"c1": {"openid", "profile"}},
	}

	f := &fixture{
		clients: &clientRepo{clients: map[string]*client.Client{"c1": client.New(cid, meta)}},
		codes:   newCodeRepo(),
		storage: newMemStorage(),
	}

	types := NewTypeManager()
	codeType := NewCodeType(f.codes, time.Minute)
	idTokenType := NewIDTokenType(staticIssuer{})
	types.Add(codeType)
	types.Add(idTokenType)
	types.Add(NewComposite(codeType, idTokenType))
	modes := NewModeManager()
	modes.Add(QueryMode{})
	modes.Add(FragmentMode{})
	modes.Add(FormPostMode{})

	loginHandler := func(w http.ResponseWriter, r *http.Request, requestID string) {
		f.logins++
		http.Redirect(w, r, "/login?request_id="+requestID, http.StatusSeeOther)
	}
	consentHandler := func(w http.ResponseWriter, r *http.Request, requestID string) {
		http.Redirect(w, r, "/consent?request_id="+requestID, http.StatusSeeOther)
	}
	selectHandler := func(w http.ResponseWriter, r *http.Request, requestID string) {
		http.Redirect(w, r, "/choose?request_id="+requestID, http.StatusSeeOther)
	}

	accounts := &accountRepo{accounts: map[string]*user.Account{"u1": account}}
	base := []DriverOption{
		WithHooks(
			NewNonePrompt(),
			NewSelectAccountPrompt(selectHandler),
			NewLoginPrompt(loginHandler),
			NewConsentPrompt(consentHandler),
		),
	}
	f.driver = NewDriver(f.clients, accounts, f.storage, types, modes, append(base, opts...)...)
	return f
}

func authorizeRequest(query url.Values) *http.Request {
	return httptest.NewRequest(http.MethodGet, "/oauth/authorize?"+query.Encode(), nil)
}

func TestAuthorizeHappyPathIssuesCode(t *testing.T) {
	t.Parallel()

	f := newFixture(t, WithSessionAuthenticator(staticSession{
		accountID: mustAccountID(t, "u1"), authTime: time.Now(), ok: true,
	}))

	w := httptest.NewRecorder()
	f.driver.Handle(w, authorizeRequest(url.Values{
		"client_id":     {"c1"},
		"redirect_uri":  {"https://cb"},
		"response_type": {"code"},
		"scope":         {"openid profile"},
		"state":         {"xyz"},
	}))

	require.Equal(t, http.StatusSeeOther, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "https", loc.Scheme)
	assert.Equal(t, "cb", loc.Host)
	assert.Equal(t, "xyz", loc.Query().Get("state"))

	codeValue := loc.Query().Get("code")
	require.NotEmpty(t, codeValue)
	stored, ok := f.codes.codes[codeValue]
	require.True(t, ok)
	assert.Equal(t, "c1", stored.ClientID.String())
	assert.Equal(t, "u1", stored.UserAccount.String())
	assert.Equal(t, "https://cb", stored.RedirectURI)

	assert.Empty(t, f.storage.requests, "terminal responses discard the stored negotiation")
}

func TestAuthorizeNonceRequiredForIDToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	w := httptest.NewRecorder()
	f.driver.Handle(w, authorizeRequest(url.Values{
		"client_id":     {"c1"},
		"redirect_uri":  {"https://cb"},
		"response_type": {"id_token"},
		"scope":         {"openid"},
	}))

	// Structurally invalid: a 400 rendered inline, never a redirect.
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, w.Header().Get("Location"))
	assert.Contains(t, w.Body.String(), "invalid_request")
	assert.Contains(t, w.Body.String(), "nonce")
}

func TestAuthorizePromptNoneWithoutSessionRedirectsLoginRequired(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	w := httptest.NewRecorder()
	f.driver.Handle(w, authorizeRequest(url.Values{
		"client_id":     {"c1"},
		"redirect_uri":  {"https://cb"},
		"response_type": {"code"},
		"scope":         {"openid"},
		"prompt":        {"none"},
		"state":         {"s1"},
	}))

	require.Equal(t, http.StatusSeeOther, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "login_required", loc.Query().Get("error"))
	assert.Equal(t, "s1", loc.Query().Get("state"))
	assert.Zero(t, f.logins, "prompt=none must never reach an interactive page")
}

func TestAuthorizeUnregisteredRedirectURIRenderedInline(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	w := httptest.NewRecorder()
	f.driver.Handle(w, authorizeRequest(url.Values{
		"client_id":     {"c1"},
		"redirect_uri":  {"https://evil"},
		"response_type": {"code"},
	}))

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, w.Header().Get("Location"), "an unvalidated redirect URI must never be redirected to")
}

func TestAuthorizeUnsupportedResponseTypeRedirects(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	w := httptest.NewRecorder()
	f.driver.Handle(w, authorizeRequest(url.Values{
		"client_id":     {"c1"},
		"redirect_uri":  {"https://cb"},
		"response_type": {"device_code"},
	}))

	require.Equal(t, http.StatusSeeOther, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "unsupported_response_type", loc.Query().Get("error"))
}

func TestAuthorizeSuspendsToLoginAndResumes(t *testing.T) {
	t.Parallel()

	f := newFixture(t) // no ambient session

	w := httptest.NewRecorder()
	f.driver.Handle(w, authorizeRequest(url.Values{
		"client_id":     {"c1"},
		"redirect_uri":  {"https://cb"},
		"response_type": {"code"},
		"scope":         {"openid"},
		"state":         {"xyz"},
	}))

	require.Equal(t, http.StatusSeeOther, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "/login", loc.Path)
	requestID := loc.Query().Get("request_id")
	require.NotEmpty(t, requestID)
	assert.Equal(t, 1, f.logins)

	// The login surface authenticates the user and updates the stored
	// request before sending the browser back.
	stored, err := f.storage.Get(context.Background(), requestID)
	require.NoError(t, err)
	stored.AccountID = mustAccountID(t, "u1")
	stored.FullyAuthenticated = true
	stored.AuthTime = time.Now()
	stored.Account = nil
	require.NoError(t, f.storage.Set(context.Background(), requestID, stored))

	w = httptest.NewRecorder()
	f.driver.Handle(w, authorizeRequest(url.Values{ParamRequestID: {requestID}}))

	require.Equal(t, http.StatusSeeOther, w.Code)
	loc, err = url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "cb", loc.Host)
	assert.NotEmpty(t, loc.Query().Get("code"))
	assert.Equal(t, "xyz", loc.Query().Get("state"))
	assert.Equal(t, 1, f.logins, "satisfied hooks are no-ops on re-entry")
}

func TestHookChainIdempotentOnReentry(t *testing.T) {
	t.Parallel()

	f := newFixture(t, WithSessionAuthenticator(staticSession{
		accountID: mustAccountID(t, "u1"), authTime: time.Now(), ok: true,
	}))

	// prompt=consent forces a suspension even with recorded consent.
	w := httptest.NewRecorder()
	f.driver.Handle(w, authorizeRequest(url.Values{
		"client_id":     {"c1"},
		"redirect_uri":  {"https://cb"},
		"response_type": {"code"},
		"scope":         {"openid"},
		"prompt":        {"consent"},
	}))

	require.Equal(t, http.StatusSeeOther, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "/consent", loc.Path)
	requestID := loc.Query().Get("request_id")

	stored, err := f.storage.Get(context.Background(), requestID)
	require.NoError(t, err)
	before := *stored

	// Re-entering without a decision runs login and select_account
	// again as no-ops and suspends at consent once more, leaving the
	// stored request unchanged.
	w = httptest.NewRecorder()
	f.driver.Handle(w, authorizeRequest(url.Values{ParamRequestID: {requestID}}))
	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Zero(t, f.logins)

	after, err := f.storage.Get(context.Background(), requestID)
	require.NoError(t, err)
	assert.Equal(t, before.Decision, after.Decision)
	assert.Equal(t, before.AccountID, after.AccountID)
	assert.Equal(t, before.FullyAuthenticated, after.FullyAuthenticated)
	assert.Equal(t, before.AccountSelected, after.AccountSelected)

	// The consent surface records a deny; the terminal response is
	// access_denied at the client.
	after.Decision = Deny
	require.NoError(t, f.storage.Set(context.Background(), requestID, after))

	w = httptest.NewRecorder()
	f.driver.Handle(w, authorizeRequest(url.Values{ParamRequestID: {requestID}}))
	require.Equal(t, http.StatusSeeOther, w.Code)
	loc, err = url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "access_denied", loc.Query().Get("error"))
}

func mustAccountID(t *testing.T, v string) id.UserAccountID {
	t.Helper()
	accountID, err := id.NewUserAccountID(v)
	require.NoError(t, err)
	return accountID
}
