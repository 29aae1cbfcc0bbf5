// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/oauthkit/oauthkit/pkg/authorize"
	"github.com/oauthkit/oauthkit/pkg/client"
	"github.com/oauthkit/oauthkit/pkg/id"
	"github.com/oauthkit/oauthkit/pkg/token"
	"github.com/oauthkit/oauthkit/pkg/user"
)

const (
	// DefaultCleanupInterval is how often the background sweep of
	// expired entries runs.
	DefaultCleanupInterval = 5 * time.Minute

	// DefaultRequestTTL bounds how long a suspended authorization
	// request survives before the end user must start over.
	DefaultRequestTTL = time.Hour
)

// timedEntry wraps a stored value with its expiry. A zero expiresAt
// means the entry never expires.
type timedEntry[T any] struct {
	value     T
	expiresAt time.Time
}

func (e *timedEntry[T]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Memory is the in-process backend. All reads return copies, so callers
// may mutate an aggregate freely and persist it with an explicit Save.
//
// Expired token entries are swept by a background goroutine rather than
// hidden at read time: a redemption attempt between expiry and sweep
// still finds the record and reports expiry instead of absence.
type Memory struct {
	mu sync.RWMutex

	// clients maps client id -> aggregate. Soft-deleted clients stay
	// resident; revocation history depends on them.
	clients map[id.ClientID]*client.Client

	accessTokens  map[id.AccessTokenID]*timedEntry[accessTokenRecord]
	authCodes     map[id.AuthorizationCodeID]*timedEntry[authorizationCodeRecord]
	refreshTokens map[id.RefreshTokenID]*timedEntry[refreshTokenRecord]

	// requests holds suspended authorization requests keyed by the
	// opaque request id round-tripped through interaction surfaces.
	requests map[string]*timedEntry[[]byte]

	// assertionJTIs tracks presented client-assertion jti values until
	// the assertion's own expiry, per RFC 7523 Section 3.
	assertionJTIs map[string]time.Time

	// initialAccessTokens gates open dynamic registration: token ->
	// account that owns clients registered with it.
	initialAccessTokens map[string]id.UserAccountID

	// accounts are not subject to TTL-based cleanup.
	accounts   map[id.UserAccountID]*user.Account
	byUsername map[string]id.UserAccountID
	passwords  map[string][]byte

	cleanupInterval time.Duration
	requestTTL      time.Duration
	now             func() time.Time

	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

// MemoryOption configures a Memory instance.
type MemoryOption func(*Memory)

// WithCleanupInterval sets a custom sweep interval.
func WithCleanupInterval(interval time.Duration) MemoryOption {
	return func(s *Memory) {
		s.cleanupInterval = interval
	}
}

// WithRequestTTL sets how long suspended authorization requests live.
func WithRequestTTL(ttl time.Duration) MemoryOption {
	return func(s *Memory) {
		s.requestTTL = ttl
	}
}

// NewMemory creates the in-process backend and starts its cleanup
// goroutine. Call Close to stop it.
func NewMemory(opts ...MemoryOption) *Memory {
	s := &Memory{
		clients:             make(map[id.ClientID]*client.Client),
		accessTokens:        make(map[id.AccessTokenID]*timedEntry[accessTokenRecord]),
		authCodes:           make(map[id.AuthorizationCodeID]*timedEntry[authorizationCodeRecord]),
		refreshTokens:       make(map[id.RefreshTokenID]*timedEntry[refreshTokenRecord]),
		requests:            make(map[string]*timedEntry[[]byte]),
		assertionJTIs:       make(map[string]time.Time),
		initialAccessTokens: make(map[string]id.UserAccountID),
		accounts:            make(map[id.UserAccountID]*user.Account),
		byUsername:          make(map[string]id.UserAccountID),
		passwords:           make(map[string][]byte),
		cleanupInterval:     DefaultCleanupInterval,
		requestTTL:          DefaultRequestTTL,
		now:                 time.Now,
		stopCleanup:         make(chan struct{}),
		cleanupDone:         make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop()

	return s
}

// Health is a no-op for in-memory storage.
func (*Memory) Health(_ context.Context) error {
	return nil
}

// Close stops the cleanup goroutine and waits for it to finish.
func (s *Memory) Close() error {
	close(s.stopCleanup)
	<-s.cleanupDone
	return nil
}

func (s *Memory) cleanupLoop() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanupExpired()
		}
	}
}

func (s *Memory) cleanupExpired() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, e := range s.accessTokens {
		if e.expired(now) {
			delete(s.accessTokens, k)
		}
	}
	for k, e := range s.authCodes {
		if e.expired(now) {
			delete(s.authCodes, k)
		}
	}
	for k, e := range s.refreshTokens {
		if e.expired(now) {
			delete(s.refreshTokens, k)
		}
	}
	for k, e := range s.requests {
		if e.expired(now) {
			delete(s.requests, k)
		}
	}
	for jti, exp := range s.assertionJTIs {
		if now.After(exp) {
			delete(s.assertionJTIs, jti)
		}
	}
}

// -----------------------
// client.Repository
// -----------------------

// FindClient returns the stored client, soft-deleted ones included.
func (s *Memory) FindClient(_ context.Context, clientID id.ClientID) (*client.Client, error) {
	s.mu.RLock()
	c, ok := s.clients[clientID]
	s.mu.RUnlock()

	if !ok {
		return nil, client.ErrNotFound
	}
	return cloneClient(c)
}

// SaveClient persists the client, replacing any previous version.
func (s *Memory) SaveClient(_ context.Context, c *client.Client) error {
	stored, err := cloneClient(c)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.clients[c.ID] = stored
	s.mu.Unlock()
	return nil
}

// CreateClientID allocates a fresh, unused client identifier.
func (s *Memory) CreateClientID(_ context.Context) (id.ClientID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for {
		candidate := id.GenerateClientID()
		if _, taken := s.clients[candidate]; !taken {
			return candidate, nil
		}
	}
}

// -----------------------
// token repositories
// -----------------------

// FindAccessToken returns the token with the given id, or
// token.ErrNotFound.
func (s *Memory) FindAccessToken(_ context.Context, tokenID id.AccessTokenID) (*token.AccessToken, error) {
	s.mu.RLock()
	e, ok := s.accessTokens[tokenID]
	s.mu.RUnlock()

	if !ok {
		return nil, token.ErrNotFound
	}
	return e.value.aggregate(), nil
}

// SaveAccessToken persists the token, replacing any previous version.
func (s *Memory) SaveAccessToken(_ context.Context, t *token.AccessToken) error {
	e := &timedEntry[accessTokenRecord]{value: encodeAccessToken(t), expiresAt: t.ExpiresAt}

	s.mu.Lock()
	s.accessTokens[t.ID] = e
	s.mu.Unlock()
	return nil
}

// FindAuthorizationCode returns the code with the given id, or
// token.ErrNotFound.
func (s *Memory) FindAuthorizationCode(_ context.Context, codeID id.AuthorizationCodeID) (*token.AuthorizationCode, error) {
	s.mu.RLock()
	e, ok := s.authCodes[codeID]
	s.mu.RUnlock()

	if !ok {
		return nil, token.ErrNotFound
	}
	return e.value.aggregate(), nil
}

// SaveAuthorizationCode persists the code, replacing any previous
// version.
func (s *Memory) SaveAuthorizationCode(_ context.Context, c *token.AuthorizationCode) error {
	e := &timedEntry[authorizationCodeRecord]{value: encodeAuthorizationCode(c), expiresAt: c.ExpiresAt}

	s.mu.Lock()
	s.authCodes[c.ID] = e
	s.mu.Unlock()
	return nil
}

// MarkAuthorizationCodeUsed atomically flips the code's Used flag. Of
// two concurrent calls for the same code, exactly one succeeds and the
// other observes token.ErrCodeAlreadyUsed.
func (s *Memory) MarkAuthorizationCodeUsed(_ context.Context, codeID id.AuthorizationCodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.authCodes[codeID]
	if !ok {
		return token.ErrNotFound
	}
	if e.value.Used {
		return token.ErrCodeAlreadyUsed
	}
	e.value.Used = true
	return nil
}

// FindRefreshToken returns the token with the given id, or
// token.ErrNotFound.
func (s *Memory) FindRefreshToken(_ context.Context, tokenID id.RefreshTokenID) (*token.RefreshToken, error) {
	s.mu.RLock()
	e, ok := s.refreshTokens[tokenID]
	s.mu.RUnlock()

	if !ok {
		return nil, token.ErrNotFound
	}
	return e.value.aggregate(), nil
}

// SaveRefreshToken persists the token, replacing any previous version.
func (s *Memory) SaveRefreshToken(_ context.Context, t *token.RefreshToken) error {
	e := &timedEntry[refreshTokenRecord]{value: encodeRefreshToken(t), expiresAt: t.ExpiresAt}

	s.mu.Lock()
	s.refreshTokens[t.ID] = e
	s.mu.Unlock()
	return nil
}

// RevokeForClient revokes every live credential issued to the client.
// The client service calls it when a client is soft-deleted.
func (s *Memory) RevokeForClient(_ context.Context, clientID id.ClientID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.accessTokens {
		if e.value.ClientID == clientID {
			e.value.Revoked = true
		}
	}
	for _, e := range s.refreshTokens {
		if e.value.ClientID == clientID {
			e.value.Revoked = true
		}
	}
	for _, e := range s.authCodes {
		if e.value.ClientID == clientID {
			e.value.Revoked = true
		}
	}
	return nil
}

// -----------------------
// authorize.RequestStorage
// -----------------------

// SetRequest persists a suspended authorization request under its id.
func (s *Memory) SetRequest(_ context.Context, requestID string, ar *authorize.Request) error {
	raw, err := json.Marshal(ar)
	if err != nil {
		return fmt.Errorf("encode authorization request: %w", err)
	}
	e := &timedEntry[[]byte]{value: raw, expiresAt: s.now().Add(s.requestTTL)}

	s.mu.Lock()
	s.requests[requestID] = e
	s.mu.Unlock()
	return nil
}

// GetRequest returns the suspended request, or
// authorize.ErrRequestNotFound when it is unknown or has expired.
func (s *Memory) GetRequest(_ context.Context, requestID string) (*authorize.Request, error) {
	s.mu.RLock()
	e, ok := s.requests[requestID]
	s.mu.RUnlock()

	if !ok || e.expired(s.now()) {
		return nil, authorize.ErrRequestNotFound
	}

	ar := &authorize.Request{}
	if err := json.Unmarshal(e.value, ar); err != nil {
		return nil, fmt.Errorf("decode authorization request: %w", err)
	}
	return ar, nil
}

// RemoveRequest discards the request. Removing an unknown id is not an
// error.
func (s *Memory) RemoveRequest(_ context.Context, requestID string) error {
	s.mu.Lock()
	delete(s.requests, requestID)
	s.mu.Unlock()
	return nil
}

// -----------------------
// clientauth.ReplayGuard
// -----------------------

// ClaimJTI records the assertion's jti. A second claim of the same jti
// before expiresAt returns ErrJTIReplayed.
func (s *Memory) ClaimJTI(_ context.Context, jti string, expiresAt time.Time) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if exp, ok := s.assertionJTIs[jti]; ok && now.Before(exp) {
		return ErrJTIReplayed
	}
	s.assertionJTIs[jti] = expiresAt
	return nil
}

// -----------------------
// client.InitialAccessTokenValidator
// -----------------------

// PutInitialAccessToken registers an initial access token that gates
// dynamic client registration, bound to the given owner.
func (s *Memory) PutInitialAccessToken(_ context.Context, tok string, owner id.UserAccountID) error {
	s.mu.Lock()
	s.initialAccessTokens[tok] = owner
	s.mu.Unlock()
	return nil
}

// Validate resolves the presented initial access token to its owner.
func (s *Memory) Validate(_ context.Context, tok string) (id.UserAccountID, error) {
	s.mu.RLock()
	owner, ok := s.initialAccessTokens[tok]
	s.mu.RUnlock()

	if !ok {
		return id.UserAccountID{}, ErrInvalidInitialAccessToken
	}
	return owner, nil
}

// -----------------------
// user.Repository
// -----------------------

// SaveAccount persists the account. Pass the bcrypt hash of the user's
// password, or nil to keep a previously stored credential.
func (s *Memory) SaveAccount(_ context.Context, a *user.Account, passwordHash []byte) error {
	stored := cloneAccount(a)

	s.mu.Lock()
	s.accounts[a.ID] = stored
	s.byUsername[a.Username] = a.ID
	if passwordHash != nil {
		s.passwords[a.Username] = passwordHash
	}
	s.mu.Unlock()
	return nil
}

// FindAccount returns the account with the given id, or
// user.ErrNotFound.
func (s *Memory) FindAccount(_ context.Context, accountID id.UserAccountID) (*user.Account, error) {
	s.mu.RLock()
	a, ok := s.accounts[accountID]
	s.mu.RUnlock()

	if !ok {
		return nil, user.ErrNotFound
	}
	return cloneAccount(a), nil
}

// FindOneByUsername returns the account with the given username, or
// user.ErrNotFound.
func (s *Memory) FindOneByUsername(_ context.Context, username string) (*user.Account, error) {
	s.mu.RLock()
	accountID, ok := s.byUsername[username]
	a := s.accounts[accountID]
	s.mu.RUnlock()

	if !ok || a == nil {
		return nil, user.ErrNotFound
	}
	return cloneAccount(a), nil
}

// CheckPassword verifies the account's password. Unknown users and
// wrong passwords are indistinguishable in the returned error.
func (s *Memory) CheckPassword(_ context.Context, username, password string) (*user.Account, error) {
	s.mu.RLock()
	hash, hasHash := s.passwords[username]
	accountID, hasAccount := s.byUsername[username]
	a := s.accounts[accountID]
	s.mu.RUnlock()

	if !hasHash || !hasAccount || a == nil {
		return nil, errBadCredentials()
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return nil, errBadCredentials()
	}
	return cloneAccount(a), nil
}

func errBadCredentials() error {
	return fmt.Errorf("storage: invalid username or password")
}

func cloneClient(c *client.Client) (*client.Client, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode client: %w", err)
	}
	out := &client.Client{}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("decode client: %w", err)
	}
	return out, nil
}

func cloneAccount(a *user.Account) *user.Account {
	out := &user.Account{
		ID:          a.ID,
		Username:    a.Username,
		LastLoginAt: a.LastLoginAt,
	}
	if a.ConsentedScopes != nil {
		out.ConsentedScopes = make(map[string][]string, len(a.ConsentedScopes))
		for k, v := range a.ConsentedScopes {
			out.ConsentedScopes[k] = append([]string(nil), v...)
		}
	}
	return out
}
