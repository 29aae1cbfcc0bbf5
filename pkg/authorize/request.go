// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package authorize implements the authorization endpoint: response
// types and response modes behind registries, and a prompt-hook state
// machine that negotiates login, account selection, and consent across
// redirects. An in-flight negotiation is persisted between requests
// through a pluggable storage collaborator keyed by an opaque request
// id; every re-entry re-runs the whole hook chain from the start, so
// hooks must be written to no-op once their precondition holds.
package authorize

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/oauthkit/oauthkit/pkg/client"
	"github.com/oauthkit/oauthkit/pkg/id"
	"github.com/oauthkit/oauthkit/pkg/oauth2"
	"github.com/oauthkit/oauthkit/pkg/user"
)

// ErrRequestNotFound is returned by RequestStorage when no in-flight
// authorization request exists for the given id.
var ErrRequestNotFound = errors.New("authorize: request not found")

// Decision is the terminal outcome of the negotiation.
type Decision int

// Decision values.
const (
	Undecided Decision = iota
	Allow
	Deny
)

// Request is one in-flight authorization negotiation. It survives
// across redirects to login/consent surfaces via RequestStorage; the
// Client and Account pointers are transient and re-resolved by the
// driver on every entry, only their identifiers persist.
type Request struct {
	ID          string
	ClientID    id.ClientID
	Query       url.Values
	RedirectURI string
	CreatedAt   time.Time

	// AccountID is zero until an account has been discovered.
	AccountID id.UserAccountID

	// FullyAuthenticated is set by the login surface once the user has
	// actively proven their identity inside this negotiation window.
	FullyAuthenticated bool

	// AuthTime is when the user last authenticated, used for max_age
	// and prompt=login freshness checks.
	AuthTime time.Time

	// AccountSelected is set by the account-selection surface.
	AccountSelected bool

	// GrantedScopes is filled by the consent surface on allow.
	GrantedScopes []string

	Decision Decision

	// Client and Account are resolved per entry and never persisted.
	Client  *client.Client `json:"-"`
	Account *user.Account  `json:"-"`
}

// NewRequest starts a negotiation for the given client and raw
// authorization query.
func NewRequest(c *client.Client, query url.Values, redirectURI string) *Request {
	return &Request{
		ID:          uuid.NewString(),
		ClientID:    c.ID,
		Query:       query,
		RedirectURI: redirectURI,
		CreatedAt:   time.Now(),
		Client:      c,
	}
}

// Scopes returns the scopes requested in the authorization query.
func (ar *Request) Scopes() []string {
	return oauth2.ScopeSplit(ar.Query.Get(oauth2.ParamScope))
}

// State returns the client's opaque state value, echoed verbatim in
// every response.
func (ar *Request) State() string {
	return ar.Query.Get(oauth2.ParamState)
}

// ResponseType returns the raw response_type query value.
func (ar *Request) ResponseType() string {
	return ar.Query.Get(oauth2.ParamResponseType)
}

// Prompt reports whether the prompt parameter includes the given value.
func (ar *Request) Prompt(value string) bool {
	return oauth2.ScopeContains(oauth2.ScopeSplit(ar.Query.Get(oauth2.ParamPrompt)), value)
}

// MaxAge returns the effective authentication freshness limit: the
// max_age query parameter, falling back to the client's registered
// default_max_age. ok is false when neither is set.
func (ar *Request) MaxAge() (maxAge time.Duration, ok bool) {
	if raw := ar.Query.Get(oauth2.ParamMaxAge); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			return 0, false
		}
		return time.Duration(n) * time.Second, true
	}
	if ar.Client != nil {
		if n, err := ar.Client.Metadata.GetInt64(oauth2.MetadataDefaultMaxAge); err == nil && n >= 0 {
			return time.Duration(n) * time.Second, true
		}
	}
	return 0, false
}

// requestRecord is the persisted form of a Request.
type requestRecord struct {
	ID                 string             `json:"id"`
	ClientID           id.ClientID        `json:"client_id"`
	Query              url.Values         `json:"query"`
	RedirectURI        string             `json:"redirect_uri"`
	CreatedAt          time.Time          `json:"created_at"`
	AccountID          *id.UserAccountID  `json:"account_id,omitempty"`
	FullyAuthenticated bool               `json:"fully_authenticated"`
	AuthTime           time.Time          `json:"auth_time"`
	AccountSelected    bool               `json:"account_selected"`
	GrantedScopes      []string           `json:"granted_scopes,omitempty"`
	Decision           Decision           `json:"decision"`
}

// MarshalJSON implements json.Marshaler.
func (ar *Request) MarshalJSON() ([]byte, error) {
	rec := requestRecord{
		ID:                 ar.ID,
		ClientID:           ar.ClientID,
		Query:              ar.Query,
		RedirectURI:        ar.RedirectURI,
		CreatedAt:          ar.CreatedAt,
		FullyAuthenticated: ar.FullyAuthenticated,
		AuthTime:           ar.AuthTime,
		AccountSelected:    ar.AccountSelected,
		GrantedScopes:      ar.GrantedScopes,
		Decision:           ar.Decision,
	}
	if !ar.AccountID.IsZero() {
		rec.AccountID = &ar.AccountID
	}
	return json.Marshal(rec)
}

// UnmarshalJSON implements json.Unmarshaler.
func (ar *Request) UnmarshalJSON(data []byte) error {
	var rec requestRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	ar.ID = rec.ID
	ar.ClientID = rec.ClientID
	ar.Query = rec.Query
	ar.RedirectURI = rec.RedirectURI
	ar.CreatedAt = rec.CreatedAt
	if rec.AccountID != nil {
		ar.AccountID = *rec.AccountID
	}
	ar.FullyAuthenticated = rec.FullyAuthenticated
	ar.AuthTime = rec.AuthTime
	ar.AccountSelected = rec.AccountSelected
	ar.GrantedScopes = rec.GrantedScopes
	ar.Decision = rec.Decision
	return nil
}

// RequestStorage persists in-flight authorization requests between the
// redirects of an interactive negotiation.
type RequestStorage interface {
	// Set persists the request under its id.
	Set(ctx context.Context, requestID string, ar *Request) error

	// Get returns the request with the given id, or ErrRequestNotFound.
	Get(ctx context.Context, requestID string) (*Request, error)

	// Remove discards the request. Removing an unknown id is not an
	// error.
	Remove(ctx context.Context, requestID string) error
}
