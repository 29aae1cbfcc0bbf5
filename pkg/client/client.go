// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package client holds the Client aggregate: a registered OAuth client's
// identity, owner, registered metadata, and lifecycle state. Registration
// parameter validation lives in the rules subpackage.
package client

import (
	"encoding/json"
	"time"

	"github.com/oauthkit/oauthkit/pkg/databag"
	"github.com/oauthkit/oauthkit/pkg/id"
	"github.com/oauthkit/oauthkit/pkg/oauth2"
)

// Client is a registered OAuth client. Metadata holds the validated
// registration parameters (token_endpoint_auth_method, grant_types,
// redirect_uris, ...); SecretHash holds the bcrypt hash of the client
// secret for confidential clients and is never serialized into responses.
type Client struct {
	ID         id.ClientID
	Owner      id.UserAccountID
	Metadata   *databag.Bag
	SecretHash []byte
	CreatedAt  time.Time
	Deleted    bool
}

// New creates a client with the given identity and validated metadata.
func New(clientID id.ClientID, metadata *databag.Bag) *Client {
	if metadata == nil {
		metadata = databag.New()
	}
	return &Client{ID: clientID, Metadata: metadata, CreatedAt: time.Now()}
}

// TokenEndpointAuthMethod returns the client's configured authentication
// method. A client with no configured method defaults to
// client_secret_basic per RFC 7591 Section 2.
func (c *Client) TokenEndpointAuthMethod() string {
	return c.Metadata.GetStringDefault(oauth2.MetadataTokenEndpointAuthMethod, "client_secret_basic")
}

// IsPublic reports whether the client is public, which holds exactly when
// token_endpoint_auth_method is "none".
func (c *Client) IsPublic() bool {
	return c.TokenEndpointAuthMethod() == oauth2.AuthMethodNone
}

// AreClientCredentialsExpired reports whether a non-zero
// client_secret_expires_at timestamp has passed.
func (c *Client) AreClientCredentialsExpired(now time.Time) bool {
	exp, err := c.Metadata.GetInt64(oauth2.MetadataClientSecretExpiresAt)
	if err != nil || exp == 0 {
		return false
	}
	return now.After(time.Unix(exp, 0))
}

// IsGrantTypeAllowed reports whether the client is registered for the
// given grant type. A client with no grant_types metadata defaults to
// authorization_code only, per RFC 7591 Section 2.
func (c *Client) IsGrantTypeAllowed(grantType string) bool {
	grants, err := c.Metadata.GetStrings(oauth2.MetadataGrantTypes)
	if err != nil {
		return grantType == "authorization_code"
	}
	return oauth2.ScopeContains(grants, grantType)
}

// IsResponseTypeAllowed reports whether the client is registered for the
// given (normalized) response type. Defaults to "code" when unset.
func (c *Client) IsResponseTypeAllowed(responseType string) bool {
	want := oauth2.NormalizeResponseType(responseType)
	types, err := c.Metadata.GetStrings(oauth2.MetadataResponseTypes)
	if err != nil {
		return want == "code"
	}
	for _, rt := range types {
		if oauth2.NormalizeResponseType(rt) == want {
			return true
		}
	}
	return false
}

// HasRedirectURI reports whether the given URI is one of the client's
// registered redirect URIs. Matching is exact string comparison per
// RFC 6749 Section 3.1.2.3.
func (c *Client) HasRedirectURI(uri string) bool {
	uris, err := c.Metadata.GetStrings(oauth2.MetadataRedirectURIs)
	if err != nil {
		return false
	}
	return oauth2.ScopeContains(uris, uri)
}

// RedirectURIs returns the client's registered redirect URIs.
func (c *Client) RedirectURIs() []string {
	uris, err := c.Metadata.GetStrings(oauth2.MetadataRedirectURIs)
	if err != nil {
		return nil
	}
	return uris
}

// AllowedScopes returns the client's registered scope allowance, or nil
// when the client did not restrict scopes at registration.
func (c *Client) AllowedScopes() []string {
	s, err := c.Metadata.GetString(oauth2.MetadataScope)
	if err != nil {
		return nil
	}
	return oauth2.ScopeSplit(s)
}

// SetOwner assigns the owning user account.
func (c *Client) SetOwner(owner id.UserAccountID) {
	c.Owner = owner
}

// MarkDeleted soft-deletes the client. Deleted clients are never purged;
// they simply fail every authentication and lookup-for-use path.
func (c *Client) MarkDeleted() {
	c.Deleted = true
}

// record is the serialized form used by storage backends. Owner is a
// pointer so an unowned client omits the field instead of serializing an
// empty identifier.
type record struct {
	ID         id.ClientID       `json:"id"`
	Owner      *id.UserAccountID `json:"owner,omitempty"`
	Metadata   *databag.Bag      `json:"metadata"`
	SecretHash []byte            `json:"secret_hash,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	Deleted    bool              `json:"deleted"`
}

// MarshalJSON serializes the full aggregate for storage backends.
func (c *Client) MarshalJSON() ([]byte, error) {
	r := record{
		ID: c.ID, Metadata: c.Metadata,
		SecretHash: c.SecretHash, CreatedAt: c.CreatedAt, Deleted: c.Deleted,
	}
	if !c.Owner.IsZero() {
		owner := c.Owner
		r.Owner = &owner
	}
	return json.Marshal(r)
}

// UnmarshalJSON restores the aggregate from its storage form.
func (c *Client) UnmarshalJSON(data []byte) error {
	var r struct {
		ID         id.ClientID      `json:"id"`
		Owner      *id.UserAccountID `json:"owner"`
		Metadata   *databag.Bag     `json:"metadata"`
		SecretHash []byte           `json:"secret_hash"`
		CreatedAt  time.Time        `json:"created_at"`
		Deleted    bool             `json:"deleted"`
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	c.ID = r.ID
	if r.Owner != nil {
		c.Owner = *r.Owner
	}
	c.Metadata = r.Metadata
	if c.Metadata == nil {
		c.Metadata = databag.New()
	}
	c.SecretHash = r.SecretHash
	c.CreatedAt = r.CreatedAt
	c.Deleted = r.Deleted
	return nil
}
