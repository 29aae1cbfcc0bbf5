// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package id provides the opaque identifier value types used by the
// framework's aggregates. Each type is an immutable wrapper around a
// non-empty string; two identifiers are equal only when they are the same
// concrete kind holding the same raw value. All kinds serialize to and
// from a bare JSON string.
package id

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ClientID identifies a registered OAuth client.
type ClientID struct{ value string }

// AccessTokenID identifies an issued access token.
type AccessTokenID struct{ value string }

// AuthorizationCodeID identifies an issued authorization code.
type AuthorizationCodeID struct{ value string }

// RefreshTokenID identifies an issued refresh token.
type RefreshTokenID struct{ value string }

// UserAccountID identifies an end-user account.
type UserAccountID struct{ value string }

// ResourceServerID identifies a resource server a token is scoped to.
type ResourceServerID struct{ value string }

// ResourceOwnerID identifies the entity a token was issued on behalf of:
// an end-user, or a client acting for itself.
type ResourceOwnerID struct{ value string }

// NewClientID wraps a raw client identifier. The value must be non-empty.
func NewClientID(v string) (ClientID, error) {
	if v == "" {
		return ClientID{}, errEmpty("client id")
	}
	return ClientID{value: v}, nil
}

// GenerateClientID creates a fresh random client identifier.
func GenerateClientID() ClientID {
	return ClientID{value: uuid.NewString()}
}

// NewAccessTokenID wraps a raw access token identifier.
func NewAccessTokenID(v string) (AccessTokenID, error) {
	if v == "" {
		return AccessTokenID{}, errEmpty("access token id")
	}
	return AccessTokenID{value: v}, nil
}

// GenerateAccessTokenID creates a fresh random access token identifier.
func GenerateAccessTokenID() AccessTokenID {
	return AccessTokenID{value: randomToken()}
}

// NewAuthorizationCodeID wraps a raw authorization code.
func NewAuthorizationCodeID(v string) (AuthorizationCodeID, error) {
	if v == "" {
		return AuthorizationCodeID{}, errEmpty("authorization code id")
	}
	return AuthorizationCodeID{value: v}, nil
}

// GenerateAuthorizationCodeID creates a fresh random authorization code.
func GenerateAuthorizationCodeID() AuthorizationCodeID {
	return AuthorizationCodeID{value: randomToken()}
}

// NewRefreshTokenID wraps a raw refresh token identifier.
func NewRefreshTokenID(v string) (RefreshTokenID, error) {
	if v == "" {
		return RefreshTokenID{}, errEmpty("refresh token id")
	}
	return RefreshTokenID{value: v}, nil
}

// GenerateRefreshTokenID creates a fresh random refresh token identifier.
func GenerateRefreshTokenID() RefreshTokenID {
	return RefreshTokenID{value: randomToken()}
}

// NewUserAccountID wraps a raw user account identifier.
func NewUserAccountID(v string) (UserAccountID, error) {
	if v == "" {
		return UserAccountID{}, errEmpty("user account id")
	}
	return UserAccountID{value: v}, nil
}

// NewResourceServerID wraps a raw resource server identifier.
func NewResourceServerID(v string) (ResourceServerID, error) {
	if v == "" {
		return ResourceServerID{}, errEmpty("resource server id")
	}
	return ResourceServerID{value: v}, nil
}

// NewResourceOwnerID wraps a raw resource owner identifier.
func NewResourceOwnerID(v string) (ResourceOwnerID, error) {
	if v == "" {
		return ResourceOwnerID{}, errEmpty("resource owner id")
	}
	return ResourceOwnerID{value: v}, nil
}

// OwnerFromUserAccount converts an end-user identity into the resource
// owner role it plays on an issued token.
func OwnerFromUserAccount(account UserAccountID) ResourceOwnerID {
	return ResourceOwnerID{value: account.value}
}

// OwnerFromClient converts a client identity into the resource owner
// role, for grants where the client acts on its own behalf.
func OwnerFromClient(clientID ClientID) ResourceOwnerID {
	return ResourceOwnerID{value: clientID.value}
}

func errEmpty(kind string) error {
	return fmt.Errorf("id: %s must not be empty", kind)
}

// randomToken produces an unguessable opaque identifier. Two UUIDs give
// 244 bits of randomness, above the RFC 6749 Section 10.10 minimum.
func randomToken() string {
	return uuid.NewString() + uuid.NewString()
}

// String / IsZero / JSON plumbing. Kept mechanical on purpose: each kind
// is a distinct type so they can never be compared or assigned to each
// other.

func (i ClientID) String() string            { return i.value }
func (i AccessTokenID) String() string       { return i.value }
func (i AuthorizationCodeID) String() string { return i.value }
func (i RefreshTokenID) String() string      { return i.value }
func (i UserAccountID) String() string       { return i.value }
func (i ResourceServerID) String() string    { return i.value }
func (i ResourceOwnerID) String() string     { return i.value }

func (i ClientID) IsZero() bool            { return i.value == "" }
func (i AccessTokenID) IsZero() bool       { return i.value == "" }
func (i AuthorizationCodeID) IsZero() bool { return i.value == "" }
func (i RefreshTokenID) IsZero() bool      { return i.value == "" }
func (i UserAccountID) IsZero() bool       { return i.value == "" }
func (i ResourceServerID) IsZero() bool    { return i.value == "" }
func (i ResourceOwnerID) IsZero() bool     { return i.value == "" }

func (i ClientID) MarshalJSON() ([]byte, error)            { return json.Marshal(i.value) }
func (i AccessTokenID) MarshalJSON() ([]byte, error)       { return json.Marshal(i.value) }
func (i AuthorizationCodeID) MarshalJSON() ([]byte, error) { return json.Marshal(i.value) }
func (i RefreshTokenID) MarshalJSON() ([]byte, error)      { return json.Marshal(i.value) }
func (i UserAccountID) MarshalJSON() ([]byte, error)       { return json.Marshal(i.value) }
func (i ResourceServerID) MarshalJSON() ([]byte, error)    { return json.Marshal(i.value) }
func (i ResourceOwnerID) MarshalJSON() ([]byte, error)     { return json.Marshal(i.value) }

func (i *ClientID) UnmarshalJSON(data []byte) error            { return decode(data, &i.value, "client id") }
func (i *AccessTokenID) UnmarshalJSON(data []byte) error       { return decode(data, &i.value, "access token id") }
func (i *AuthorizationCodeID) UnmarshalJSON(data []byte) error { return decode(data, &i.value, "authorization code id") }
func (i *RefreshTokenID) UnmarshalJSON(data []byte) error      { return decode(data, &i.value, "refresh token id") }
func (i *UserAccountID) UnmarshalJSON(data []byte) error       { return decode(data, &i.value, "user account id") }
func (i *ResourceServerID) UnmarshalJSON(data []byte) error    { return decode(data, &i.value, "resource server id") }
func (i *ResourceOwnerID) UnmarshalJSON(data []byte) error     { return decode(data, &i.value, "resource owner id") }

func decode(data []byte, into *string, kind string) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("id: decode %s: %w", kind, err)
	}
	if s == "" {
		return errEmpty(kind)
	}
	*into = s
	return nil
}
