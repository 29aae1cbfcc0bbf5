// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

package authorize

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oauthkit/oauthkit/pkg/client"
	"github.com/oauthkit/oauthkit/pkg/databag"
	"github.com/oauthkit/oauthkit/pkg/id"
)

func allowedRequest(t *testing.T, query url.Values) *Request {
	t.Helper()
	cid, err := id.NewClientID("c1")
	require.NoError(t, err)
	ar := NewRequest(client.New(cid, databag.New()), query, "https://cb")
	ar.AccountID = mustAccountID(t, "u1")
	return ar
}

func TestCodeTypeStoresNarrowedScopes(t *testing.T) {
	t.Parallel()

	codes := newCodeRepo()
	ct := NewCodeType(codes, time.Minute)

	ar := allowedRequest(t, url.Values{"scope": {"openid profile email"}})
	// The consent surface granted a subset of the requested scopes.
	ar.GrantedScopes = []string{"openid"}

	result, err := ct.Respond(context.Background(), ar)
	require.NoError(t, err)

	stored, ok := codes.codes[result.Get("code")]
	require.True(t, ok)
	assert.Equal(t, "openid", stored.Parameters.GetStringDefault("scope", ""))
	// The original request parameters stay intact alongside.
	assert.Equal(t, "openid profile email", stored.Query.Get("scope"))
}

func TestCodeTypeStoresRequestedScopesWithoutNarrowing(t *testing.T) {
	t.Parallel()

	codes := newCodeRepo()
	ct := NewCodeType(codes, time.Minute)

	ar := allowedRequest(t, url.Values{"scope": {"openid profile"}})

	result, err := ct.Respond(context.Background(), ar)
	require.NoError(t, err)

	stored, ok := codes.codes[result.Get("code")]
	require.True(t, ok)
	assert.Equal(t, "openid profile", stored.Parameters.GetStringDefault("scope", ""))
}
