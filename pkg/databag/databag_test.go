// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

package databag

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBagInsertionOrder(t *testing.T) {
	t.Parallel()

	b := New()
	b.Set("zeta", "1")
	b.Set("alpha", "2")
	b.Set("mike", "3")

	assert.Equal(t, []string{"zeta", "alpha", "mike"}, b.Keys())

	// Replacing a key keeps its position.
	b.Set("alpha", "updated")
	assert.Equal(t, []string{"zeta", "alpha", "mike"}, b.Keys())

	v, err := b.GetString("alpha")
	require.NoError(t, err)
	assert.Equal(t, "updated", v)
}

func TestBagGetAbsentKeyIsError(t *testing.T) {
	t.Parallel()

	b := New()
	_, err := b.Get("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestBagAllReturnsSnapshot(t *testing.T) {
	t.Parallel()

	b := New()
	b.Set("scope", "openid profile")

	snapshot := b.All()
	snapshot["scope"] = "tampered"

	v, err := b.GetString("scope")
	require.NoError(t, err)
	assert.Equal(t, "openid profile", v)
}

func TestBagWithDoesNotMutateReceiver(t *testing.T) {
	t.Parallel()

	b := New()
	b.Set("a", "1")

	c := b.With("b", "2")

	assert.False(t, b.Has("b"))
	assert.True(t, c.Has("b"))
	assert.True(t, c.Has("a"))
}

func TestBagDelete(t *testing.T) {
	t.Parallel()

	b := New()
	b.Set("a", "1")
	b.Set("b", "2")
	b.Set("c", "3")

	b.Delete("b")
	assert.Equal(t, []string{"a", "c"}, b.Keys())

	// Deleting an absent key is a no-op.
	b.Delete("nope")
	assert.Equal(t, 2, b.Len())
}

func TestBagGetStrings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		value   any
		want    []string
		wantErr bool
	}{
		{name: "string slice", value: []string{"a", "b"}, want: []string{"a", "b"}},
		{name: "bare string", value: "solo", want: []string{"solo"}},
		{name: "any slice from JSON", value: []any{"x", "y"}, want: []string{"x", "y"}},
		{name: "mixed any slice", value: []any{"x", 3}, wantErr: true},
		{name: "integer", value: 7, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := New()
			b.Set("k", tt.value)
			got, err := b.GetStrings("k")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBagGetInt64(t *testing.T) {
	t.Parallel()

	b := New()
	b.Set("exact", int64(42))
	b.Set("plain", 7)
	b.Set("json", float64(1735689600))
	b.Set("fraction", 1.5)

	for key, want := range map[string]int64{"exact": 42, "plain": 7, "json": 1735689600} {
		got, err := b.GetInt64(key)
		require.NoError(t, err, key)
		assert.Equal(t, want, got, key)
	}

	_, err := b.GetInt64("fraction")
	require.Error(t, err)
}

func TestBagJSONRoundTripPreservesOrder(t *testing.T) {
	t.Parallel()

	b := New()
	b.Set("token_endpoint_auth_method", "client_secret_basic")
	b.Set("redirect_uris", []string{"https://cb.example.com/a"})
	b.Set("client_secret_expires_at", int64(0))

	data, err := json.Marshal(b)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"token_endpoint_auth_method": "client_secret_basic",
		"redirect_uris": ["https://cb.example.com/a"],
		"client_secret_expires_at": 0
	}`, string(data))

	// Insertion order survives the round trip byte-for-byte.
	decoded := New()
	require.NoError(t, json.Unmarshal(data, decoded))
	assert.Equal(t, b.Keys(), decoded.Keys())

	again, err := json.Marshal(decoded)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again))
}

func TestFromMapIsDeterministic(t *testing.T) {
	t.Parallel()

	m := map[string]any{"b": 1, "a": 2, "c": 3}
	assert.Equal(t, []string{"a", "b", "c"}, FromMap(m).Keys())
}
