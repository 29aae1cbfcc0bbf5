// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/oauthkit/oauthkit/pkg/id"
	"github.com/oauthkit/oauthkit/pkg/oauth2"
)

// Token type hints per RFC 7662 Section 2.1.
const (
	hintAccessToken  = "access_token"
	hintRefreshToken = "refresh_token"
)

// introspectionResponse is the RFC 7662 Section 2.2 response document.
// All fields besides active are omitted for inactive tokens.
type introspectionResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Subject   string `json:"sub,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
}

// Introspect serves RFC 7662 token introspection. The caller must
// authenticate as a registered client; whether a token exists is never
// revealed to unauthenticated callers.
func (h *Handlers) Introspect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, err := h.deps.ClientAuth.Authenticate(ctx, r); err != nil {
		h.writeAuthError(w, err)
		return
	}

	if err := r.ParseForm(); err != nil {
		oauth2.WriteJSON(w, oauth2.ErrInvalidRequest.WithDescription("malformed request body").WithCause(err))
		return
	}
	presented := r.PostForm.Get(oauth2.ParamToken)
	if presented == "" {
		oauth2.WriteJSON(w, oauth2.MissingParams(r.PostForm, oauth2.ParamToken))
		return
	}

	resp := h.introspect(r, presented)
	writeJSONBody(w, http.StatusOK, resp)
}

func (h *Handlers) introspect(r *http.Request, presented string) introspectionResponse {
	ctx := r.Context()
	hint := r.PostForm.Get(oauth2.ParamTokenTypeHint)
	now := time.Now()

	// The hint orders the lookup; a wrong hint only costs a second
	// lookup per RFC 7662 Section 2.1.
	if hint != hintRefreshToken {
		if tokenID, err := id.NewAccessTokenID(presented); err == nil {
			if at, err := h.deps.AccessTokens.Find(ctx, tokenID); err == nil {
				if !at.IsUsable(now) {
					return introspectionResponse{Active: false}
				}
				return introspectionResponse{
					Active:    true,
					Scope:     oauth2.ScopeJoin(at.Scope()),
					ClientID:  at.ClientID.String(),
					Subject:   at.ResourceOwner.String(),
					TokenType: at.TokenType(),
					ExpiresAt: at.ExpiresAt.Unix(),
				}
			}
		}
	}

	if h.deps.RefreshTokens != nil {
		if tokenID, err := id.NewRefreshTokenID(presented); err == nil {
			if rt, err := h.deps.RefreshTokens.Find(ctx, tokenID); err == nil {
				if rt.Revoked || rt.HasExpired(now) {
					return introspectionResponse{Active: false}
				}
				return introspectionResponse{
					Active:    true,
					Scope:     oauth2.ScopeJoin(rt.Scopes),
					ClientID:  rt.ClientID.String(),
					Subject:   rt.ResourceOwner.String(),
					TokenType: hintRefreshToken,
					ExpiresAt: rt.ExpiresAt.Unix(),
				}
			}
		}
	}

	return introspectionResponse{Active: false}
}

func writeJSONBody(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
