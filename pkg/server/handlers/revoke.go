// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/oauthkit/oauthkit/pkg/client"
	"github.com/oauthkit/oauthkit/pkg/id"
	"github.com/oauthkit/oauthkit/pkg/oauth2"
)

// Revoke serves RFC 7009 token revocation. Per Section 2.2 the endpoint
// answers 200 for unknown tokens and for tokens issued to a different
// client, so callers cannot probe the token space.
func (h *Handlers) Revoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	caller, err := h.deps.ClientAuth.Authenticate(ctx, r)
	if err != nil {
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

	if err := h.revoke(r, caller, presented); err != nil {
		oauth2.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) revoke(r *http.Request, caller *client.Client, presented string) error {
	ctx := r.Context()
	hint := r.PostForm.Get(oauth2.ParamTokenTypeHint)

	if hint != hintRefreshToken {
		if tokenID, err := id.NewAccessTokenID(presented); err == nil {
			if at, err := h.deps.AccessTokens.Find(ctx, tokenID); err == nil {
				if at.ClientID != caller.ID {
					return nil
				}
				at.Revoke()
				if err := h.deps.AccessTokens.Save(ctx, at); err != nil {
					return err
				}
				h.logger.InfoContext(ctx, "access token revoked", "client_id", caller.ID.String())
				return nil
			}
		}
	}

	if h.deps.RefreshTokens != nil {
		if tokenID, err := id.NewRefreshTokenID(presented); err == nil {
			if rt, err := h.deps.RefreshTokens.Find(ctx, tokenID); err == nil {
				if rt.ClientID != caller.ID {
					return nil
				}
				rt.Revoke()
				if err := h.deps.RefreshTokens.Save(ctx, rt); err != nil {
					return err
				}
				h.logger.InfoContext(ctx, "refresh token revoked", "client_id", caller.ID.String())
				return nil
			}
		}
	}

	return nil
}
