// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

package authorize

import (
	"net/http"
	"time"

	"github.com/oauthkit/oauthkit/pkg/oauth2"
)

// Disposition is the tagged result of a prompt hook: the chain either
// continues with the (possibly updated) request, or stops because the
// hook handed control to an interactive surface.
type Disposition int

// Disposition values.
const (
	Continue Disposition = iota
	Suspend
)

// Hook is one step of the negotiation chain. ShouldApply is a pure
// precondition check; Apply either advances the request or suspends by
// writing a response (typically a 303 to an interactive surface).
// Hooks must be idempotent: once their precondition is satisfied,
// ShouldApply returns false and re-running the chain leaves the
// request untouched.
type Hook interface {
	Name() string
	ShouldApply(ar *Request) bool
	Apply(w http.ResponseWriter, r *http.Request, ar *Request) (Disposition, error)
}

// InteractionHandler renders the hand-off to an external interactive
// surface (login page, consent page, account chooser). The surface
// resumes the negotiation by updating the stored request and
// redirecting back to the authorization endpoint with the same
// request id.
type InteractionHandler func(w http.ResponseWriter, r *http.Request, requestID string)

// NonePrompt enforces prompt=none: the request must be resolvable
// without any interaction, otherwise it fails with the OIDC error that
// names the missing interaction. It never redirects to an interactive
// page.
type NonePrompt struct{}

// NewNonePrompt creates the prompt=none hook.
func NewNonePrompt() *NonePrompt { return &NonePrompt{} }

// Name implements Hook.
func (*NonePrompt) Name() string { return "none_prompt" }

// ShouldApply implements Hook.
func (*NonePrompt) ShouldApply(ar *Request) bool {
	return ar.Prompt("none")
}

// Apply implements Hook.
func (*NonePrompt) Apply(_ http.ResponseWriter, _ *http.Request, ar *Request) (Disposition, error) {
	if ar.Prompt("login") || ar.Prompt("consent") || ar.Prompt("select_account") {
		return Continue, oauth2.ErrInteractionRequired.WithDescription("prompt=none cannot be combined with interactive prompts")
	}
	if ar.Account == nil || !ar.FullyAuthenticated {
		return Continue, oauth2.ErrLoginRequired
	}
	if maxAge, ok := ar.MaxAge(); ok && time.Since(ar.AuthTime) > maxAge {
		return Continue, oauth2.ErrLoginRequired
	}
	if ar.Decision == Undecided && !ar.Account.HasConsentedTo(ar.ClientID, ar.Scopes()) {
		return Continue, oauth2.ErrConsentRequired
	}
	return Continue, nil
}

// SelectAccountPrompt hands off to an account chooser when the client
// asked for one and no account has been selected yet in this
// negotiation.
type SelectAccountPrompt struct {
	handler InteractionHandler
}

// NewSelectAccountPrompt creates the select_account hook.
func NewSelectAccountPrompt(handler InteractionHandler) *SelectAccountPrompt {
	return &SelectAccountPrompt{handler: handler}
}

// Name implements Hook.
func (*SelectAccountPrompt) Name() string { return "select_account_prompt" }

// ShouldApply implements Hook.
func (*SelectAccountPrompt) ShouldApply(ar *Request) bool {
	return ar.Prompt("select_account") && !ar.AccountSelected
}

// Apply implements Hook.
func (h *SelectAccountPrompt) Apply(w http.ResponseWriter, r *http.Request, ar *Request) (Disposition, error) {
	h.handler(w, r, ar.ID)
	return Suspend, nil
}

// LoginPrompt hands off to the login surface when no fully
// authenticated account is attached, when the client explicitly asked
// for re-authentication, or when the authentication is older than the
// effective max_age.
type LoginPrompt struct {
	handler InteractionHandler
}

// NewLoginPrompt creates the login hook.
func NewLoginPrompt(handler InteractionHandler) *LoginPrompt {
	return &LoginPrompt{handler: handler}
}

// Name implements Hook.
func (*LoginPrompt) Name() string { return "login_prompt" }

// ShouldApply implements Hook.
func (*LoginPrompt) ShouldApply(ar *Request) bool {
	if ar.Account == nil || !ar.FullyAuthenticated {
		return true
	}
	// prompt=login is satisfied only by a login performed inside this
	// negotiation window.
	if ar.Prompt("login") && ar.AuthTime.Before(ar.CreatedAt) {
		return true
	}
	if maxAge, ok := ar.MaxAge(); ok && time.Since(ar.AuthTime) > maxAge {
		return true
	}
	return false
}

// Apply implements Hook.
func (h *LoginPrompt) Apply(w http.ResponseWriter, r *http.Request, ar *Request) (Disposition, error) {
	h.handler(w, r, ar.ID)
	return Suspend, nil
}

// ConsentPrompt settles the terminal decision. Recorded consent
// covering every requested scope allows the request without
// interaction unless the client demanded a fresh consent; otherwise
// the hook hands off to the consent surface, which resumes with an
// explicit allow or deny.
type ConsentPrompt struct {
	handler InteractionHandler
}

// NewConsentPrompt creates the consent hook.
func NewConsentPrompt(handler InteractionHandler) *ConsentPrompt {
	return &ConsentPrompt{handler: handler}
}

// Name implements Hook.
func (*ConsentPrompt) Name() string { return "consent_prompt" }

// ShouldApply implements Hook.
func (*ConsentPrompt) ShouldApply(ar *Request) bool {
	return ar.Decision == Undecided
}

// Apply implements Hook.
func (h *ConsentPrompt) Apply(w http.ResponseWriter, r *http.Request, ar *Request) (Disposition, error) {
	scopes := ar.Scopes()
	if !ar.Prompt("consent") && ar.Account != nil && ar.Account.HasConsentedTo(ar.ClientID, scopes) {
		ar.Decision = Allow
		ar.GrantedScopes = scopes
		return Continue, nil
	}
	h.handler(w, r, ar.ID)
	return Suspend, nil
}
