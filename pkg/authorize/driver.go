// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

package authorize

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/oauthkit/oauthkit/pkg/client"
	"github.com/oauthkit/oauthkit/pkg/id"
	"github.com/oauthkit/oauthkit/pkg/oauth2"
	"github.com/oauthkit/oauthkit/pkg/user"
)

// ParamRequestID is the query parameter carrying the opaque id of an
// in-flight negotiation across redirects to interactive surfaces.
const ParamRequestID = "request_id"

// SessionAuthenticator discovers an ambient authenticated account from
// the incoming request, typically a session cookie. Implemented by the
// host application; optional.
type SessionAuthenticator interface {
	// AuthenticatedAccount returns the account bound to the request's
	// session and the time it authenticated. ok is false when the
	// request carries no authenticated session.
	AuthenticatedAccount(r *http.Request) (accountID id.UserAccountID, authTime time.Time, ok bool)
}

// Driver is the authorization endpoint state machine. Every entry,
// first or resumed, runs the whole hook chain from the start; hooks
// that are already satisfied no-op, so adding or reordering hooks
// between deployments cannot corrupt in-flight negotiations.
type Driver struct {
	clients  client.Repository
	accounts user.Repository
	storage  RequestStorage
	types    *TypeManager
	modes    *ModeManager
	hooks    []Hook
	session  SessionAuthenticator
	logger   *slog.Logger
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithHooks sets the prompt-hook chain. Order is evaluation order.
func WithHooks(hooks ...Hook) DriverOption {
	return func(d *Driver) { d.hooks = hooks }
}

// WithSessionAuthenticator sets the ambient session discovery
// collaborator.
func WithSessionAuthenticator(s SessionAuthenticator) DriverOption {
	return func(d *Driver) { d.session = s }
}

// WithLogger sets the driver's logger.
func WithLogger(logger *slog.Logger) DriverOption {
	return func(d *Driver) { d.logger = logger }
}

// NewDriver assembles the authorization endpoint.
func NewDriver(clients client.Repository, accounts user.Repository, storage RequestStorage,
	types *TypeManager, modes *ModeManager, opts ...DriverOption) *Driver {
	d := &Driver{
		clients:  clients,
		accounts: accounts,
		storage:  storage,
		types:    types,
		modes:    modes,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle serves one authorization endpoint request: either the start
// of a new negotiation or a re-entry carrying a request id.
func (d *Driver) Handle(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		oauth2.WriteJSON(w, oauth2.ErrInvalidRequest.WithDescription("malformed request").WithCause(err))
		return
	}

	if requestID := r.Form.Get(ParamRequestID); requestID != "" {
		d.resume(w, r, requestID)
		return
	}
	d.begin(w, r)
}

// begin validates the structure of a fresh authorization request.
// Failures before the redirect URI is validated render inline; after
// that they travel to the client through the response mode.
func (d *Driver) begin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.Form

	clientID, err := id.NewClientID(query.Get(oauth2.ParamClientID))
	if err != nil {
		oauth2.WriteJSON(w, oauth2.MissingParams(query, oauth2.ParamClientID))
		return
	}
	c, err := d.clients.Find(ctx, clientID)
	if err != nil || c.Deleted {
		oauth2.WriteJSON(w, oauth2.ErrInvalidRequest.WithDescription("unknown client"))
		return
	}

	redirectURI, err := d.resolveRedirectURI(c, query.Get(oauth2.ParamRedirectURI))
	if err != nil {
		// The redirect URI could not be trusted; never redirect to it.
		oauth2.WriteJSON(w, err)
		return
	}

	ar := NewRequest(c, query, redirectURI)

	responseType := query.Get(oauth2.ParamResponseType)
	if responseType == "" {
		d.deliverError(w, r, ar, oauth2.MissingParams(query, oauth2.ParamResponseType))
		return
	}
	rt, err := d.types.Resolve(responseType)
	if err != nil {
		d.deliverError(w, r, ar, err)
		return
	}
	if !c.IsResponseTypeAllowed(responseType) {
		d.deliverError(w, r, ar, oauth2.ErrUnauthorizedClient.WithDescription("client is not authorized for response type %q", responseType))
		return
	}
	if mode := query.Get(oauth2.ParamResponseMode); mode != "" && !d.modes.Has(mode) {
		d.deliverError(w, r, ar, oauth2.ErrInvalidRequest.WithDescription("unsupported response mode %q", mode))
		return
	}

	// OIDC Core Section 3.2.2.1: implicit and hybrid ID tokens require
	// a nonce. Structurally invalid, so rejected inline before any
	// hook can redirect.
	if containsIDToken(rt.Name()) && query.Get(oauth2.ParamNonce) == "" {
		oauth2.WriteJSON(w, oauth2.ErrInvalidRequest.WithDescription("nonce is required for response type %q", responseType))
		return
	}

	if d.session != nil {
		if accountID, authTime, ok := d.session.AuthenticatedAccount(r); ok {
			ar.AccountID = accountID
			ar.AuthTime = authTime
			ar.FullyAuthenticated = true
		}
	}

	d.run(w, r, ar)
}

// resume re-enters a suspended negotiation.
func (d *Driver) resume(w http.ResponseWriter, r *http.Request, requestID string) {
	ctx := r.Context()
	ar, err := d.storage.Get(ctx, requestID)
	if err != nil {
		oauth2.WriteJSON(w, oauth2.ErrInvalidRequest.WithDescription("unknown or expired authorization request"))
		return
	}
	d.run(w, r, ar)
}

// run resolves the transient aggregates and drives the hook chain from
// the first hook to a terminal response or a suspension.
func (d *Driver) run(w http.ResponseWriter, r *http.Request, ar *Request) {
	ctx := r.Context()

	if ar.Client == nil {
		c, err := d.clients.Find(ctx, ar.ClientID)
		if err != nil || c.Deleted {
			d.discard(ctx, ar)
			oauth2.WriteJSON(w, oauth2.ErrInvalidRequest.WithDescription("unknown client"))
			return
		}
		ar.Client = c
	}
	if ar.Account == nil && !ar.AccountID.IsZero() {
		account, err := d.accounts.Find(ctx, ar.AccountID)
		if err != nil {
			d.deliverError(w, r, ar, oauth2.ErrServerError.WithCause(err))
			return
		}
		ar.Account = account
	}

	for _, hook := range d.hooks {
		if !hook.ShouldApply(ar) {
			continue
		}
		// Persist before the hook may hand control to an external
		// surface; the surface mutates the stored request and
		// re-enters with the same id.
		if err := d.storage.Set(ctx, ar.ID, ar); err != nil {
			d.deliverError(w, r, ar, oauth2.ErrServerError.WithCause(err))
			return
		}
		disposition, err := hook.Apply(w, r, ar)
		if err != nil {
			d.logger.Debug("prompt hook rejected authorization",
				"hook", hook.Name(),
				"client_id", ar.ClientID.String(),
				"error", err,
			)
			d.deliverError(w, r, ar, err)
			return
		}
		if disposition == Suspend {
			return
		}
	}

	switch ar.Decision {
	case Deny:
		d.deliverError(w, r, ar, oauth2.ErrAccessDenied.WithDescription("the resource owner denied the request"))
	case Allow:
		d.succeed(w, r, ar)
	default:
		d.deliverError(w, r, ar, oauth2.ErrServerError)
	}
}

// succeed builds the success payload through the response type and
// delivers it through the response mode.
func (d *Driver) succeed(w http.ResponseWriter, r *http.Request, ar *Request) {
	ctx := r.Context()
	rt, err := d.types.Resolve(ar.ResponseType())
	if err != nil {
		d.deliverError(w, r, ar, err)
		return
	}
	params, err := rt.Respond(ctx, ar)
	if err != nil {
		d.deliverError(w, r, ar, err)
		return
	}
	if state := ar.State(); state != "" {
		params.Set(oauth2.ParamState, state)
	}
	d.discard(ctx, ar)
	if err := d.modeFor(ar).Deliver(w, r, ar.RedirectURI, params); err != nil {
		d.logger.Error("response delivery failed", "error", err)
		oauth2.WriteJSON(w, oauth2.AsError(err))
	}
}

// deliverError sends a front-channel error through the response mode,
// echoing state verbatim, and discards the stored negotiation.
func (d *Driver) deliverError(w http.ResponseWriter, r *http.Request, ar *Request, err error) {
	oe := oauth2.AsError(err)
	params := oe.Params()
	if state := ar.State(); state != "" {
		params.Set(oauth2.ParamState, state)
	}
	d.discard(r.Context(), ar)
	if deliverErr := d.modeFor(ar).Deliver(w, r, ar.RedirectURI, params); deliverErr != nil {
		oauth2.WriteJSON(w, oe)
	}
}

// modeFor selects the delivery mode: the explicit response_mode when
// registered, else the response type's default, else query.
func (d *Driver) modeFor(ar *Request) ResponseMode {
	if name := ar.Query.Get(oauth2.ParamResponseMode); name != "" {
		if mode := d.modes.Get(name); mode != nil {
			return mode
		}
	}
	if rt, err := d.types.Resolve(ar.ResponseType()); err == nil {
		if mode := d.modes.Get(rt.DefaultResponseMode()); mode != nil {
			return mode
		}
	}
	return QueryMode{}
}

func (d *Driver) discard(ctx context.Context, ar *Request) {
	if err := d.storage.Remove(ctx, ar.ID); err != nil {
		d.logger.Warn("failed to discard authorization request", "request_id", ar.ID, "error", err)
	}
}

// resolveRedirectURI validates the requested redirect URI against the
// client's registration, falling back to a single registered URI when
// the request omits one.
func (d *Driver) resolveRedirectURI(c *client.Client, requested string) (string, error) {
	if requested != "" {
		if !c.HasRedirectURI(requested) {
			return "", oauth2.ErrInvalidRedirectURI.WithDescription("redirect_uri is not registered for this client")
		}
		return requested, nil
	}
	registered := c.RedirectURIs()
	if len(registered) == 1 {
		return registered[0], nil
	}
	return "", oauth2.MissingParams(url.Values{}, oauth2.ParamRedirectURI)
}

func containsIDToken(normalizedResponseType string) bool {
	return oauth2.ScopeContains(oauth2.ScopeSplit(normalizedResponseType), ResponseTypeIDToken)
}
