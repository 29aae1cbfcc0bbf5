// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package server assembles the framework into a runnable authorization
// server: it populates the auth-method, grant-type, response-type, and
// response-mode registries, wires the storage backend through every
// repository contract, and serves the endpoint layer over chi.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/oauthkit/oauthkit/pkg/authorize"
	"github.com/oauthkit/oauthkit/pkg/client"
	"github.com/oauthkit/oauthkit/pkg/client/rules"
	"github.com/oauthkit/oauthkit/pkg/clientauth"
	"github.com/oauthkit/oauthkit/pkg/grant"
	"github.com/oauthkit/oauthkit/pkg/jose"
	"github.com/oauthkit/oauthkit/pkg/server/handlers"
	"github.com/oauthkit/oauthkit/pkg/storage"
	"github.com/oauthkit/oauthkit/pkg/tokenendpoint"
	"github.com/oauthkit/oauthkit/pkg/user"
)

const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 120 * time.Second
)

// Server is a fully assembled authorization server.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	backend storage.Backend

	clients    *client.Service
	driver     *authorize.Driver
	dispatcher *tokenendpoint.Dispatcher
	endpoints  *handlers.Handlers

	httpServer *http.Server
}

// Option configures the assembly.
type Option func(*assembly)

// assembly collects the optional collaborators before construction.
type assembly struct {
	session       authorize.SessionAuthenticator
	login         authorize.InteractionHandler
	consent       authorize.InteractionHandler
	selectAccount authorize.InteractionHandler
	gate          client.InitialAccessTokenValidator
	extraRoutes   func(chi.Router)
}

// WithSessionAuthenticator sets how the authorization endpoint discovers
// the end user's session. Without one, every request suspends into the
// login interaction.
func WithSessionAuthenticator(s authorize.SessionAuthenticator) Option {
	return func(a *assembly) { a.session = s }
}

// WithInteractionHandlers sets the surfaces the authorization endpoint
// suspends into for login, consent, and account selection.
func WithInteractionHandlers(login, consent, selectAccount authorize.InteractionHandler) Option {
	return func(a *assembly) {
		a.login = login
		a.consent = consent
		a.selectAccount = selectAccount
	}
}

// WithInitialAccessTokenGate requires an initial access token for
// dynamic client registration.
func WithInitialAccessTokenGate(v client.InitialAccessTokenValidator) Option {
	return func(a *assembly) { a.gate = v }
}

// WithExtraRoutes mounts additional routes, such as the host
// application's login and consent pages, on the server's router.
func WithExtraRoutes(mount func(chi.Router)) Option {
	return func(a *assembly) { a.extraRoutes = mount }
}

// New assembles the server. accounts is the host's account store; keys
// signs ID tokens and feeds the JWKS endpoint.
func New(cfg Config, backend storage.Backend, accounts user.Repository, keys jose.KeyProvider,
	logger *slog.Logger, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	var a assembly
	for _, opt := range opts {
		opt(&a)
	}

	clientRepo := storage.Clients(backend)
	accessTokens := storage.AccessTokens(backend)
	authCodes := storage.AuthorizationCodes(backend)
	refreshTokens := storage.RefreshTokens(backend)
	requests := storage.Requests(backend)

	signer := jose.NewSigner(cfg.Issuer, keys, cfg.IDTokenLifespan)
	assertionKeys := jose.NewKeyResolver()
	tokenEndpoint := cfg.Issuer + "/oauth/token"

	auth := clientauth.NewManager(clientRepo, logger)
	auth.Add(clientauth.ClientSecretBasic{})
	auth.Add(clientauth.ClientSecretPost{})
	auth.Add(clientauth.NewPrivateKeyJWT(assertionKeys, backend, tokenEndpoint))
	auth.Add(clientauth.NewClientSecretJWT(assertionKeys, backend, tokenEndpoint))
	auth.Add(clientauth.None{})

	grants := grant.NewManager()
	grants.Add(grant.NewAuthorizationCode(authCodes))
	grants.Add(grant.NewRefreshToken(refreshTokens))
	grants.Add(grant.NewClientCredentials())
	grants.Add(grant.NewPassword(accounts))
	grants.Add(grant.NewJWTBearer(accounts, assertionKeys, tokenEndpoint))
	grants.Add(grant.NewImplicit())

	code := authorize.NewCodeType(authCodes, cfg.AuthorizationCodeLifespan)
	accessToken := authorize.NewTokenType(accessTokens, cfg.AccessTokenLifespan)
	idToken := authorize.NewIDTokenType(signer)

	responseTypes := authorize.NewTypeManager()
	responseTypes.Add(code)
	responseTypes.Add(accessToken)
	responseTypes.Add(idToken)
	responseTypes.Add(authorize.NewNoneType())
	responseTypes.Add(authorize.NewComposite(code, idToken))
	responseTypes.Add(authorize.NewComposite(code, accessToken))
	responseTypes.Add(authorize.NewComposite(accessToken, idToken))
	responseTypes.Add(authorize.NewComposite(code, accessToken, idToken))

	responseModes := authorize.NewModeManager()
	responseModes.Add(authorize.QueryMode{})
	responseModes.Add(authorize.FragmentMode{})
	responseModes.Add(authorize.FormPostMode{})

	// RequestURIsRule reads the validated response_types, so it must
	// come after ResponseTypesRule.
	chain := rules.NewChain(
		rules.TokenEndpointAuthMethodRule{},
		rules.RedirectURIsRule{},
		rules.GrantTypesRule{Allowed: grants.Names()},
		rules.ResponseTypesRule{Allowed: responseTypes.Names()},
		rules.RequestURIsRule{},
		rules.ScopeRule{},
		rules.ClientNameRule{},
		rules.IssuedAtRule{},
	)

	serviceOpts := []client.ServiceOption{
		client.WithTokenRevoker(backend),
	}
	if cfg.ClientSecretLifespan > 0 {
		serviceOpts = append(serviceOpts, client.WithSecretLifetime(cfg.ClientSecretLifespan))
	}
	if a.gate != nil {
		serviceOpts = append(serviceOpts, client.WithInitialAccessTokenValidator(a.gate))
	}
	clients := client.NewService(clientRepo, chain, logger, serviceOpts...)

	// Interaction hooks run in prompt order: none, select_account,
	// login, consent. Hooks without a configured surface are left out;
	// NonePrompt alone still enforces the prompt=none failures.
	hooks := []authorize.Hook{authorize.NewNonePrompt()}
	if a.selectAccount != nil {
		hooks = append(hooks, authorize.NewSelectAccountPrompt(a.selectAccount))
	}
	if a.login != nil {
		hooks = append(hooks, authorize.NewLoginPrompt(a.login))
	}
	if a.consent != nil {
		hooks = append(hooks, authorize.NewConsentPrompt(a.consent))
	}

	driverOpts := []authorize.DriverOption{
		authorize.WithLogger(logger),
		authorize.WithHooks(hooks...),
	}
	if a.session != nil {
		driverOpts = append(driverOpts, authorize.WithSessionAuthenticator(a.session))
	}
	driver := authorize.NewDriver(clientRepo, accounts, requests, responseTypes, responseModes, driverOpts...)

	dispatcher := tokenendpoint.NewDispatcher(auth, grants, accessTokens, cfg.AccessTokenLifespan,
		tokenendpoint.WithRefreshTokens(refreshTokens, cfg.RefreshTokenLifespan),
		tokenendpoint.WithExtensions(tokenendpoint.NewIDTokenExtension(signer)),
		tokenendpoint.WithLogger(logger),
	)

	endpoints := handlers.New(logger, cfg.Issuer, handlers.Deps{
		Driver:        driver,
		Dispatcher:    dispatcher,
		Clients:       clients,
		ClientAuth:    auth,
		AccessTokens:  accessTokens,
		RefreshTokens: refreshTokens,
		Keys:          keys,
		Grants:        grants,
		ResponseTypes: responseTypes,
		ResponseModes: responseModes,
	}, handlers.WithScopesSupported(cfg.ScopesSupported))

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		backend:    backend,
		clients:    clients,
		driver:     driver,
		dispatcher: dispatcher,
		endpoints:  endpoints,
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	endpoints.Routes(router)
	router.Get("/health", s.healthHandler)
	if a.extraRoutes != nil {
		a.extraRoutes(router)
	}

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	return s, nil
}

// Clients exposes the client lifecycle service, for host applications
// that pre-register clients at startup.
func (s *Server) Clients() *client.Service {
	return s.clients
}

// Handler returns the assembled HTTP handler, for hosts that embed the
// server into their own listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the HTTP server until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("authorization server listening",
			"addr", s.cfg.ListenAddr,
			"issuer", s.cfg.Issuer,
		)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return s.backend.Close()
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.Health(r.Context()); err != nil {
		s.logger.Error("storage health check failed", "error", err)
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
