// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/oauthkit/oauthkit/pkg/oauth2"
	"github.com/oauthkit/oauthkit/pkg/pkce"
)

// discoveryDocument is the provider metadata served at the well-known
// endpoints, per RFC 8414 and OIDC Discovery 1.0 Section 3.
type discoveryDocument struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	ResponseModesSupported            []string `json:"response_modes_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
}

// Discovery serves the provider metadata. The supported values are read
// from the live registries, so the document always reflects what the
// deployment actually wired in.
func (h *Handlers) Discovery(w http.ResponseWriter, r *http.Request) {
	doc := discoveryDocument{
		Issuer:                 h.issuer,
		AuthorizationEndpoint:  h.issuer + "/oauth/authorize",
		TokenEndpoint:          h.issuer + "/oauth/token",
		RegistrationEndpoint:   h.issuer + "/oauth/register",
		IntrospectionEndpoint:  h.issuer + "/oauth/introspect",
		RevocationEndpoint:     h.issuer + "/oauth/revoke",
		JWKSURI:                h.issuer + "/.well-known/jwks.json",
		ResponseTypesSupported: h.deps.ResponseTypes.Names(),
		ResponseModesSupported: h.deps.ResponseModes.Names(),
		GrantTypesSupported:    h.deps.Grants.Names(),
		SubjectTypesSupported:  []string{"public"},
		CodeChallengeMethodsSupported: []string{
			pkce.MethodPlain,
			pkce.MethodS256,
		},
		ScopesSupported: h.scopes,
	}

	for _, method := range h.deps.ClientAuth.All() {
		doc.TokenEndpointAuthMethodsSupported = append(doc.TokenEndpointAuthMethodsSupported, method.Name())
	}

	if key, err := h.deps.Keys.SigningKey(r.Context()); err == nil {
		doc.IDTokenSigningAlgValuesSupported = []string{string(key.Algorithm)}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		h.logger.Error("encode discovery document", "error", err)
	}
}

// JWKS publishes the public signing keys.
func (h *Handlers) JWKS(w http.ResponseWriter, r *http.Request) {
	keySet, err := h.deps.Keys.PublicKeys(r.Context())
	if err != nil {
		h.logger.Error("load public keys", "error", err)
		oauth2.WriteJSON(w, oauth2.ErrServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(keySet); err != nil {
		h.logger.Error("encode jwks", "error", err)
	}
}
