// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"fmt"
	"net/url"
	"time"
)

// Default lifespans, matching common authorization-server practice:
// short codes, hour-scale access tokens, day-scale refresh tokens.
const (
	DefaultAccessTokenLifespan       = time.Hour
	DefaultRefreshTokenLifespan      = 30 * 24 * time.Hour
	DefaultAuthorizationCodeLifespan = 10 * time.Minute
	DefaultIDTokenLifespan           = time.Hour
)

// Config carries the deployment settings of the assembled server.
type Config struct {
	// Issuer is the external base URL of the server, without a
	// trailing slash. It appears as iss in issued tokens and anchors
	// all endpoint URLs in discovery metadata.
	Issuer string `mapstructure:"issuer"`

	// ListenAddr is the host:port the HTTP server binds.
	ListenAddr string `mapstructure:"listen_addr"`

	AccessTokenLifespan       time.Duration `mapstructure:"access_token_lifespan"`
	RefreshTokenLifespan      time.Duration `mapstructure:"refresh_token_lifespan"`
	AuthorizationCodeLifespan time.Duration `mapstructure:"authorization_code_lifespan"`
	IDTokenLifespan           time.Duration `mapstructure:"id_token_lifespan"`

	// ClientSecretLifespan bounds provisioned client secrets; zero
	// means secrets never expire.
	ClientSecretLifespan time.Duration `mapstructure:"client_secret_lifespan"`

	// ScopesSupported is the scope list advertised in discovery
	// metadata.
	ScopesSupported []string `mapstructure:"scopes_supported"`

	// KeysDir holds PEM signing keys; empty means an ephemeral dev key
	// is generated at startup.
	KeysDir string `mapstructure:"keys_dir"`

	// SigningKeyFile names the active signing key inside KeysDir.
	SigningKeyFile string `mapstructure:"signing_key_file"`

	// Redis connects the shared-state backend; empty Addr selects the
	// in-memory backend.
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig mirrors storage.RedisConfig in the configuration file.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// DefaultConfig returns a development configuration listening on
// localhost with an ephemeral signing key and in-memory storage.
func DefaultConfig() Config {
	return Config{
		Issuer:                    "http://localhost:8080",
		ListenAddr:                "127.0.0.1:8080",
		AccessTokenLifespan:       DefaultAccessTokenLifespan,
		RefreshTokenLifespan:      DefaultRefreshTokenLifespan,
		AuthorizationCodeLifespan: DefaultAuthorizationCodeLifespan,
		IDTokenLifespan:           DefaultIDTokenLifespan,
		ScopesSupported:           []string{"openid", "profile", "email", "offline_access"},
	}
}

// Validate checks the configuration for inconsistencies before the
// server assembles.
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("issuer must be set")
	}
	u, err := url.Parse(c.Issuer)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("issuer %q is not an absolute URL", c.Issuer)
	}
	if u.Fragment != "" || u.RawQuery != "" {
		return fmt.Errorf("issuer must not carry a query or fragment")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must be set")
	}
	if c.AccessTokenLifespan <= 0 {
		return fmt.Errorf("access_token_lifespan must be positive")
	}
	if c.AuthorizationCodeLifespan <= 0 {
		return fmt.Errorf("authorization_code_lifespan must be positive")
	}
	if c.RefreshTokenLifespan <= 0 {
		return fmt.Errorf("refresh_token_lifespan must be positive")
	}
	if c.IDTokenLifespan <= 0 {
		return fmt.Errorf("id_token_lifespan must be positive")
	}
	if c.KeysDir == "" && c.SigningKeyFile != "" {
		return fmt.Errorf("signing_key_file requires keys_dir")
	}
	return nil
}
