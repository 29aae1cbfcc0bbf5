// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/oauthkit/oauthkit/pkg/authorize"
	"github.com/oauthkit/oauthkit/pkg/jose"
	"github.com/oauthkit/oauthkit/pkg/logger"
	"github.com/oauthkit/oauthkit/pkg/server"
	"github.com/oauthkit/oauthkit/pkg/storage"
	"github.com/oauthkit/oauthkit/pkg/user"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the authorization server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger.Initialize()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

// fileConfig is the daemon's on-disk configuration: the server settings
// plus the interaction surfaces the daemon itself does not ship.
type fileConfig struct {
	server.Config `mapstructure:",squash"`

	// LoginURL and ConsentURL are the host-provided interaction pages
	// the authorization endpoint suspends into. The pending request id
	// is appended as a query parameter.
	LoginURL   string `mapstructure:"login_url"`
	ConsentURL string `mapstructure:"consent_url"`
}

func loadConfig() (fileConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("OAUTHKITD")
	v.AutomaticEnv()

	if path := viper.GetString("config"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("oauthkitd")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/oauthkitd")
	}

	cfg := fileConfig{Config: server.DefaultConfig()}
	if err := v.ReadInConfig(); err != nil {
		// Running without a config file is fine for development; the
		// defaults stand.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
	} else {
		logger.Infow("loaded configuration", "file", v.ConfigFileUsed())
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg fileConfig) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := buildBackend(ctx, cfg)
	if err != nil {
		return err
	}

	keys, err := buildKeys(cfg)
	if err != nil {
		return err
	}

	// The daemon keeps accounts in memory regardless of the credential
	// backend; production hosts embed pkg/server with their own
	// user.Repository instead.
	accountStore := storage.NewMemory()
	defer func() { _ = accountStore.Close() }()
	var accounts user.Repository = storage.Accounts(accountStore)

	opts := []server.Option{}
	if cfg.LoginURL != "" && cfg.ConsentURL != "" {
		opts = append(opts, server.WithInteractionHandlers(
			redirectingHandler(cfg.LoginURL),
			redirectingHandler(cfg.ConsentURL),
			redirectingHandler(cfg.LoginURL),
		))
	}

	srv, err := server.New(cfg.Config, backend, accounts, keys, logger.Get(), opts...)
	if err != nil {
		return err
	}

	return srv.Start(ctx)
}

func buildBackend(ctx context.Context, cfg fileConfig) (storage.Backend, error) {
	if cfg.Redis.Addr == "" {
		logger.Info("using in-memory storage")
		return storage.NewMemory(), nil
	}

	logger.Infow("using redis storage", "addr", cfg.Redis.Addr)
	return storage.NewRedis(ctx, storage.RedisConfig{
		Addr:      cfg.Redis.Addr,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		KeyPrefix: cfg.Redis.KeyPrefix,
	})
}

func buildKeys(cfg fileConfig) (jose.KeyProvider, error) {
	if cfg.KeysDir == "" {
		logger.Warn("no keys_dir configured; generating an ephemeral signing key")
		provider, err := jose.NewEphemeralProvider()
		if err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
		return provider, nil
	}
	provider, err := jose.NewFileProvider(cfg.KeysDir, cfg.SigningKeyFile)
	if err != nil {
		return nil, fmt.Errorf("load signing keys: %w", err)
	}
	return provider, nil
}

// redirectingHandler sends the end user to an interaction page with the
// pending request id attached.
func redirectingHandler(base string) authorize.InteractionHandler {
	return func(w http.ResponseWriter, r *http.Request, requestID string) {
		target, err := url.Parse(base)
		if err != nil {
			http.Error(w, "misconfigured interaction page", http.StatusInternalServerError)
			return
		}
		q := target.Query()
		q.Set(authorize.ParamRequestID, requestID)
		target.RawQuery = q.Encode()
		http.Redirect(w, r, target.String(), http.StatusSeeOther)
	}
}
