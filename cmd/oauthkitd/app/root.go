// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package app provides the command-line surface of the oauthkitd
// daemon.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:               "oauthkitd",
	DisableAutoGenTag: true,
	Short:             "Run an OAuth 2.0 / OpenID Connect authorization server",
	Long: `oauthkitd runs a standalone authorization server built on the oauthkit
framework: authorization and token endpoints, dynamic client registration,
token introspection and revocation, discovery metadata, and JWKS
publication, backed by in-memory or Redis storage.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

// NewRootCmd creates the root command for the oauthkitd daemon.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("config", "", "Path to the configuration file")
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.AddCommand(serveCmd)

	return rootCmd
}
