// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the oauthkitd daemon.
package main

import (
	"os"

	"github.com/oauthkit/oauthkit/cmd/oauthkitd/app"
	"github.com/oauthkit/oauthkit/pkg/logger"
)

func main() {
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}
