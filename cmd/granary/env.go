// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/granary-project/granary/lib/config"
	"github.com/granary-project/granary/lib/ipc"
	"github.com/granary-project/granary/lib/store"
)

// loadConfig resolves the CLI's configuration. GRANARY_CONFIG wins
// when set; otherwise the built-in defaults apply, which keeps the
// local-first workflow (granary project create, granary task list)
// working without any setup.
func loadConfig() (*config.Config, error) {
	if os.Getenv("GRANARY_CONFIG") != "" {
		return config.Load()
	}
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore opens the shared SQLite store for direct access. The
// store uses WAL mode, so the CLI can read and write tracker records
// while the daemon holds its own connections.
func openStore() (*store.Store, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Paths.Database), 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating database directory: %w", err)
	}
	st, err := store.Open(store.Config{Path: cfg.Paths.Database})
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}
	return st, cfg, nil
}

// daemonClient returns a client for the daemon's control socket.
func daemonClient() (*ipc.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &ipc.Client{SocketPath: cfg.Daemon.SocketPath}, nil
}
