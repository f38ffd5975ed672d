// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Granary
// components.
//
// Configuration is loaded from a single file specified by:
//   - GRANARY_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. The config file is
// the single source of truth; the only expansion performed is
// ${VAR} and ${VAR:-default} in paths for portability.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for Granary.
type Config struct {
	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Daemon configures the control socket and metrics endpoint.
	Daemon DaemonConfig `yaml:"daemon"`

	// Workers configures scheduler behavior shared by all runtimes.
	Workers WorkersConfig `yaml:"workers"`

	// Retention configures run log retention.
	Retention RetentionConfig `yaml:"retention"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for Granary data.
	Root string `yaml:"root"`

	// Database is the SQLite database file.
	Database string `yaml:"database"`

	// Logs is the directory holding per-worker run log directories.
	Logs string `yaml:"logs"`

	// Actions is the reusable action definitions file (JSONC).
	// Optional; empty means no named actions are available.
	Actions string `yaml:"actions"`
}

// DaemonConfig configures the daemon's control surface.
type DaemonConfig struct {
	// SocketPath is the Unix socket the daemon listens on.
	SocketPath string `yaml:"socket_path"`

	// MetricsAddr is the address for the Prometheus /metrics endpoint.
	// Empty disables metrics serving.
	MetricsAddr string `yaml:"metrics_addr"`
}

// WorkersConfig configures the per-worker scheduler loops.
type WorkersConfig struct {
	// PollInterval is the scheduler tick period.
	PollInterval time.Duration `yaml:"poll_interval"`

	// StopGrace is how long shutdown waits for active runs before
	// killing them.
	StopGrace time.Duration `yaml:"stop_grace"`

	// RetryBase is the backoff base delay for the first retry.
	RetryBase time.Duration `yaml:"retry_base"`

	// StopTimeout bounds how long a stop request waits for a runtime
	// to exit before forcing the worker status.
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

// RetentionConfig configures run log retention.
type RetentionConfig struct {
	// MaxAge removes log files older than this. Zero disables.
	MaxAge time.Duration `yaml:"max_age"`

	// MaxFiles caps log files per worker, oldest removed first.
	// Zero disables.
	MaxFiles int `yaml:"max_files"`

	// Interval is how often the daemon runs the retention sweep.
	Interval time.Duration `yaml:"interval"`
}

// Default returns the default configuration, used as the base before
// the config file is merged in.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".local", "share", "granary")

	return &Config{
		Paths: PathsConfig{
			Root:     defaultRoot,
			Database: filepath.Join(defaultRoot, "granary.db"),
			Logs:     filepath.Join(defaultRoot, "logs"),
		},
		Daemon: DaemonConfig{
			SocketPath: filepath.Join(defaultRoot, "granary.sock"),
		},
		Workers: WorkersConfig{
			PollInterval: time.Second,
			StopGrace:    10 * time.Second,
			RetryBase:    2 * time.Second,
			StopTimeout:  30 * time.Second,
		},
		Retention: RetentionConfig{
			MaxAge:   7 * 24 * time.Hour,
			MaxFiles: 200,
			Interval: time.Hour,
		},
	}
}

// Load loads configuration from the GRANARY_CONFIG environment
// variable. Fails when the variable is not set; there is no implicit
// fallback path.
func Load() (*Config, error) {
	configPath := os.Getenv("GRANARY_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("GRANARY_CONFIG environment variable not set; " +
			"set it to the path of your granary.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, merging it
// over the defaults and expanding path variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in
// paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"GRANARY_ROOT": c.Paths.Root,
		"HOME":         os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["GRANARY_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.Database = expandVars(c.Paths.Database, vars)
	c.Paths.Logs = expandVars(c.Paths.Logs, vars)
	c.Paths.Actions = expandVars(c.Paths.Actions, vars)
	c.Daemon.SocketPath = expandVars(c.Daemon.SocketPath, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Paths.Database == "" {
		errs = append(errs, fmt.Errorf("paths.database is required"))
	}
	if c.Paths.Logs == "" {
		errs = append(errs, fmt.Errorf("paths.logs is required"))
	}
	if c.Daemon.SocketPath == "" {
		errs = append(errs, fmt.Errorf("daemon.socket_path is required"))
	}
	if c.Workers.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("workers.poll_interval must be positive"))
	}
	if c.Workers.StopGrace <= 0 {
		errs = append(errs, fmt.Errorf("workers.stop_grace must be positive"))
	}
	if c.Workers.RetryBase <= 0 {
		errs = append(errs, fmt.Errorf("workers.retry_base must be positive"))
	}
	if c.Workers.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("workers.stop_timeout must be positive"))
	}
	if c.Retention.MaxAge < 0 {
		errs = append(errs, fmt.Errorf("retention.max_age must not be negative"))
	}
	if c.Retention.MaxFiles < 0 {
		errs = append(errs, fmt.Errorf("retention.max_files must not be negative"))
	}

	return errors.Join(errs...)
}
