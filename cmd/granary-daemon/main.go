// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/granary-project/granary/lib/actions"
	"github.com/granary-project/granary/lib/config"
	"github.com/granary-project/granary/lib/process"
	"github.com/granary-project/granary/lib/store"
	"github.com/granary-project/granary/lib/version"
	"github.com/granary-project/granary/lib/worker"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "path to granary.yaml (defaults to $GRANARY_CONFIG)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("granary-daemon %s\n", version.Info())
		return nil
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	for _, dir := range []string{cfg.Paths.Root, cfg.Paths.Logs, filepath.Dir(cfg.Paths.Database)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(store.Config{
		Path:   cfg.Paths.Database,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	actionSet, err := actions.Load(cfg.Paths.Actions)
	if err != nil {
		return fmt.Errorf("loading actions: %w", err)
	}
	if actionSet.Len() > 0 {
		logger.Info("loaded action definitions", "count", actionSet.Len(), "path", cfg.Paths.Actions)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := worker.NewMetrics(registry)

	manager, err := worker.NewManager(worker.ManagerConfig{
		Store:        st,
		Actions:      actionSet,
		LogRoot:      cfg.Paths.Logs,
		Logger:       logger,
		Metrics:      metrics,
		PollInterval: cfg.Workers.PollInterval,
		StopGrace:    cfg.Workers.StopGrace,
		RetryBase:    cfg.Workers.RetryBase,
		StopTimeout:  cfg.Workers.StopTimeout,
		LogMaxAge:    cfg.Retention.MaxAge,
		LogMaxFiles:  cfg.Retention.MaxFiles,
	})
	if err != nil {
		return fmt.Errorf("building worker manager: %w", err)
	}

	if _, _, err := manager.Restore(ctx); err != nil {
		return fmt.Errorf("restoring workers: %w", err)
	}

	listener, err := listenSocket(cfg.Daemon.SocketPath)
	if err != nil {
		return fmt.Errorf("listening on control socket: %w", err)
	}
	defer os.Remove(cfg.Daemon.SocketPath)
	logger.Info("control socket ready", "path", cfg.Daemon.SocketPath)

	if cfg.Daemon.MetricsAddr != "" {
		go serveMetrics(cfg.Daemon.MetricsAddr, registry, logger)
	}

	srv := &server{store: st, manager: manager, logger: logger}
	go srv.serve(ctx, listener)
	go retentionLoop(ctx, manager, cfg.Retention.Interval, logger)

	<-ctx.Done()
	logger.Info("shutting down")
	listener.Close()
	manager.StopAll(context.Background())
	return nil
}

// listenSocket creates a unix socket listener, removing any stale
// socket file from a previous run.
func listenSocket(socketPath string) (net.Listener, error) {
	socketDir := filepath.Dir(socketPath)
	if err := os.MkdirAll(socketDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating socket directory %s: %w", socketDir, err)
	}

	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale socket %s: %w", socketPath, err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}

	if err := os.Chmod(socketPath, 0o660); err != nil {
		listener.Close()
		return nil, fmt.Errorf("setting socket permissions: %w", err)
	}
	return listener, nil
}

// serveMetrics exposes the Prometheus registry over HTTP.
func serveMetrics(addr string, registry *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	logger.Info("metrics endpoint ready", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server failed", "error", err)
	}
}

// retentionLoop periodically enforces log retention across workers.
func retentionLoop(ctx context.Context, manager *worker.Manager, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := manager.EnforceRetention(ctx); err != nil {
				logger.Warn("log retention sweep failed", "error", err)
			}
		}
	}
}
