// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	coreconfig "github.com/loomhq/loom/internal/config"
	"github.com/loomhq/loom/internal/events"
	"github.com/loomhq/loom/internal/logging"
	"github.com/loomhq/loom/internal/loomrunner/config"
	"github.com/loomhq/loom/internal/loomrunner/handlers"
	"github.com/loomhq/loom/internal/metrics"
	"github.com/loomhq/loom/internal/runner"
	"github.com/loomhq/loom/internal/server"
	"github.com/loomhq/loom/internal/storage"
)

func main() {
	var configPath string
	flags := pflag.NewFlagSet("loom-runner", pflag.ExitOnError)
	flags.StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	flags.Int("port", 0, "HTTP listen port")
	_ = flags.Parse(os.Args[1:])

	bootLogger := logging.Bootstrap("loom-runner")

	loader := coreconfig.NewLoader(config.EnvPrefix)
	if err := loader.LoadWithDefaults(config.Defaults(), configPath); err != nil {
		bootLogger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := loader.LoadEnvAliases(config.EnvAliases); err != nil {
		bootLogger.Error("Failed to apply environment overrides", "error", err)
		os.Exit(1)
	}
	if err := loader.LoadFlags(flags, map[string]string{"port": "server.port"}); err != nil {
		bootLogger.Error("Failed to apply flag overrides", "error", err)
		os.Exit(1)
	}

	var cfg config.Config
	if err := loader.UnmarshalAndValidate("", &cfg); err != nil {
		bootLogger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)

	store, err := storage.Open(cfg.Database.Path, logger)
	if err != nil {
		logger.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}

	m := metrics.New()
	emitter := events.NewEmitter(logger,
		events.NewLogSink(logger),
		events.NewMetricsSink(m),
		storage.NewTelemetrySink(store),
	)
	defer emitter.Close()

	adapter := runner.NewLocal(store, emitter, m, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	handler := handlers.New(adapter, logger)
	srv := server.New(server.Config{
		Addr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
	}, handler.Routes(), logger)

	if err := srv.Run(ctx); err != nil {
		logger.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("loom-runner stopped")
}
