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
	"github.com/loomhq/loom/internal/logging"
	"github.com/loomhq/loom/internal/loomapi/config"
	"github.com/loomhq/loom/internal/loomapi/handlers"
	"github.com/loomhq/loom/internal/loomapi/services"
	"github.com/loomhq/loom/internal/server"
	"github.com/loomhq/loom/internal/storage"
)

type cliOptions struct {
	configPath string
	dumpConfig bool
}

func setupFlags() (*pflag.FlagSet, *cliOptions) {
	cli := &cliOptions{}
	flags := pflag.NewFlagSet("loom-api", pflag.ExitOnError)
	flags.StringVarP(&cli.configPath, "config", "c", "", "path to a YAML config file")
	flags.BoolVar(&cli.dumpConfig, "dump-config", false, "print the merged configuration and exit")
	flags.Int("port", 0, "HTTP listen port")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("database", "", "path to the SQLite database")
	return flags, cli
}

func main() {
	flags, cli := setupFlags()
	_ = flags.Parse(os.Args[1:]) // ExitOnError mode handles parse errors

	bootLogger := logging.Bootstrap("loom-api")

	loader := coreconfig.NewLoader(config.EnvPrefix)
	if err := loader.LoadWithDefaults(config.Defaults(), cli.configPath); err != nil {
		bootLogger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := loader.LoadEnvAliases(config.EnvAliases); err != nil {
		bootLogger.Error("Failed to apply environment overrides", "error", err)
		os.Exit(1)
	}
	if err := loader.LoadFlags(flags, map[string]string{
		"port":      "server.port",
		"log-level": "logging.level",
		"database":  "database.path",
	}); err != nil {
		bootLogger.Error("Failed to apply flag overrides", "error", err)
		os.Exit(1)
	}

	if cli.dumpConfig {
		if err := loader.DumpYAML(os.Stdout); err != nil {
			bootLogger.Error("Failed to dump configuration", "error", err)
			os.Exit(1)
		}
		os.Exit(0)
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

	svcs, err := services.New(&cfg, store, logger)
	if err != nil {
		logger.Error("Failed to build services", "error", err)
		os.Exit(1)
	}
	defer svcs.Close()

	// SIGTERM and SIGINT drain in-flight requests, then exit 0.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if cfg.Dispatcher.Enabled {
		go svcs.Dispatcher.Run(ctx)
	}

	handler := handlers.New(svcs, &cfg, logger)
	srv := server.New(server.Config{
		Addr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
	}, handler.Routes(), logger)

	if err := srv.Run(ctx); err != nil {
		logger.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("loom-api stopped")
}
