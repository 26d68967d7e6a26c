// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package config declares the control-plane configuration.
package config

import (
	"fmt"

	coreconfig "github.com/loomhq/loom/internal/config"
	"github.com/loomhq/loom/internal/logging"
	"github.com/loomhq/loom/internal/server/middleware/auth"
)

// EnvPrefix is the nested environment variable prefix
// (LOOM_API__SERVER__PORT -> server.port).
const EnvPrefix = "LOOM_API"

// EnvAliases maps the flat well-known environment variables onto config
// keys.
var EnvAliases = map[string]string{
	"PORT":              "server.port",
	"RUNNER_ADAPTER":    "runner.adapter",
	"RUNNER_URL":        "runner.url",
	"RUNNER_TIMEOUT_MS": "runner.timeout_ms",
	"LOG_LEVEL":         "logging.level",
	"DATABASE_PATH":     "database.path",
}

// Config is the top-level control-plane configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    logging.Config   `koanf:"logging"`
	Database   DatabaseConfig   `koanf:"database"`
	Runner     RunnerConfig     `koanf:"runner"`
	Dispatcher DispatcherConfig `koanf:"dispatcher"`
	Auth       auth.Config      `koanf:"auth"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// DatabaseConfig holds the SQLite location.
type DatabaseConfig struct {
	Path string `koanf:"path"`
}

// RunnerConfig selects and parameterizes the runner adapter.
type RunnerConfig struct {
	Adapter   string `koanf:"adapter"`
	URL       string `koanf:"url"`
	TimeoutMS int    `koanf:"timeout_ms"`
}

// DispatcherConfig tunes the intent dispatcher worker.
type DispatcherConfig struct {
	IntervalSeconds int  `koanf:"interval_seconds"`
	Enabled         bool `koanf:"enabled"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server:  ServerConfig{Host: "0.0.0.0", Port: 5000},
		Logging: logging.Config{Level: "info", Format: "json"},
		Database: DatabaseConfig{
			Path: "loom.db",
		},
		Runner: RunnerConfig{
			Adapter:   "local",
			URL:       "http://localhost:4001",
			TimeoutMS: 30000,
		},
		Dispatcher: DispatcherConfig{IntervalSeconds: 5, Enabled: true},
		Auth:       auth.Config{AllowHeaderFallback: true},
	}
}

var _ coreconfig.Validator = (*Config)(nil)

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	switch c.Runner.Adapter {
	case "local", "remote":
	default:
		return fmt.Errorf("runner.adapter must be local or remote, got %q", c.Runner.Adapter)
	}
	if c.Runner.Adapter == "remote" && c.Runner.URL == "" {
		return fmt.Errorf("runner.url is required for the remote adapter")
	}
	if c.Runner.TimeoutMS <= 0 {
		return fmt.Errorf("runner.timeout_ms must be positive")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}
