// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package config declares the runner service configuration.
package config

import (
	"fmt"

	coreconfig "github.com/loomhq/loom/internal/config"
	"github.com/loomhq/loom/internal/logging"
)

// EnvPrefix is the nested environment variable prefix for the runner.
const EnvPrefix = "LOOM_RUNNER"

// EnvAliases maps the flat well-known environment variables onto config
// keys.
var EnvAliases = map[string]string{
	"RUNNER_PORT":   "server.port",
	"LOG_LEVEL":     "logging.level",
	"DATABASE_PATH": "database.path",
}

// Config is the runner service configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Logging  logging.Config `koanf:"logging"`
	Database DatabaseConfig `koanf:"database"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// DatabaseConfig holds the SQLite location the runner records workspace and
// agent-run state in.
type DatabaseConfig struct {
	Path string `koanf:"path"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server:   ServerConfig{Host: "0.0.0.0", Port: 4001},
		Logging:  logging.Config{Level: "info", Format: "json"},
		Database: DatabaseConfig{Path: "loom-runner.db"},
	}
}

var _ coreconfig.Validator = (*Config)(nil)

// Validate checks the listener settings.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}
