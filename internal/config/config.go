// Rallypoint - Team Engagement & Events Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rallypoint

// Package config loads and validates the sync server configuration
// from layered sources: built-in defaults, an optional YAML file, and
// environment variables, in ascending precedence.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the full server configuration.
type Config struct {
	Logging LoggingConfig `koanf:"logging"`
	Gateway GatewayConfig `koanf:"gateway"`
	Queue   QueueConfig   `koanf:"queue"`
	Sync    SyncConfig    `koanf:"sync"`
	Server  ServerConfig  `koanf:"server"`
}

// LoggingConfig controls the zerolog output.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// GatewayConfig points at the platform's document gateway.
type GatewayConfig struct {
	URL              string        `koanf:"url" validate:"required,url"`
	HandshakeTimeout time.Duration `koanf:"handshake_timeout" validate:"gt=0"`
	RequestTimeout   time.Duration `koanf:"request_timeout" validate:"gt=0"`
	PingInterval     time.Duration `koanf:"ping_interval" validate:"gt=0"`
	ReconnectMin     time.Duration `koanf:"reconnect_min" validate:"gt=0"`
	ReconnectMax     time.Duration `koanf:"reconnect_max" validate:"gtefield=ReconnectMin"`
}

// QueueConfig controls the durable pending-operation store.
type QueueConfig struct {
	// Path is the badger directory for queued operations. Empty
	// disables durability: the queue is memory-only.
	Path       string `koanf:"path"`
	SyncWrites bool   `koanf:"sync_writes"`
}

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	RemoteTimeout     time.Duration `koanf:"remote_timeout" validate:"gt=0"`
	MaxReplayAttempts int           `koanf:"max_replay_attempts" validate:"min=1"`
	ReplayPerSecond   float64       `koanf:"replay_per_second" validate:"gt=0"`
	ReplayBurst       int           `koanf:"replay_burst" validate:"min=1"`
}

// ServerConfig configures the status/metrics HTTP server.
type ServerConfig struct {
	Host    string        `koanf:"host" validate:"required"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

// defaultConfig returns the built-in defaults, overridden by the config
// file and environment.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Gateway: GatewayConfig{
			URL:              "ws://127.0.0.1:8780/gateway",
			HandshakeTimeout: 10 * time.Second,
			RequestTimeout:   5 * time.Second,
			PingInterval:     30 * time.Second,
			ReconnectMin:     time.Second,
			ReconnectMax:     32 * time.Second,
		},
		Queue: QueueConfig{
			Path:       "/data/rallypoint/queue",
			SyncWrites: true,
		},
		Sync: SyncConfig{
			RemoteTimeout:     5 * time.Second,
			MaxReplayAttempts: 5,
			ReplayPerSecond:   20,
			ReplayBurst:       5,
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8781,
			Timeout: 30 * time.Second,
		},
	}
}

var validate = validator.New()

// Validate checks the configuration for structural errors.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
