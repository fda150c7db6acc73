// Rallypoint - Team Engagement & Events Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rallypoint

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no stray config.yaml from the working tree

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected logging defaults: %+v", cfg.Logging)
	}
	if cfg.Sync.MaxReplayAttempts != 5 {
		t.Errorf("max replay attempts default = %d", cfg.Sync.MaxReplayAttempts)
	}
	if cfg.Server.Port != 8781 {
		t.Errorf("server port default = %d", cfg.Server.Port)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "rallypoint.yaml")
	yaml := `
gateway:
  url: wss://gateway.example.com/sync
sync:
  max_replay_attempts: 9
  remote_timeout: 2s
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.URL != "wss://gateway.example.com/sync" {
		t.Errorf("gateway url = %s", cfg.Gateway.URL)
	}
	if cfg.Sync.MaxReplayAttempts != 9 {
		t.Errorf("max replay attempts = %d", cfg.Sync.MaxReplayAttempts)
	}
	if cfg.Sync.RemoteTimeout != 2*time.Second {
		t.Errorf("remote timeout = %s", cfg.Sync.RemoteTimeout)
	}
	// Untouched sections keep their defaults.
	if cfg.Queue.Path != "/data/rallypoint/queue" {
		t.Errorf("queue path = %s", cfg.Queue.Path)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RALLYPOINT_GATEWAY_URL", "ws://10.0.0.5:8780/gateway")
	t.Setenv("RALLYPOINT_SERVER_PORT", "9000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.URL != "ws://10.0.0.5:8780/gateway" {
		t.Errorf("gateway url = %s", cfg.Gateway.URL)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("server port = %d", cfg.Server.Port)
	}
}

func TestEnvTransform(t *testing.T) {
	cases := []struct{ in, want string }{
		{"RALLYPOINT_GATEWAY_URL", "gateway.url"},
		{"RALLYPOINT_SYNC_MAX_REPLAY_ATTEMPTS", "sync.max_replay_attempts"},
		{"RALLYPOINT_LOGGING_LEVEL", "logging.level"},
		{"RALLYPOINT_UNKNOWN_THING", ""},
		{"RALLYPOINT_GATEWAY", ""},
	}
	for _, tc := range cases {
		if got := envTransform(tc.in); got != tc.want {
			t.Errorf("envTransform(%s) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cfg := defaultConfig()
	cfg.Gateway.URL = ""
	if err := cfg.Validate(); err == nil {
		t.Error("missing gateway url passed validation")
	}

	cfg = defaultConfig()
	cfg.Logging.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown log level passed validation")
	}

	cfg = defaultConfig()
	cfg.Server.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Error("port 0 passed validation")
	}
}
