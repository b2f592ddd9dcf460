// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package config loads the signing coordinator's configuration from a YAML
// file, environment variable substitution, and explicit env overrides, in
// that precedence order.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the coordinator's top-level configuration.
type Config struct {
	Environment string          `yaml:"environment" json:"environment"`
	Session     SessionConfig   `yaml:"session" json:"session"`
	Server      ServerConfig    `yaml:"server" json:"server"`
	Ledger      LedgerConfig    `yaml:"ledger" json:"ledger"`
	Storage     StorageConfig   `yaml:"storage" json:"storage"`
	RateLimit   RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Logging     *LoggingConfig  `yaml:"logging" json:"logging"`
	Metrics     *MetricsConfig  `yaml:"metrics" json:"metrics"`
	Health      *HealthConfig   `yaml:"health" json:"health"`
}

// SessionConfig carries the per-session defaults a new session is created
// with, overridable per CreateSession call.
type SessionConfig struct {
	Threshold            int           `yaml:"threshold" json:"threshold"`
	EligibleKeys         []string      `yaml:"eligible_keys" json:"eligible_keys"`
	ExpectedParticipants int           `yaml:"expected_participants" json:"expected_participants"`
	AuthToken            string        `yaml:"auth_token,omitempty" json:"auth_token,omitempty"` // empty means auto-generate
	SessionTimeout       time.Duration `yaml:"session_timeout" json:"session_timeout"`
	ExecutionWindow      time.Duration `yaml:"execution_window" json:"execution_window"`
	CleanupInterval      time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

// ServerConfig configures the WebSocket listener.
type ServerConfig struct {
	BindHost          string        `yaml:"bind_host" json:"bind_host"`
	BindPort          int           `yaml:"bind_port" json:"bind_port"`
	TLSCertFile       string        `yaml:"tls_cert_file,omitempty" json:"tls_cert_file,omitempty"`
	TLSKeyFile        string        `yaml:"tls_key_file,omitempty" json:"tls_key_file,omitempty"`
	TunnelProvider    string        `yaml:"tunnel_provider,omitempty" json:"tunnel_provider,omitempty"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout" json:"heartbeat_timeout"`
	MaxOutboundQueue  int           `yaml:"max_outbound_queue" json:"max_outbound_queue"`
}

// LedgerConfig points at the external ledger the coordinator submits
// completed signature sets to.
type LedgerConfig struct {
	Endpoint string        `yaml:"endpoint" json:"endpoint"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// StorageConfig selects and configures the persistent session backend.
type StorageConfig struct {
	Type        string `yaml:"type" json:"type"` // memory, postgres
	DatabaseURL string `yaml:"database_url,omitempty" json:"database_url,omitempty"`
	// EncryptionKey, when set, seals persisted auth tokens with an
	// HKDF-derived ChaCha20-Poly1305 key instead of storing them in the
	// clear (DESIGN.md's at-rest envelope-encryption decision).
	EncryptionKey string `yaml:"encryption_key,omitempty" json:"-"`
}

// RateLimitConfig configures the AUTH brute-force defense.
type RateLimitConfig struct {
	Window        time.Duration `yaml:"window" json:"window"`
	MaxAttempts   int           `yaml:"max_attempts" json:"max_attempts"`
	BlockDuration time.Duration `yaml:"block_duration" json:"block_duration"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// MetricsConfig represents metrics configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// HealthConfig represents health check configuration.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// LoadFromFile loads configuration from a YAML (or JSON) file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, fmt.Errorf("failed to parse config file (tried YAML and JSON): %w", err)
		}
	}

	setDefaults(cfg)
	return cfg, nil
}

// SaveToFile saves configuration to a file, format chosen by extension.
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error

	if len(path) > 5 && path[len(path)-5:] == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// setDefaults fills in defaults for fields a config file left zero.
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.Session.SessionTimeout == 0 {
		cfg.Session.SessionTimeout = 30 * time.Minute
	}
	if cfg.Session.ExecutionWindow == 0 {
		cfg.Session.ExecutionWindow = 120 * time.Second
	}
	if cfg.Session.CleanupInterval == 0 {
		cfg.Session.CleanupInterval = 60 * time.Second
	}

	if cfg.Server.BindHost == "" {
		cfg.Server.BindHost = "0.0.0.0"
	}
	if cfg.Server.BindPort == 0 {
		cfg.Server.BindPort = 8443
	}
	if cfg.Server.HeartbeatInterval == 0 {
		cfg.Server.HeartbeatInterval = 30 * time.Second
	}
	if cfg.Server.HeartbeatTimeout == 0 {
		cfg.Server.HeartbeatTimeout = 90 * time.Second
	}
	if cfg.Server.MaxOutboundQueue == 0 {
		cfg.Server.MaxOutboundQueue = 64
	}

	if cfg.Ledger.Timeout == 0 {
		cfg.Ledger.Timeout = 30 * time.Second
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "memory"
	}

	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = 60 * time.Second
	}
	if cfg.RateLimit.MaxAttempts == 0 {
		cfg.RateLimit.MaxAttempts = 5
	}
	if cfg.RateLimit.BlockDuration == 0 {
		cfg.RateLimit.BlockDuration = 5 * time.Minute
	}

	if cfg.Logging != nil {
		if cfg.Logging.Level == "" {
			cfg.Logging.Level = "info"
		}
		if cfg.Logging.Format == "" {
			cfg.Logging.Format = "json"
		}
		if cfg.Logging.Output == "" {
			cfg.Logging.Output = "stdout"
		}
	}
}

// Validate checks the loaded configuration before any session is created
// from it: threshold bounds, a non-empty listener address, and a storage
// type the coordinator knows how to construct.
func (cfg *Config) Validate() error {
	if cfg.Session.Threshold <= 0 {
		return fmt.Errorf("session.threshold must be positive, got %d", cfg.Session.Threshold)
	}
	if cfg.Session.Threshold > len(cfg.Session.EligibleKeys) {
		return fmt.Errorf("session.threshold (%d) exceeds len(eligible_keys) (%d)", cfg.Session.Threshold, len(cfg.Session.EligibleKeys))
	}
	if cfg.Session.ExpectedParticipants > len(cfg.Session.EligibleKeys) {
		return fmt.Errorf("session.expected_participants (%d) exceeds len(eligible_keys) (%d)", cfg.Session.ExpectedParticipants, len(cfg.Session.EligibleKeys))
	}
	seen := make(map[string]struct{}, len(cfg.Session.EligibleKeys))
	for _, k := range cfg.Session.EligibleKeys {
		if _, dup := seen[k]; dup {
			return fmt.Errorf("session.eligible_keys contains a duplicate entry")
		}
		seen[k] = struct{}{}
	}
	if cfg.Server.BindHost == "" {
		return fmt.Errorf("server.bind_host must not be empty")
	}
	if cfg.Server.BindPort <= 0 || cfg.Server.BindPort > 65535 {
		return fmt.Errorf("server.bind_port out of range: %d", cfg.Server.BindPort)
	}
	if (cfg.Server.TLSCertFile == "") != (cfg.Server.TLSKeyFile == "") {
		return fmt.Errorf("server.tls_cert_file and tls_key_file must both be set or both be empty")
	}
	switch cfg.Storage.Type {
	case "", "memory":
	case "postgres":
		if cfg.Storage.DatabaseURL == "" {
			return fmt.Errorf("storage.database_url is required for storage.type=postgres")
		}
	default:
		return fmt.Errorf("unknown storage.type %q", cfg.Storage.Type)
	}
	return nil
}
