// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the batch execution core's process configuration
// from a YAML file with environment variable overrides, the way
// internal/config does for the daemon this package was adapted from.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	batcherrors "github.com/conductorbatch/core/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the complete process configuration for batchctl / the batch
// execution core's embedders.
type Config struct {
	// Version is the config file format version.
	Version int `yaml:"version,omitempty"`

	Log        LogConfig        `yaml:"log"`
	Store      StoreConfig      `yaml:"store"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Metrics    MetricsConfig    `yaml:"metrics"`

	// BindingsFile names an optional YAML file of WorkflowBinding
	// definitions. It is read from the config file or
	// BATCHCORE_BINDINGS_FILE only; nothing in this repository loads
	// bindings from it or watches it.
	BindingsFile string `yaml:"bindings_file,omitempty"`

	// DataDir holds the SQLite store file and the encrypted credential
	// file backend's ciphertext, when those backends are selected.
	DataDir string `yaml:"data_dir,omitempty"`
}

// LogConfig configures internal/log.
type LogConfig struct {
	// Level: trace, debug, info, warn, error. Default: info.
	Level string `yaml:"level,omitempty"`
	// Format: json or text. Default: json.
	Format string `yaml:"format,omitempty"`
}

// StoreConfig selects and configures the Task/Batch/Binding Store backend.
type StoreConfig struct {
	// Backend: "memory" or "sqlite". Default: memory.
	Backend string `yaml:"backend,omitempty"`
	// SQLitePath is the database file path when Backend is "sqlite".
	// Default: <DataDir>/batchcore.db
	SQLitePath string `yaml:"sqlite_path,omitempty"`
}

// DispatcherConfig configures the bounded-concurrency dispatcher.
type DispatcherConfig struct {
	// MaxConcurrentTasks is the process-wide ceiling shared across every
	// batch's own concurrency_limit. Default: 50.
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks,omitempty"`

	// DefaultMaxAttempts is used when a batch omits max_attempts.
	// Default: 3.
	DefaultMaxAttempts int `yaml:"default_max_attempts,omitempty"`

	// BaseBackoff is the initial retry delay. Default: 500ms.
	BaseBackoff time.Duration `yaml:"base_backoff,omitempty"`

	// MaxBackoff caps the exponential retry delay. Default: 30s.
	MaxBackoff time.Duration `yaml:"max_backoff,omitempty"`

	// DefaultPerCallTimeout is the per-call request timeout every batch is
	// created with. Default: 60s.
	DefaultPerCallTimeout time.Duration `yaml:"default_per_call_timeout,omitempty"`
}

// TracingConfig configures internal/tracing.
type TracingConfig struct {
	Enabled        bool              `yaml:"enabled"`
	ServiceVersion string            `yaml:"service_version,omitempty"`
	Exporter       string            `yaml:"exporter,omitempty"` // none, stdout, otlp-http, otlp-grpc
	Endpoint       string            `yaml:"endpoint,omitempty"`
	Insecure       bool              `yaml:"insecure,omitempty"`
	Headers        map[string]string `yaml:"headers,omitempty"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr,omitempty"` // Default: :9090
}

// Default returns a Config with every field set to its documented default.
func Default() *Config {
	return &Config{
		Version: 1,
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Backend: "memory",
		},
		Dispatcher: DispatcherConfig{
			MaxConcurrentTasks:    50,
			DefaultMaxAttempts:    3,
			BaseBackoff:           500 * time.Millisecond,
			MaxBackoff:            30 * time.Second,
			DefaultPerCallTimeout: 60 * time.Second,
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Exporter: "none",
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: ":9090",
		},
	}
}

// Load reads configPath (or the default XDG config path if empty), applies
// environment overrides, then fills defaults for anything still unset (so
// derived defaults such as the SQLite path see an overridden data dir),
// and finally validates the result.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		if defaultPath, err := ConfigPath(); err == nil {
			if _, statErr := os.Stat(defaultPath); statErr == nil {
				configPath = defaultPath
			}
		}
	}

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &batcherrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.loadFromEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, &batcherrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// applyDefaults fills zero-valued fields so a minimal config file (or none
// at all) still produces a fully usable Config.
func (c *Config) applyDefaults() {
	d := Default()

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Store.Backend == "" {
		c.Store.Backend = d.Store.Backend
	}
	if c.Dispatcher.MaxConcurrentTasks == 0 {
		c.Dispatcher.MaxConcurrentTasks = d.Dispatcher.MaxConcurrentTasks
	}
	if c.Dispatcher.DefaultMaxAttempts == 0 {
		c.Dispatcher.DefaultMaxAttempts = d.Dispatcher.DefaultMaxAttempts
	}
	if c.Dispatcher.BaseBackoff == 0 {
		c.Dispatcher.BaseBackoff = d.Dispatcher.BaseBackoff
	}
	if c.Dispatcher.MaxBackoff == 0 {
		c.Dispatcher.MaxBackoff = d.Dispatcher.MaxBackoff
	}
	if c.Dispatcher.DefaultPerCallTimeout == 0 {
		c.Dispatcher.DefaultPerCallTimeout = d.Dispatcher.DefaultPerCallTimeout
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = d.Tracing.Exporter
	}
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = d.Metrics.ListenAddr
	}
	if c.Store.Backend == "sqlite" && c.Store.SQLitePath == "" {
		dataDir := c.DataDir
		if dataDir == "" {
			dataDir = "."
		}
		c.Store.SQLitePath = dataDir + "/batchcore.db"
	}
}

// loadFromEnv applies BATCHCORE_* environment variable overrides, the same
// precedence pattern internal/daemon's flag-override-of-config follows:
// environment wins over file, CLI flags (applied by the caller) win over
// environment.
func (c *Config) loadFromEnv() {
	if v := os.Getenv("BATCHCORE_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("BATCHCORE_LOG_FORMAT"); v != "" {
		c.Log.Format = strings.ToLower(v)
	}
	if v := os.Getenv("BATCHCORE_STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("BATCHCORE_SQLITE_PATH"); v != "" {
		c.Store.SQLitePath = v
	}
	if v := os.Getenv("BATCHCORE_MAX_CONCURRENT_TASKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Dispatcher.MaxConcurrentTasks = n
		}
	}
	if v := os.Getenv("BATCHCORE_TRACING_EXPORTER"); v != "" {
		c.Tracing.Exporter = v
		c.Tracing.Enabled = v != "none"
	}
	if v := os.Getenv("BATCHCORE_TRACING_ENDPOINT"); v != "" {
		c.Tracing.Endpoint = v
	}
	if v := os.Getenv("BATCHCORE_BINDINGS_FILE"); v != "" {
		c.BindingsFile = v
	}
	if v := os.Getenv("BATCHCORE_DATA_DIR"); v != "" {
		c.DataDir = v
	}
}

// Validate checks the configuration for internally inconsistent values.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory", "sqlite":
	default:
		return &batcherrors.ConfigError{Key: "store.backend", Reason: fmt.Sprintf("unsupported backend %q", c.Store.Backend)}
	}
	if c.Store.Backend == "sqlite" && c.Store.SQLitePath == "" {
		return &batcherrors.ConfigError{Key: "store.sqlite_path", Reason: "required when store.backend is sqlite"}
	}
	if c.Dispatcher.MaxConcurrentTasks <= 0 {
		return &batcherrors.ConfigError{Key: "dispatcher.max_concurrent_tasks", Reason: "must be > 0"}
	}
	if c.Dispatcher.DefaultMaxAttempts <= 0 {
		return &batcherrors.ConfigError{Key: "dispatcher.default_max_attempts", Reason: "must be > 0"}
	}
	if c.Dispatcher.MaxBackoff < c.Dispatcher.BaseBackoff {
		return &batcherrors.ConfigError{Key: "dispatcher.max_backoff", Reason: "must be >= base_backoff"}
	}
	switch c.Tracing.Exporter {
	case "none", "stdout", "otlp-http", "otlp-grpc":
	default:
		return &batcherrors.ConfigError{Key: "tracing.exporter", Reason: fmt.Sprintf("unsupported exporter %q", c.Tracing.Exporter)}
	}
	if c.Tracing.Enabled && (c.Tracing.Exporter == "otlp-http" || c.Tracing.Exporter == "otlp-grpc") && c.Tracing.Endpoint == "" {
		return &batcherrors.ConfigError{Key: "tracing.endpoint", Reason: "required for otlp exporters"}
	}
	return nil
}
