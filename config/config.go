/*
Package config loads and validates server configuration.

PURPOSE:
  One place for every runtime knob: HTTP port, database path, log level,
  CORS origins, shutdown timeout. Values come from an optional YAML file,
  can be overridden by environment variables, and fall back to defaults
  that run the server out of the box.

PRECEDENCE (lowest to highest):
  1. Built-in defaults
  2. YAML config file (-config flag)
  3. Environment variables (PORT, DB_PATH, LOG_LEVEL, CORS_ORIGINS)

SEE ALSO:
  - cmd/server/main.go: Startup wiring
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every server setting.
type Config struct {
	Port        int      `yaml:"port"`
	DBPath      string   `yaml:"db_path"`
	LogLevel    string   `yaml:"log_level"`
	CORSOrigins []string `yaml:"cors_origins"`

	// ShutdownTimeoutSeconds bounds the graceful-shutdown drain.
	ShutdownTimeoutSeconds int `yaml:"shutdown_timeout_seconds"`

	// RecoverOnStart rebuilds wallet and positions from the transaction
	// log before serving.
	RecoverOnStart bool `yaml:"recover_on_start"`
}

// ShutdownTimeout returns the drain bound as a duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// Default returns a configuration that runs without any file or env vars.
func Default() *Config {
	return &Config{
		Port:                   8080,
		DBPath:                 "brokerage.db",
		LogLevel:               "info",
		CORSOrigins:            []string{"http://localhost:5173", "http://localhost:8080"},
		ShutdownTimeoutSeconds: 30,
	}
}

// Load reads the YAML file at path (if non-empty), applies environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		c.CORSOrigins = origins
	}
}

// Validate checks ranges and normalizes defaults for zero values.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if c.ShutdownTimeoutSeconds <= 0 {
		c.ShutdownTimeoutSeconds = 30
	}
	return nil
}
