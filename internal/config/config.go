/*
Package config reads the ledger core's runtime configuration from the
environment: DATABASE_URL, HOST, PORT, DATABASE_MAX_CONNECTIONS, and
LOG_LEVEL, per spec.md §6. There is no config framework here (no viper,
no envconfig) — plain os.Getenv parsing, in the style of
Sergey-Bar-Alfred's gateway/config/config.go.
*/
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds every recognized runtime option. DatabaseURL, Host, and
// Port are required; the rest fall back to their documented defaults.
type Config struct {
	DatabaseURL           string
	Host                  string
	Port                  string
	DatabaseMaxConnections int32
	LogLevel              string
}

// Load reads Config from the environment, returning an error if any
// required variable is unset. No other runtime switches are recognized.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseMaxConnections: 10,
		LogLevel:               "info",
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("config: DATABASE_URL is required")
	}
	cfg.Host = os.Getenv("HOST")
	if cfg.Host == "" {
		return nil, fmt.Errorf("config: HOST is required")
	}
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		return nil, fmt.Errorf("config: PORT is required")
	}

	if v := os.Getenv("DATABASE_MAX_CONNECTIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("config: DATABASE_MAX_CONNECTIONS must be a positive integer, got %q", v)
		}
		cfg.DatabaseMaxConnections = int32(n)
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg, nil
}

// Addr is the host:port pair net/http servers bind to.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}
