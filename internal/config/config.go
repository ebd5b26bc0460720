// Package config loads runtime settings from the environment and an optional
// .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// DBConfig selects and tunes the ledger store.
type DBConfig struct {
	Driver       string // sqlite, postgres or memory
	DSN          string
	MaxOpenConns int
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int
	Env          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	CORSOrigins  []string
}

// Config holds all configuration
type Config struct {
	Server            ServerConfig
	DB                DBConfig
	LogLevel          string
	ReconcileInterval time.Duration // 0 disables the periodic sweep

	// Warnings lists values that were rejected in favour of defaults. They
	// are logged once the logger exists.
	Warnings []string
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Load reads .env if present, then the process environment.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	r := &reader{}
	cfg := &Config{
		Server: ServerConfig{
			Port:         r.integer("PORT", 8080),
			Env:          getEnv("APP_ENV", "development"),
			ReadTimeout:  r.duration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: r.duration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  r.duration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			CORSOrigins:  splitList(getEnv("CORS_ORIGINS", "*")),
		},
		DB: DBConfig{
			Driver:       strings.ToLower(getEnv("DB_DRIVER", DriverSQLite)),
			DSN:          getEnv("DB_DSN", ""),
			MaxOpenConns: r.integer("DB_MAX_OPEN_CONNS", 10),
		},
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		ReconcileInterval: r.duration("RECONCILE_INTERVAL", 0),
	}
	cfg.Warnings = r.warnings

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no default can repair.
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case DriverSQLite, DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("DB_DRIVER: unknown driver %q", c.DB.Driver)
	}
	if c.DB.Driver == DriverPostgres && c.DB.DSN == "" {
		return fmt.Errorf("DB_DSN: required for postgres")
	}
	if c.DB.Driver == DriverSQLite {
		if c.DB.DSN == "" {
			c.DB.DSN = "invoices.db"
		}
		c.DB.MaxOpenConns = 1
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("PORT: %d out of range", c.Server.Port)
	}
	return nil
}

// IsProduction reports whether APP_ENV is "production".
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// LogFields returns the configuration as zap fields, without secrets.
func (c *Config) LogFields() []zap.Field {
	return []zap.Field{
		zap.String("environment", c.Server.Env),
		zap.Int("port", c.Server.Port),
		zap.String("db_driver", c.DB.Driver),
		zap.Int("db_max_open_conns", c.DB.MaxOpenConns),
		zap.Duration("reconcile_interval", c.ReconcileInterval),
		zap.Strings("cors_origins", c.Server.CORSOrigins),
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

// reader collects parse failures instead of aborting on the first one.
type reader struct {
	warnings []string
}

func (r *reader) integer(key string, defaultValue int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		r.warnings = append(r.warnings, fmt.Sprintf("%s=%q is not an integer, using %d", key, raw, defaultValue))
		return defaultValue
	}
	return v
}

func (r *reader) duration(key string, defaultValue time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v < 0 {
		r.warnings = append(r.warnings, fmt.Sprintf("%s=%q is not a valid duration, using %s", key, raw, defaultValue))
		return defaultValue
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
