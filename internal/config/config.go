// Package config loads spanz settings from SPANZ_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"
)

// Prefix is the environment variable prefix, e.g. SPANZ_PORT.
const Prefix = "spanz"

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig
	Logging LogConfig
	Trace   TraceConfig
	Demo    DemoConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// TraceConfig holds span store configuration.
type TraceConfig struct {
	JournalPath    string `envconfig:"JOURNAL" default:"traces.log"`
	HandlerWorkers int    `envconfig:"HANDLER_WORKERS" default:"0"`
	HandlerQueue   int    `envconfig:"HANDLER_QUEUE" default:"1024"`
}

// DemoConfig holds settings for the demo routes.
type DemoConfig struct {
	ErrorRate float64 `envconfig:"ERROR_RATE" default:"0.5"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	// Sections are processed one by one so keys stay flat (SPANZ_PORT, not SPANZ_SERVER_PORT).
	sections := []any{&cfg.Server, &cfg.Logging, &cfg.Trace, &cfg.Demo}
	for _, section := range sections {
		if err := envconfig.Process(Prefix, section); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Trace: TraceConfig{
			JournalPath:    "traces.log",
			HandlerWorkers: 0,
			HandlerQueue:   1024,
		},
		Demo: DemoConfig{
			ErrorRate: 0.5,
		},
	}
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var err error
	if port, perr := strconv.Atoi(c.Server.Port); perr != nil || port < 0 || port > 65535 {
		err = multierr.Append(err, fmt.Errorf("invalid port %q", c.Server.Port))
	}
	if c.Trace.HandlerWorkers < 0 {
		err = multierr.Append(err, errors.New("handler workers must be >= 0"))
	}
	if c.Trace.HandlerWorkers > 0 && c.Trace.HandlerQueue <= 0 {
		err = multierr.Append(err, errors.New("handler queue must be > 0 when workers are enabled"))
	}
	if c.Demo.ErrorRate < 0 || c.Demo.ErrorRate > 1 {
		err = multierr.Append(err, fmt.Errorf("error rate %v outside [0, 1]", c.Demo.ErrorRate))
	}
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
