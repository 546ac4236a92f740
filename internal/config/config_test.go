package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)
	assert.Equal(t, "traces.log", cfg.Trace.JournalPath)
	assert.Equal(t, 0, cfg.Trace.HandlerWorkers)
	assert.Equal(t, 1024, cfg.Trace.HandlerQueue)
	assert.InDelta(t, 0.5, cfg.Demo.ErrorRate, 1e-9)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMatchesDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default().Trace, cfg.Trace)
	assert.Equal(t, Default().Demo, cfg.Demo)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"SPANZ_PORT":            "9000",
		"SPANZ_HOST":            "127.0.0.1",
		"SPANZ_LOG_LEVEL":       "debug",
		"SPANZ_LOG_DEV":         "true",
		"SPANZ_JOURNAL":         "/tmp/spans.log",
		"SPANZ_HANDLER_WORKERS": "4",
		"SPANZ_HANDLER_QUEUE":   "64",
		"SPANZ_ERROR_RATE":      "0.25",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "127.0.0.1:9000", cfg.Addr())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, "/tmp/spans.log", cfg.Trace.JournalPath)
	assert.Equal(t, 4, cfg.Trace.HandlerWorkers)
	assert.Equal(t, 64, cfg.Trace.HandlerQueue)
	assert.InDelta(t, 0.25, cfg.Demo.ErrorRate, 1e-9)
}

func TestLoadRejectsUnparsableValue(t *testing.T) {
	t.Setenv("SPANZ_HANDLER_WORKERS", "many")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadOrDefaultFallsBack(t *testing.T) {
	t.Setenv("SPANZ_ERROR_RATE", "2")

	cfg := LoadOrDefault()
	assert.Equal(t, Default().Demo, cfg.Demo)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = "http" }},
		{"port out of range", func(c *Config) { c.Server.Port = "70000" }},
		{"negative workers", func(c *Config) { c.Trace.HandlerWorkers = -1 }},
		{"workers without queue", func(c *Config) {
			c.Trace.HandlerWorkers = 2
			c.Trace.HandlerQueue = 0
		}},
		{"error rate above one", func(c *Config) { c.Demo.ErrorRate = 1.5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = "x"
	cfg.Demo.ErrorRate = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid port")
	assert.Contains(t, err.Error(), "error rate")
}
