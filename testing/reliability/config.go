package reliability

import (
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// envPrefix makes the settings read SPANZ_RELIABILITY_LEVEL and so on.
const envPrefix = "spanz_reliability"

// Config holds configuration for reliability testing.
type Config struct {
	Level            string        `envconfig:"LEVEL"`                            // "basic" or "stress"
	Duration         time.Duration `envconfig:"DURATION" default:"30s"`           // Test duration for stress tests
	MaxGoroutines    int           `envconfig:"MAX_GOROUTINES" default:"100"`     // Maximum goroutines for concurrent tests
	MaxMemoryMB      int           `envconfig:"MAX_MEMORY_MB" default:"512"`      // Heap limit after the store is cleared
	FailureThreshold float64       `envconfig:"FAILURE_THRESHOLD" default:"0.05"` // Persist failure rate threshold (0.0-1.0)
}

// getReliabilityConfig reads configuration from environment variables.
// Unparseable values fall back to defaults.
func getReliabilityConfig() Config {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		cfg = Config{
			Level:            os.Getenv("SPANZ_RELIABILITY_LEVEL"),
			Duration:         30 * time.Second,
			MaxGoroutines:    100,
			MaxMemoryMB:      512,
			FailureThreshold: 0.05,
		}
	}
	return cfg
}

// runDuration caps basic runs so they fit in a normal test timeout.
func (c Config) runDuration() time.Duration {
	if c.Level == "basic" && c.Duration > 2*time.Second {
		return 2 * time.Second
	}
	return c.Duration
}
