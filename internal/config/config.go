// Package config provides configuration management for deadbolt.
package config

import (
	"os"
	"strconv"
	"time"
)

const (
	// DefaultPort is the default PostgreSQL port.
	DefaultPort uint16 = 5432

	// DefaultRetryBackoff is how long leader election waits before retrying a failed acquisition.
	DefaultRetryBackoff = 5 * time.Second
)

// Database holds the connection target for a lock session.
type Database struct {
	Host string
	Port uint16
	Name string

	// User and Password are nil when unset, which is different from set-but-empty.
	User     *string
	Password *string
}

// Config holds the application configuration.
type Config struct {
	// Database is the PostgreSQL server that arbitrates the advisory locks.
	Database Database

	// LogLevel is a zerolog level name.
	LogLevel string

	// LogFormat is either "json" or "pretty".
	LogFormat string

	// StatusAddr is the listen address of the status API. Empty disables it.
	StatusAddr string

	// ExecutorMaxTasks bounds the number of concurrently running executor tasks.
	// Zero means unlimited.
	ExecutorMaxTasks int

	// RetryBackoff is the wait between failed acquisition attempts in leader election.
	RetryBackoff time.Duration
}

// Load loads configuration from environment variables with defaults.
func Load() *Config {
	cfg := &Config{
		Database: Database{
			Host:     getEnvOrDefault("DEADBOLT_HOST", "localhost"),
			Port:     getEnvUint16OrDefault("DEADBOLT_PORT", DefaultPort),
			Name:     getEnvOrDefault("DEADBOLT_DATABASE", "postgres"),
			User:     getEnvOptional("DEADBOLT_USER"),
			Password: getEnvOptional("DEADBOLT_PASSWORD"),
		},
		LogLevel:         getEnvOrDefault("DEADBOLT_LOG_LEVEL", "info"),
		LogFormat:        getEnvOrDefault("DEADBOLT_LOG_FORMAT", "json"),
		StatusAddr:       os.Getenv("DEADBOLT_STATUS_ADDR"),
		ExecutorMaxTasks: getEnvIntOrDefault("DEADBOLT_EXECUTOR_MAX_TASKS", 0),
		RetryBackoff:     getEnvDurationOrDefault("DEADBOLT_RETRY_BACKOFF", DefaultRetryBackoff),
	}

	return cfg
}

// getEnvOrDefault returns the environment variable value or the default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOptional returns nil when the variable is not present in the environment at all.
func getEnvOptional(key string) *string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	return &value
}

// getEnvIntOrDefault returns the environment variable value as int or the default if not set or invalid.
func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvUint16OrDefault returns the environment variable value as uint16 or the default if not set or invalid.
func getEnvUint16OrDefault(key string, defaultValue uint16) uint16 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseUint(value, 10, 16); err == nil {
			return uint16(parsed)
		}
	}
	return defaultValue
}

// getEnvDurationOrDefault returns the environment variable value as a duration or the default if not set or invalid.
func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
