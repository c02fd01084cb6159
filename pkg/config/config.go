package config

import (
	"fmt"
	"os"
	"strconv"

	// Load environment variables from .env files when present.
	_ "github.com/joho/godotenv/autoload"
)

// Config holds all application configuration
type Config struct {
	Database      DatabaseConfig
	Import        ImportConfig
	Observability ObservabilityConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// ImportConfig tunes the import pipeline. The malformed-row threshold and
// the duplicate-lookup window are deliberately configuration, not constants.
type ImportConfig struct {
	// MaxErrorFraction aborts an import when the failed-row share exceeds it.
	MaxErrorFraction float64
	// DedupWindowDays pads the incoming batch's date range when querying
	// existing transactions for duplicate detection.
	DedupWindowDays int
	// SessionTTLHours controls when abandoned sessions are pruned.
	SessionTTLHours int
	// PruneSchedule is a standard 5-field cron expression.
	PruneSchedule string
}

type ObservabilityConfig struct {
	MetricsEnabled bool
	MetricsPort    int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvAsInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			Database: getEnv("POSTGRES_DB", "fintrack-dev"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
		Import: ImportConfig{
			MaxErrorFraction: getEnvAsFloat("IMPORT_MAX_ERROR_FRACTION", 0.5),
			DedupWindowDays:  getEnvAsInt("IMPORT_DEDUP_WINDOW_DAYS", 3),
			SessionTTLHours:  getEnvAsInt("IMPORT_SESSION_TTL_HOURS", 48),
			PruneSchedule:    getEnv("IMPORT_PRUNE_SCHEDULE", "0 3 * * *"),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
			MetricsPort:    getEnvAsInt("METRICS_PORT", 9090),
		},
	}

	if cfg.Import.MaxErrorFraction <= 0 || cfg.Import.MaxErrorFraction > 1 {
		return nil, fmt.Errorf("IMPORT_MAX_ERROR_FRACTION must be in (0, 1], got %v", cfg.Import.MaxErrorFraction)
	}

	return cfg, nil
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
