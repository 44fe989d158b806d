// Package config reads service settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	DefaultPort               = "8080"
	DefaultModelDir           = "models"
	DefaultCollectiveBaseURL  = "http://localhost:3000"
	DefaultMinTrainingSamples = 30
)

type Config struct {
	Port     string
	LogLevel string
	GinMode  string

	DatabaseURL string
	EnableDB    bool

	ModelDir           string
	MinTrainingSamples int

	CollectiveBaseURL string
	AdminAPIKey       string
}

// Load reads the environment. Values from .env never override variables
// that are already set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		GinMode:           getEnv("GIN_MODE", "release"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		EnableDB:          strings.EqualFold(getEnv("ENABLE_DB", "false"), "true"),
		ModelDir:          getEnv("MODEL_DIR", DefaultModelDir),
		CollectiveBaseURL: getEnv("COLLECTIVE_BASE_URL", getEnv("NEXTAUTH_URL", DefaultCollectiveBaseURL)),
		AdminAPIKey:       os.Getenv("ADMIN_API_KEY"),
	}

	minSamples, err := strconv.Atoi(getEnv("MIN_TRAINING_SAMPLES", strconv.Itoa(DefaultMinTrainingSamples)))
	if err != nil || minSamples < 1 {
		return nil, fmt.Errorf("MIN_TRAINING_SAMPLES must be a positive integer")
	}
	cfg.MinTrainingSamples = minSamples

	if cfg.EnableDB && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when ENABLE_DB=true")
	}

	return cfg, nil
}

// RequireDatabase fails when no database URL is configured.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
