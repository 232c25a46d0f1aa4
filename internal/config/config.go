// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Signal caching
	RedisURL string // Optional, signal fetches skip the cache if not set
	CacheTTL time.Duration

	// Model settings
	ModelPath       string // Path to the model bundle manifest (model.json)
	OnnxLibraryPath string // Path to libonnxruntime, required for onnx scorers

	// Decision settings
	DecisionTimeout time.Duration // Wall-clock budget for a single evaluation
	SmsFetchLimit   int           // Max SMS records pulled per evaluation

	// Publishing
	KafkaBrokers string // Comma-separated broker list (optional, publishing disabled if not set)
	KafkaTopic   string

	// Tracing
	OTLPEndpoint string // Optional, tracing disabled if not set

	// Security
	RateLimitRPS int
}

const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultModelPath       = "model/model.json"
	DefaultKafkaTopic      = "debito-check-results"
	DefaultDecisionTimeout = 10 * time.Second
	DefaultCacheTTL        = 5 * time.Minute
	DefaultSmsFetchLimit   = 5000
	DefaultRateLimit       = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", DefaultPort),
		Env:             getEnv("ENV", DefaultEnv),
		LogLevel:        getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:     os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RedisURL:        os.Getenv("REDIS_URL"),
		CacheTTL:        getEnvDuration("CACHE_TTL", DefaultCacheTTL),
		ModelPath:       getEnv("MODEL_PATH", DefaultModelPath),
		OnnxLibraryPath: os.Getenv("ONNX_LIBRARY_PATH"),
		DecisionTimeout: getEnvDuration("DECISION_TIMEOUT", DefaultDecisionTimeout),
		SmsFetchLimit:   int(getEnvInt64("SMS_FETCH_LIMIT", DefaultSmsFetchLimit)),
		KafkaBrokers:    os.Getenv("KAFKA_BROKERS"),
		KafkaTopic:      getEnv("KAFKA_TOPIC", DefaultKafkaTopic),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPS:    int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.ModelPath == "" {
		return fmt.Errorf("MODEL_PATH is required")
	}

	if c.DecisionTimeout <= 0 {
		return fmt.Errorf("DECISION_TIMEOUT must be positive")
	}

	if c.SmsFetchLimit <= 0 {
		return fmt.Errorf("SMS_FETCH_LIMIT must be positive")
	}

	if c.KafkaBrokers != "" && c.KafkaTopic == "" {
		return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}

	return nil
}

// BrokerList splits KafkaBrokers into individual addresses
func (c *Config) BrokerList() []string {
	if c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
