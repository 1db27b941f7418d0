// Package config loads application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/maybeizen/fluxo-sub000/pkg/notify"
	"github.com/maybeizen/fluxo-sub000/pkg/observability"
	"github.com/maybeizen/fluxo-sub000/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// SMTP configuration
	SMTP notify.SMTPConfig

	// Billing configuration
	Billing BillingConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for probes)
	HealthPort string

	// Per-client rate limit for the public API
	RateLimitPerMinute int
}

// BillingConfig holds billing behavior settings
type BillingConfig struct {
	Currency string

	// SMTPEnabled switches the notifier between real SMTP delivery and
	// log-only mode
	SMTPEnabled bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		SMTP:          loadSMTPConfig(),
		Billing:       loadBillingConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:               getEnv("FLUXO_HOST", "0.0.0.0"),
		Port:               getEnv("FLUXO_PORT", "8080"),
		ReadTimeout:        getEnvDuration("FLUXO_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:       getEnvDuration("FLUXO_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:        getEnvDuration("FLUXO_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:    getEnvDuration("FLUXO_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:         getEnv("FLUXO_HEALTH_PORT", "9090"),
		RateLimitPerMinute: getEnvInt("FLUXO_RATE_LIMIT_PER_MINUTE", 120),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	return storage.Config{
		DatabaseURL: getEnv("FLUXO_POSTGRES_URL", ""),
		MaxConns:    getEnvInt("FLUXO_POSTGRES_MAX_CONNS", 25),
		MinConns:    getEnvInt("FLUXO_POSTGRES_MIN_CONNS", 5),
		MaxLifetime: getEnvDuration("FLUXO_POSTGRES_MAX_LIFETIME", time.Hour),
		MaxIdleTime: getEnvDuration("FLUXO_POSTGRES_MAX_IDLE_TIME", 30*time.Minute),

		RedisURL:        getEnv("FLUXO_REDIS_URL", "redis://localhost:6379"),
		RedisPassword:   getEnv("FLUXO_REDIS_PASSWORD", ""),
		RedisDB:         getEnvInt("FLUXO_REDIS_DB", 0),
		RedisMaxRetries: getEnvInt("FLUXO_REDIS_MAX_RETRIES", 3),
		RedisPoolSize:   getEnvInt("FLUXO_REDIS_POOL_SIZE", 10),
	}
}

// loadSMTPConfig loads SMTP configuration from environment
func loadSMTPConfig() notify.SMTPConfig {
	return notify.SMTPConfig{
		Host:     getEnv("FLUXO_SMTP_HOST", ""),
		Port:     getEnv("FLUXO_SMTP_PORT", "587"),
		Username: getEnv("FLUXO_SMTP_USERNAME", ""),
		Password: getEnv("FLUXO_SMTP_PASSWORD", ""),
		From:     getEnv("FLUXO_SMTP_FROM", "billing@fluxo.local"),
	}
}

// loadBillingConfig loads billing behavior settings from environment
func loadBillingConfig() BillingConfig {
	return BillingConfig{
		Currency:    strings.ToLower(getEnv("FLUXO_CURRENCY", "usd")),
		SMTPEnabled: getEnvBool("FLUXO_SMTP_ENABLED", false),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       observability.ParseLogLevel(getEnv("FLUXO_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("FLUXO_METRICS_ENABLED", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.RateLimitPerMinute <= 0 {
		return fmt.Errorf("rate limit must be positive")
	}

	if c.Storage.DatabaseURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Storage.RedisURL == "" {
		return fmt.Errorf("redis URL is required")
	}

	if c.Billing.Currency == "" {
		return fmt.Errorf("billing currency is required")
	}
	if c.Billing.SMTPEnabled && c.SMTP.Host == "" {
		return fmt.Errorf("SMTP host is required when SMTP is enabled")
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
