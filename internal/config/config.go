// Package config provides configuration loading and management for the application.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// HTTP server port
	Port string

	// Path to a YAML chain catalog; empty uses the embedded default
	CatalogPath string

	// Chain to activate on startup when the wallet does not report one
	DefaultChain string

	// Fiat currency prices are converted into (usd, krw)
	TargetCurrency string

	// OpenTelemetry endpoint for observability
	OtelEndpoint string

	// Quote tuning
	QuoteDebounce   time.Duration
	QuoteCacheTTL   time.Duration
	QuoteRetries    int
	SlippageBps     int
	MaxEdge         int
	MaxSplit        int
	RequestTimeout  time.Duration
	ReceiptTimeout  time.Duration
	PriceTTL        time.Duration
	PriceRefresh    time.Duration
	PreferencesPath string

	// Endpoint circuit breaker
	BreakerFailures int
	BreakerCooldown time.Duration

	// HTTP API rate limiting
	RateLimitRPS   float64
	RateLimitBurst int
}

// Load creates a new Config from environment variables
func Load() Config {
	return Config{
		Port:            GetEnvOrDefault("PORT", "8080"),
		CatalogPath:     GetEnvOrDefault("CATALOG_PATH", ""),
		DefaultChain:    strings.ToLower(GetEnvOrDefault("DEFAULT_CHAIN", "aurora")),
		TargetCurrency:  strings.ToLower(GetEnvOrDefault("TARGET_CURRENCY", "usd")),
		OtelEndpoint:    GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		QuoteDebounce:   GetEnvAsDuration("QUOTE_DEBOUNCE", 200*time.Millisecond),
		QuoteCacheTTL:   GetEnvAsDuration("QUOTE_CACHE_TTL", 30*time.Second),
		QuoteRetries:    GetEnvAsInt("QUOTE_RETRIES", 3),
		SlippageBps:     GetEnvAsInt("SLIPPAGE_BPS", 100), // 1%
		MaxEdge:         GetEnvAsInt("MAX_EDGE", 4),
		MaxSplit:        GetEnvAsInt("MAX_SPLIT", 1),
		RequestTimeout:  GetEnvAsDuration("REQUEST_TIMEOUT", 10*time.Second),
		ReceiptTimeout:  GetEnvAsDuration("RECEIPT_TIMEOUT", 2*time.Minute),
		PriceTTL:        GetEnvAsDuration("PRICE_TTL", time.Minute),
		PriceRefresh:    GetEnvAsDuration("PRICE_REFRESH_INTERVAL", 30*time.Second),
		PreferencesPath: GetEnvOrDefault("PREFERENCES_PATH", ""),
		BreakerFailures: GetEnvAsInt("BREAKER_FAILURES", 5),
		BreakerCooldown: GetEnvAsDuration("BREAKER_COOLDOWN", 30*time.Second),
		RateLimitRPS:    GetEnvAsFloat("RATE_LIMIT_RPS", 10.0),
		RateLimitBurst:  GetEnvAsInt("RATE_LIMIT_BURST", 20),
	}
}

// GetEnv retrieves an environment variable and whether it exists
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
