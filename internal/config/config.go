// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrMissingCredentials is returned by RequireCredentials when an external
// service key is absent.
var ErrMissingCredentials = errors.New("missing credentials")

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	DefaultLocation string
	ChatTimeout     time.Duration
	GRPCHealthAddr  string
	TelegramToken   string

	Store     StoreConfig
	Weather   WeatherConfig
	Engine    EngineConfig
	RateLimit RateLimitConfig

	MaxRequestBodySize int64
}

// StoreConfig selects the session backend.
type StoreConfig struct {
	Driver        string
	DBPath        string
	RedisURL      string
	SessionTTL    time.Duration
	SweepInterval time.Duration
}

// WeatherConfig configures the forecast provider.
type WeatherConfig struct {
	APIKey   string
	BaseURL  string
	Units    string
	Timezone string
}

// EngineConfig configures the conversational engine.
type EngineConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// RateLimitConfig bounds inbound chat requests per user.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		FrontendURL:     getEnv("FRONTEND_URL", ""),
		DefaultLocation: getEnv("DEFAULT_LOCATION", ""),
		ChatTimeout:     getEnvDuration("CHAT_TIMEOUT", 50*time.Second),
		GRPCHealthAddr:  getEnv("GRPC_HEALTH_ADDR", ""),
		TelegramToken:   getEnv("TELEGRAM", ""),
		Store: StoreConfig{
			Driver:        strings.ToLower(getEnv("STORE_DRIVER", "sqlite")),
			DBPath:        getEnv("DB_PATH", "./data/agribot.db"),
			RedisURL:      getEnv("REDIS_URL", ""),
			SessionTTL:    getEnvDuration("SESSION_TTL", 24*time.Hour),
			SweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		},
		Weather: WeatherConfig{
			APIKey:   getEnv("WEATHER", ""),
			BaseURL:  getEnv("WEATHER_BASE_URL", "https://api.openweathermap.org/data/2.5/forecast"),
			Units:    getEnv("WEATHER_UNITS", "metric"),
			Timezone: getEnv("WEATHER_TIMEZONE", "Local"),
		},
		Engine: EngineConfig{
			APIKey:      getEnv("GEMINI", ""),
			BaseURL:     getEnv("ENGINE_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai/"),
			Model:       getEnv("ENGINE_MODEL", "gemini-1.5-flash"),
			Temperature: getEnvFloat("ENGINE_TEMPERATURE", 1.0),
			TopP:        getEnvFloat("ENGINE_TOP_P", 0.95),
			MaxTokens:   getEnvInt("ENGINE_MAX_TOKENS", 8192),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 10),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.ChatTimeout <= 0 {
		return fmt.Errorf("CHAT_TIMEOUT must be > 0")
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty when STORE_DRIVER=sqlite")
		}
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("REDIS_URL cannot be empty when STORE_DRIVER=redis")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be memory, sqlite or redis, got %q", c.Store.Driver)
	}
	if c.Store.SessionTTL < 0 {
		return fmt.Errorf("SESSION_TTL cannot be negative")
	}
	if _, err := time.LoadLocation(c.Weather.Timezone); err != nil {
		return fmt.Errorf("WEATHER_TIMEZONE %q: %w", c.Weather.Timezone, err)
	}
	if c.Engine.MaxTokens <= 0 {
		return fmt.Errorf("ENGINE_MAX_TOKENS must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0")
	}
	return nil
}

// RequireCredentials checks the keys needed to reach the weather provider
// and the conversational engine.
func (c *Config) RequireCredentials() error {
	var missing []string
	if c.Weather.APIKey == "" {
		missing = append(missing, "WEATHER")
	}
	if c.Engine.APIKey == "" {
		missing = append(missing, "GEMINI")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: set %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}
	return nil
}

// Location returns the timezone used to print forecast timestamps.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Weather.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

// IsContainer returns true if running inside a Docker container.
func IsContainer() bool {
	if getEnvBool("CONTAINER", false) {
		return true
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}
