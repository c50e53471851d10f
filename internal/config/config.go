package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultBaseURL         = "https://identitytoolkit.googleapis.com"
	DefaultTokenURL        = "https://securetoken.googleapis.com"
	DefaultRefreshSchedule = "@every 1m"
)

// Config holds all configuration for the application
type Config struct {
	// Identity provider configuration
	Provider ProviderConfig

	// Local session persistence
	Session SessionConfig

	// Route table configuration
	Routes RoutesConfig

	// Local HTTP shell configuration
	Server ServerConfig

	// Logging Configuration
	Logging LoggingConfig
}

// ProviderConfig holds the hosted identity provider settings
type ProviderConfig struct {
	APIKey   string
	BaseURL  string // accounts:* endpoints
	TokenURL string // token refresh endpoint
	Timeout  time.Duration
}

// SessionConfig holds local session persistence settings
type SessionConfig struct {
	Store           string // sqlite, keyring, memory
	DatabaseURL     string
	Key             string // hex encoded 32 byte sealing key, generated when empty
	RefreshWindow   time.Duration
	RefreshSchedule string // cron expression or descriptor
}

// RoutesConfig holds the route table location
type RoutesConfig struct {
	File string // empty = built-in table
}

// ServerConfig holds the local HTTP shell settings
type ServerConfig struct {
	ListenAddr  string
	CORSOrigins []string
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string
	Format string // json, console
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env files (fails silently if files don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	apiKey := os.Getenv("AUTH_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("AUTH_API_KEY is required")
	}

	timeout, err := durationEnv("AUTH_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	refreshWindow, err := durationEnv("REFRESH_WINDOW", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	store := strings.ToLower(getEnv("SESSION_STORE", "sqlite"))
	switch store {
	case "sqlite", "keyring", "memory":
	default:
		return nil, fmt.Errorf("invalid SESSION_STORE '%s', must be one of: sqlite, keyring, memory", store)
	}

	var origins []string
	for _, origin := range strings.Split(getEnv("CORS_ORIGINS", "http://localhost:5173"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}

	return &Config{
		Provider: ProviderConfig{
			APIKey:   apiKey,
			BaseURL:  strings.TrimRight(getEnv("AUTH_BASE_URL", DefaultBaseURL), "/"),
			TokenURL: strings.TrimRight(getEnv("AUTH_TOKEN_URL", DefaultTokenURL), "/"),
			Timeout:  timeout,
		},
		Session: SessionConfig{
			Store:           store,
			DatabaseURL:     getEnv("SESSION_DB", "authflow.sqlite"),
			Key:             os.Getenv("SESSION_KEY"),
			RefreshWindow:   refreshWindow,
			RefreshSchedule: getEnv("REFRESH_SCHEDULE", DefaultRefreshSchedule),
		},
		Routes: RoutesConfig{
			File: os.Getenv("ROUTES_FILE"),
		},
		Server: ServerConfig{
			ListenAddr:  getEnv("LISTEN_ADDR", "127.0.0.1:8080"),
			CORSOrigins: origins,
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}
