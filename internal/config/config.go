package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Port        string
	DatabaseURL string // MySQL DSN for session snapshot persistence (optional)
	RedisURL    string // Redis for cross-instance progress events (optional)

	// External conversational AI engine (OpenAI-compatible)
	ModelAPIURL  string
	ModelAPIKey  string
	TextModel    string // model serving the text transport
	VoiceModel   string // model serving the voice transport
	ModelTimeout time.Duration

	// Market-data lookup service
	MarketDataURL     string
	MarketDataAPIKey  string
	MarketDataTimeout time.Duration

	// Policy parameter file (YAML, hot-reloaded)
	PolicyFile string

	// REST surface rate limit, requests per minute per client
	APIRateLimit int

	// Session retention
	SessionIdleTimeout time.Duration
	RetentionCron      string // cron expression for the cleanup job
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "3001"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		ModelAPIURL:  getEnv("MODEL_API_URL", "http://localhost:8080/v1"),
		ModelAPIKey:  getEnv("MODEL_API_KEY", ""),
		TextModel:    getEnv("TEXT_MODEL", "gpt-4o-mini"),
		VoiceModel:   getEnv("VOICE_MODEL", "gpt-4o-mini"),
		ModelTimeout: getDurationEnv("MODEL_TIMEOUT", 60*time.Second),

		MarketDataURL:     getEnv("MARKET_DATA_URL", "http://localhost:8090"),
		MarketDataAPIKey:  getEnv("MARKET_DATA_API_KEY", ""),
		MarketDataTimeout: getDurationEnv("MARKET_DATA_TIMEOUT", 10*time.Second),

		PolicyFile: getEnv("POLICY_FILE", "policy.yaml"),

		APIRateLimit: getIntEnv("API_RATE_LIMIT", 60),

		SessionIdleTimeout: getDurationEnv("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		RetentionCron:      getEnv("RETENTION_CRON", "*/10 * * * *"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
