// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// DevJWTSecret signs sessions when JWT_SECRET is unset. It is refused
// outside development.
const DevJWTSecret = "clawnest-dev-secret"

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	StaticDir   string // built dashboard; empty disables static serving
	JWTSecret   string
	SessionTTL  time.Duration
	LogLevel    slog.Level
	LLM         LLMConfig
	Support     SupportConfig
	ChatLimit   RateLimitConfig
	Bridges     BridgeConfig
}

// LLMConfig configures the chat-completion provider.
type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// SupportConfig controls eviction of anonymous support conversations.
type SupportConfig struct {
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

// RateLimitConfig throttles chat endpoints per principal.
type RateLimitConfig struct {
	PerMinute int
	Burst     int
}

// BridgeConfig configures messaging-platform bridges.
type BridgeConfig struct {
	TelegramEnabled    bool
	TelegramEndpoint   string // Bot API endpoint format; empty uses the public API
	MatrixEnabled      bool
	RestoreConcurrency int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "5000"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/clawnest.db"),
		StaticDir:   getEnv("STATIC_DIR", ""),
		JWTSecret:   getEnv("JWT_SECRET", DevJWTSecret),
		SessionTTL:  getEnvDuration("SESSION_TTL", 7*24*time.Hour),
		LogLevel:    parseLevel(getEnv("LOG_LEVEL", "info")),
		LLM: LLMConfig{
			BaseURL: getEnv("LLM_BASE_URL", ""),
			APIKey:  getEnv("LLM_API_KEY", ""),
			Model:   getEnv("LLM_MODEL", "gpt-4o-mini"),
			Timeout: getEnvDuration("LLM_TIMEOUT", 60*time.Second),
		},
		Support: SupportConfig{
			IdleTTL:       getEnvDuration("SUPPORT_IDLE_TTL", 30*time.Minute),
			SweepInterval: getEnvDuration("SUPPORT_SWEEP_INTERVAL", 5*time.Minute),
		},
		ChatLimit: RateLimitConfig{
			PerMinute: getEnvInt("CHAT_RATE_LIMIT", 20),
			Burst:     getEnvInt("CHAT_RATE_BURST", 5),
		},
		Bridges: BridgeConfig{
			TelegramEnabled:    getEnvBool("TELEGRAM_ENABLED", true),
			TelegramEndpoint:   getEnv("TELEGRAM_API_ENDPOINT", ""),
			MatrixEnabled:      getEnvBool("MATRIX_ENABLED", true),
			RestoreConcurrency: getEnvInt("RESTORE_CONCURRENCY", 4),
		},
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
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET cannot be empty")
	}
	if c.JWTSecret == DevJWTSecret && !c.IsDevelopment() {
		return fmt.Errorf("JWT_SECRET must be set outside development")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("LLM_MODEL cannot be empty")
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be > 0")
	}
	if c.Support.IdleTTL <= 0 || c.Support.SweepInterval <= 0 {
		return fmt.Errorf("SUPPORT_IDLE_TTL and SUPPORT_SWEEP_INTERVAL must be > 0")
	}
	if c.ChatLimit.PerMinute <= 0 || c.ChatLimit.Burst <= 0 {
		return fmt.Errorf("CHAT_RATE_LIMIT and CHAT_RATE_BURST must be > 0")
	}
	if c.Bridges.RestoreConcurrency <= 0 {
		return fmt.Errorf("RESTORE_CONCURRENCY must be > 0")
	}
	return nil
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

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}
