// Package config provides client configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all client configuration.
type Config struct {
	APIBaseURL string
	WSBaseURL  string
	DataDir    string

	HTTPTimeout          time.Duration
	HeartbeatInterval    time.Duration
	ReconnectDelay       time.Duration
	ReconnectMaxAttempts int
	RefreshInterval      time.Duration

	ChatRateLimit       int
	ChatRateWindow      time.Duration
	ReconnectRateLimit  int
	ReconnectRateWindow time.Duration

	LogLevel  string
	LogFormat string
	AppEnv    string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		APIBaseURL: getEnv("LEARNFORGE_API_BASE_URL", "http://localhost:8000"),
		WSBaseURL:  getEnv("LEARNFORGE_WS_BASE_URL", ""),
		DataDir:    getEnv("LEARNFORGE_DATA_DIR", ""),

		HTTPTimeout:          getEnvDuration("LEARNFORGE_HTTP_TIMEOUT", 30*time.Second),
		HeartbeatInterval:    getEnvDuration("LEARNFORGE_HEARTBEAT_INTERVAL", 30*time.Second),
		ReconnectDelay:       getEnvDuration("LEARNFORGE_RECONNECT_DELAY", 3*time.Second),
		ReconnectMaxAttempts: getEnvInt("LEARNFORGE_RECONNECT_MAX_ATTEMPTS", 3),
		RefreshInterval:      getEnvDuration("LEARNFORGE_REFRESH_INTERVAL", 30*time.Minute),

		ChatRateLimit:       getEnvInt("LEARNFORGE_CHAT_RATE_LIMIT", 10),
		ChatRateWindow:      getEnvDuration("LEARNFORGE_CHAT_RATE_WINDOW", 60*time.Second),
		ReconnectRateLimit:  getEnvInt("LEARNFORGE_RECONNECT_RATE_LIMIT", 4),
		ReconnectRateWindow: getEnvDuration("LEARNFORGE_RECONNECT_RATE_WINDOW", 60*time.Second),

		LogLevel:  getEnv("LEARNFORGE_LOG_LEVEL", "info"),
		LogFormat: getEnv("LEARNFORGE_LOG_FORMAT", "text"),
		AppEnv:    getEnv("APP_ENV", "production"),
	}

	if cfg.WSBaseURL == "" {
		cfg.WSBaseURL = deriveWSBaseURL(cfg.APIBaseURL)
	}
	if cfg.DataDir == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve config dir: %w", err)
		}
		cfg.DataDir = filepath.Join(dir, "learnforge")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are usable.
func (c *Config) Validate() error {
	if err := validateBaseURL(c.APIBaseURL, "http", "https"); err != nil {
		return fmt.Errorf("LEARNFORGE_API_BASE_URL: %w", err)
	}
	if err := validateBaseURL(c.WSBaseURL, "ws", "wss"); err != nil {
		return fmt.Errorf("LEARNFORGE_WS_BASE_URL: %w", err)
	}
	if c.DataDir == "" {
		return fmt.Errorf("LEARNFORGE_DATA_DIR cannot be empty")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("LEARNFORGE_HTTP_TIMEOUT must be > 0")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("LEARNFORGE_HEARTBEAT_INTERVAL must be > 0")
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("LEARNFORGE_RECONNECT_DELAY must be > 0")
	}
	if c.ReconnectMaxAttempts < 0 {
		return fmt.Errorf("LEARNFORGE_RECONNECT_MAX_ATTEMPTS must be >= 0")
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("LEARNFORGE_REFRESH_INTERVAL must be > 0")
	}
	if c.ChatRateLimit <= 0 || c.ChatRateWindow <= 0 {
		return fmt.Errorf("chat rate limit and window must be > 0")
	}
	if c.ReconnectRateLimit <= 0 || c.ReconnectRateWindow <= 0 {
		return fmt.Errorf("reconnect rate limit and window must be > 0")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LEARNFORGE_LOG_LEVEL must be one of debug, info, warn, error")
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("LEARNFORGE_LOG_FORMAT must be text or json")
	}
	return nil
}

// IsDevelopment returns true if running in development mode. An explicit
// APP_ENV wins; otherwise a localhost backend implies development.
func (c *Config) IsDevelopment() bool {
	if c.AppEnv != "" {
		return c.AppEnv == "development"
	}
	return strings.Contains(c.APIBaseURL, "localhost") ||
		strings.Contains(c.APIBaseURL, "127.0.0.1")
}

// DBPath returns the location of the local cache database.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "learnforge.db")
}

// CredentialsPath returns the location of the credential artifact.
func (c *Config) CredentialsPath() string {
	return filepath.Join(c.DataDir, "credentials.json")
}

func validateBaseURL(raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("not a valid URL: %w", err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("missing host")
			}
			return nil
		}
	}
	return fmt.Errorf("scheme must be one of %s", strings.Join(schemes, ", "))
}

// deriveWSBaseURL maps an HTTP base URL onto its WebSocket counterpart.
func deriveWSBaseURL(apiBase string) string {
	switch {
	case strings.HasPrefix(apiBase, "https://"):
		return "wss://" + strings.TrimPrefix(apiBase, "https://")
	case strings.HasPrefix(apiBase, "http://"):
		return "ws://" + strings.TrimPrefix(apiBase, "http://")
	default:
		return apiBase
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
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
