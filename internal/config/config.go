// Package config reads all application configuration from environment
// variables. Mailbox credentials are never part of the configuration: they
// arrive per request and are discarded with it.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	IMAP      IMAPConfig
	Cursor    CursorConfig
	Storage   StorageConfig
	Auth      AuthConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string
	Port string
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// IMAPConfig holds the defaults applied to requests that omit connection
// parameters, plus dial tuning.
type IMAPConfig struct {
	DefaultHost    string
	DefaultPort    int
	DefaultTLS     bool
	DialTimeout    time.Duration
	CommandTimeout time.Duration
}

// CursorConfig holds the scan-cursor store configuration.
type CursorConfig struct {
	// Path is the SQLite database path. Empty disables the cursor store.
	Path string
}

// StorageConfig holds S3/MinIO configuration for PDF archiving. An empty
// bucket disables archiving.
type StorageConfig struct {
	Endpoint           string
	Region             string
	Bucket             string
	AccessKeyID        string
	SecretAccessKey    string
	UseSSL             bool
	PresignedURLExpiry time.Duration
}

// AuthConfig holds API bearer-token configuration. An empty secret leaves the
// API unauthenticated.
type AuthConfig struct {
	Secret string
	Issuer string
}

// CORSConfig holds the allowed cross-origin request origins.
type CORSConfig struct {
	AllowedOrigins []string
}

// RateLimitConfig holds the in-memory rate limiter tuning.
type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnv("SERVER_PORT", "8080"),
		},
		IMAP: IMAPConfig{
			DefaultHost:    getEnv("IMAP_HOST", ""),
			DefaultPort:    getIntEnv("IMAP_PORT", 993),
			DefaultTLS:     getBoolEnv("IMAP_TLS", true),
			DialTimeout:    getDurationEnv("IMAP_DIAL_TIMEOUT", 30*time.Second),
			CommandTimeout: getDurationEnv("IMAP_COMMAND_TIMEOUT", 60*time.Second),
		},
		Cursor: CursorConfig{
			Path: getEnv("CURSOR_DB_PATH", "mailscan.db"),
		},
		Storage: StorageConfig{
			Endpoint:           getEnv("STORAGE_ENDPOINT", ""),
			Region:             getEnv("STORAGE_REGION", "us-east-1"),
			Bucket:             getEnv("STORAGE_BUCKET", ""),
			AccessKeyID:        getEnv("STORAGE_ACCESS_KEY_ID", ""),
			SecretAccessKey:    getEnv("STORAGE_SECRET_ACCESS_KEY", ""),
			UseSSL:             getBoolEnv("STORAGE_USE_SSL", true),
			PresignedURLExpiry: getDurationEnv("STORAGE_PRESIGN_EXPIRY", 15*time.Minute),
		},
		Auth: AuthConfig{
			Secret: getEnv("API_AUTH_SECRET", ""),
			Issuer: getEnv("API_AUTH_ISSUER", "mailscan"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getListEnv("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		RateLimit: RateLimitConfig{
			Limit:  getIntEnv("RATE_LIMIT", 120),
			Window: getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		},
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getListEnv(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
