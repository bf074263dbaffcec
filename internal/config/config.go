// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every runtime setting for the API server.
type Config struct {
	Addr     string
	LogLevel string

	JWTSecret string

	DatabaseURL        string
	SupabaseURL        string
	SupabaseServiceKey string

	PublishEndpoint string
	PublishAPIKey   string

	ProbeTimeout   time.Duration
	PublishTimeout time.Duration

	RateLimitPerSecond int
	RateLimitBurst     int
}

// FromEnv builds a Config from environment variables, applying defaults.
func FromEnv() Config {
	return Config{
		Addr:               envDefault("LISTEN_ADDR", ":8080"),
		LogLevel:           envDefault("LOG_LEVEL", "info"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		SupabaseURL:        os.Getenv("SUPABASE_URL"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_KEY"),
		PublishEndpoint:    envDefault("UPLOAD_POST_URL", "https://api.upload-post.com"),
		PublishAPIKey:      os.Getenv("UPLOAD_POST_API_KEY"),
		ProbeTimeout:       envDuration("PROBE_TIMEOUT", 10*time.Second),
		PublishTimeout:     envDuration("PUBLISH_TIMEOUT", 45*time.Second),
		RateLimitPerSecond: envInt("RATE_LIMIT_RPS", 10),
		RateLimitBurst:     envInt("RATE_LIMIT_BURST", 20),
	}
}

func envDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}
