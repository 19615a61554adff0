package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every runtime knob of the client process.
type Config struct {
	ListenAddr        string
	InferenceEndpoint string
	InferenceTimeout  time.Duration
	MaxUploadBytes    int64
	RedisAddr         string
	PreviewTTL        time.Duration
	AllowedOrigins    []string
	ShutdownTimeout   time.Duration
	LogFormat         string
}

// Load reads the environment, after applying an optional .env file from the
// working directory. Variables already set in the environment win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ListenAddr:        getEnv("LISTEN_ADDR", ":8080"),
		InferenceEndpoint: getEnv("INFERENCE_ENDPOINT", "http://localhost:5000"),
		InferenceTimeout:  getEnvAsDuration("INFERENCE_TIMEOUT", 30*time.Second),
		MaxUploadBytes:    getEnvAsInt64("MAX_UPLOAD_BYTES", 10<<20),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		PreviewTTL:        getEnvAsDuration("PREVIEW_TTL", time.Hour),
		AllowedOrigins:    getEnvAsList("ALLOWED_ORIGINS", []string{"*"}),
		ShutdownTimeout:   getEnvAsDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		LogFormat:         getEnv("LOG_FORMAT", "json"),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func getEnvAsList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return fallback
	}
	return items
}
