// Package config loads server configuration from the environment.
// A .env file in the working directory is honored when present.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort      int
	DatabasePath    string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
	LogLevel        string
}

func Load() *Config {
	// Missing .env is the normal case outside local dev.
	_ = godotenv.Load()

	return &Config{
		ServerPort:      getEnvInt("SERVER_PORT", 8080),
		DatabasePath:    getEnv("DATABASE_PATH", "timebank.db"),
		AllowedOrigins:  []string{getEnv("ALLOWED_ORIGIN", "http://localhost:5173")},
		ShutdownTimeout: 30 * time.Second,
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
