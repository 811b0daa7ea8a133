package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPPort       int
	ClientID       string
	TokenFile      string
	IngestURL      string
	ServiceContact string
	GroupSettle    time.Duration
	LogLevel       string
}

func Load() Config {
	return Config{
		HTTPPort:       getEnvInt("HTTP_PORT", 3080),
		ClientID:       getEnvString("GRAPH_CLIENT_ID", ""),
		TokenFile:      getEnvString("TOKEN_FILE", "token.json"),
		IngestURL:      getEnvString("INGEST_URL", ""),
		ServiceContact: getEnvString("SERVICE_CONTACT", ""),
		GroupSettle:    getEnvDuration("GROUP_SETTLE_DELAY", 2*time.Second),
		LogLevel:       getEnvString("LOG_LEVEL", "info"),
	}
}

func getEnvString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}
