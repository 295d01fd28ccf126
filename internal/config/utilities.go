package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// GetEnvOrDefault returns the value of an environment variable or a default value
func GetEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func parseEnvInt(key string, defaultValue int) int {
	val := GetEnvOrDefault(key, "")
	if val == "" {
		return defaultValue
	}

	parsed, err := strconv.Atoi(val)
	if err != nil {
		log.Warn().Str("key", key).Str("value", val).Int("default", defaultValue).Msg("Invalid integer in environment, using default")
		return defaultValue
	}

	return parsed
}

// parseEnvDuration accepts Go duration syntax ("90s", "2m") or a bare number of seconds.
func parseEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := GetEnvOrDefault(key, "")
	if val == "" {
		return defaultValue
	}

	if secs, err := strconv.Atoi(val); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}

	parsed, err := time.ParseDuration(val)
	if err != nil || parsed <= 0 {
		log.Warn().Str("key", key).Str("value", val).Dur("default", defaultValue).Msg("Invalid duration in environment, using default")
		return defaultValue
	}

	return parsed
}

func parseEnvBool(key string, defaultValue bool) bool {
	val := GetEnvOrDefault(key, "")
	if val == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseBool(val)
	if err != nil {
		log.Warn().Str("key", key).Str("value", val).Bool("default", defaultValue).Msg("Invalid boolean in environment, using default")
		return defaultValue
	}

	return parsed
}
