package config

import (
	"github.com/deepgram/agentdeck/pkg/logger"
)

func GetRedisURL() string {
	l := logger.For(logger.CONFIG)
	value := GetEnvOrDefault("REDIS_URL", "")
	if value == "" {
		l.Debug().Msg("Redis URL not set - conversations stay in process memory")
	} else {
		l.Info().Msg("Redis URL successfully loaded")
	}
	return value
}

func GetRedisPassword() string {
	return GetEnvOrDefault("REDIS_PASSWORD", "")
}
