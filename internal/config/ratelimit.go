package config

import (
	"time"

	"github.com/deepgram/agentdeck/pkg/logger"
)

type RateLimitConfig struct {
	Enabled bool
	MaxHits int
	Window  time.Duration
}

func GetRateLimitConfig(key string) RateLimitConfig {
	enabled := parseEnvBool("RATELIMIT_ENABLED", false)

	configs := map[string]RateLimitConfig{
		"global": {
			Enabled: enabled,
			MaxHits: parseEnvInt("RATELIMIT_GLOBAL", 600), // 600 requests per minute per client
			Window:  time.Minute,
		},
		"chat": {
			Enabled: enabled,
			MaxHits: parseEnvInt("RATELIMIT_CHAT", 60), // 60 chat turns per minute per client
			Window:  time.Minute,
		},
	}

	if config, exists := configs[key]; exists {
		return config
	}

	l := logger.For(logger.CONFIG)
	l.Warn().Str("key", key).Msg("No rate limit config found")
	return RateLimitConfig{Enabled: false}
}
