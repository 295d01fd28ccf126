package redis

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/deepgram/agentdeck/pkg/logger"
)

type Service struct {
	client *redis.Client
}

// NewService returns nil when no Redis URL is configured. The URL may be a
// redis:// URL or a bare host:port.
func NewService(url, password string) *Service {
	l := logger.For(logger.REDIS)

	if url == "" {
		l.Debug().Msg("Redis service not configured - REDIS_URL missing")
		return nil
	}

	opts := &redis.Options{
		Addr:     url,
		Password: password,
		DB:       0,
	}
	if strings.Contains(url, "://") {
		parsed, err := redis.ParseURL(url)
		if err != nil {
			l.Error().Err(err).Msg("Invalid REDIS_URL - Redis service disabled")
			return nil
		}
		if parsed.Password == "" {
			parsed.Password = password
		}
		opts = parsed
	}

	l.Info().Str("addr", opts.Addr).Msg("Initialising Redis service")
	return &Service{client: redis.NewClient(opts)}
}

// Ping checks if Redis is accessible
func (s *Service) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// RPushExpire appends values to a list and refreshes its expiry in one round trip
func (s *Service) RPushExpire(ctx context.Context, key string, ttl time.Duration, values ...interface{}) error {
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, values...)
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// LRange returns every element of a list
func (s *Service) LRange(ctx context.Context, key string) ([]string, error) {
	return s.client.LRange(ctx, key, 0, -1).Result()
}

// LLen returns the length of a list, 0 for a missing key
func (s *Service) LLen(ctx context.Context, key string) (int64, error) {
	return s.client.LLen(ctx, key).Result()
}

// Delete removes keys from Redis
func (s *Service) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

// Keys walks the keyspace with SCAN and returns every key matching pattern
func (s *Service) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

// Close closes the Redis connection
func (s *Service) Close() error {
	return s.client.Close()
}
