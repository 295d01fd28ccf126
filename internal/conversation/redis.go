package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/deepgram/agentdeck/internal/services/redis"
	"github.com/deepgram/agentdeck/pkg/logger"
)

// conversationTTL bounds how long an abandoned process's history survives in Redis.
const conversationTTL = 24 * time.Hour

// RedisStore keeps history in Redis lists. Keys are namespaced by a run id
// generated at startup, so a restarted process starts with empty history.
type RedisStore struct {
	redisService *redis.Service
	prefix       string
}

func NewRedisStore(redisService *redis.Service) *RedisStore {
	return &RedisStore{
		redisService: redisService,
		prefix:       "agentdeck:" + uuid.New().String() + ":conversation:",
	}
}

// NewStore picks Redis when it is configured and reachable, memory otherwise.
func NewStore(ctx context.Context, redisService *redis.Service) Store {
	l := logger.For(logger.REDIS)

	if redisService == nil {
		l.Info().Msg("Using in-memory conversation storage")
		return NewMemoryStore()
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := redisService.Ping(pingCtx); err != nil {
		l.Error().Err(err).Msg("Redis connection failed")
		l.Warn().Msg("Falling back to in-memory conversation storage")
		return NewMemoryStore()
	}

	l.Info().Msg("Using Redis for conversation storage")
	return NewRedisStore(redisService)
}

func (rs *RedisStore) key(agentID string) string {
	return rs.prefix + agentID
}

func (rs *RedisStore) Get(ctx context.Context, agentID string) ([]Turn, error) {
	raw, err := rs.redisService.LRange(ctx, rs.key(agentID))
	if err != nil {
		return nil, fmt.Errorf("load conversation %q: %w", agentID, err)
	}

	turns := make([]Turn, 0, len(raw))
	for _, item := range raw {
		var t Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("decode turn for %q: %w", agentID, err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func (rs *RedisStore) Append(ctx context.Context, agentID string, turn Turn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return err
	}
	if err := rs.redisService.RPushExpire(ctx, rs.key(agentID), conversationTTL, string(data)); err != nil {
		return fmt.Errorf("append turn for %q: %w", agentID, err)
	}
	return nil
}

func (rs *RedisStore) Clear(ctx context.Context, agentID string) error {
	return rs.redisService.Delete(ctx, rs.key(agentID))
}

func (rs *RedisStore) Count(ctx context.Context, agentID string) (int, error) {
	n, err := rs.redisService.LLen(ctx, rs.key(agentID))
	return int(n), err
}

// Close drops every conversation written by this process.
func (rs *RedisStore) Close(ctx context.Context) error {
	keys, err := rs.redisService.Keys(ctx, rs.prefix+"*")
	if err != nil {
		return err
	}
	return rs.redisService.Delete(ctx, keys...)
}
