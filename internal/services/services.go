package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/deepgram/agentdeck/internal/agents"
	"github.com/deepgram/agentdeck/internal/config"
	"github.com/deepgram/agentdeck/internal/connections"
	"github.com/deepgram/agentdeck/internal/conversation"
	"github.com/deepgram/agentdeck/internal/services/chat"
	"github.com/deepgram/agentdeck/internal/services/health"
	"github.com/deepgram/agentdeck/internal/services/redis"
	"github.com/deepgram/agentdeck/internal/upstream"
)

var (
	// Mutex for thread-safe initialization
	servicesMu sync.RWMutex
)

type Services struct {
	registry      *agents.Registry
	store         conversation.Store
	redisService  *redis.Service
	upstream      *upstream.Client
	chatService   *chat.Implementation
	healthService *health.Service
	manager       *connections.Manager
}

// InitializeServices wires every service around the given registry.
func InitializeServices(ctx context.Context, registry *agents.Registry) (*Services, error) {
	servicesMu.Lock()
	defer servicesMu.Unlock()

	log.Info().Msg("Initializing core services")

	// Initialize Redis service (optional)
	redisService := redis.NewService(config.GetRedisURL(), config.GetRedisPassword())
	store := conversation.NewStore(ctx, redisService)
	log.Info().Bool("redis", redisService != nil).Msg("Initializing conversation store")

	client := upstream.NewClient(config.GetUpstreamTimeout())
	prober := upstream.NewProber(config.GetProbeTimeout())
	manager := connections.NewManager(connections.DefaultTimeouts)

	chatService, err := chat.NewService(registry, store, client, manager)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize chat service - required for message processing")
		return nil, fmt.Errorf("failed to initialize chat service: %w", err)
	}
	log.Info().Dur("upstream_timeout", client.Timeout()).Msg("Initializing chat service")

	healthService := health.NewService(registry, prober, chatService)
	log.Info().Dur("probe_timeout", config.GetProbeTimeout()).Msg("Initializing health service")

	log.Info().Msg("All services initialized successfully")

	return &Services{
		registry:      registry,
		store:         store,
		redisService:  redisService,
		upstream:      client,
		chatService:   chatService,
		healthService: healthService,
		manager:       manager,
	}, nil
}

// GetRegistry returns the agent registry
func (s *Services) GetRegistry() *agents.Registry {
	return s.registry
}

// GetChatService returns the chat service
func (s *Services) GetChatService() *chat.Implementation {
	return s.chatService
}

// GetHealthService returns the health service
func (s *Services) GetHealthService() *health.Service {
	return s.healthService
}

// GetConnectionManager returns the tracker of active streaming exchanges
func (s *Services) GetConnectionManager() *connections.Manager {
	return s.manager
}

// CancelStreams cancels every in-flight streaming exchange. Buffered requests
// are left to finish.
func (s *Services) CancelStreams() int {
	n := s.manager.CancelAll()
	if n > 0 {
		log.Info().Int("exchanges", n).Msg("Cancelled active chat streams")
	}
	return n
}

// Close releases external resources. Call it once no request can reach the
// store anymore.
func (s *Services) Close(ctx context.Context) {
	servicesMu.Lock()
	defer servicesMu.Unlock()

	if rs, ok := s.store.(*conversation.RedisStore); ok {
		if err := rs.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to remove conversation keys")
		}
	}
	if s.redisService != nil {
		if err := s.redisService.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close Redis connection")
		}
	}
}

// Shutdown cancels in-flight streams and releases external resources.
func (s *Services) Shutdown(ctx context.Context) {
	s.CancelStreams()
	s.Close(ctx)
}
