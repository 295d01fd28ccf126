package health

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/deepgram/agentdeck/internal/agents"
	"github.com/deepgram/agentdeck/internal/upstream"
	"github.com/deepgram/agentdeck/pkg/logger"
)

// Prober checks a single agent.
type Prober interface {
	Probe(ctx context.Context, agent agents.Agent) upstream.Status
}

// Counter reports how many turns an agent's conversation holds.
type Counter interface {
	MessageCount(ctx context.Context, agentID string) (int, error)
}

// AgentHealth is one entry of the aggregate health report.
type AgentHealth struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	upstream.Status
}

// AgentSummary is one entry of the agent list. The credential is never
// included.
type AgentSummary struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Color        string `json:"color"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Online       bool   `json:"online"`
	MessageCount int    `json:"messageCount"`
}

type Service struct {
	registry *agents.Registry
	prober   Prober
	counter  Counter
	log      zerolog.Logger
}

func NewService(registry *agents.Registry, prober Prober, counter Counter) *Service {
	return &Service{
		registry: registry,
		prober:   prober,
		counter:  counter,
		log:      logger.For(logger.HEALTH),
	}
}

// probeAll runs one probe per agent concurrently. Each probe carries its own
// timeout, so the whole call takes about as long as the slowest probe.
func (s *Service) probeAll(ctx context.Context, list []agents.Agent) []upstream.Status {
	results := make([]upstream.Status, len(list))

	var wg sync.WaitGroup
	for i, agent := range list {
		wg.Add(1)
		go func(i int, agent agents.Agent) {
			defer wg.Done()
			results[i] = s.prober.Probe(ctx, agent)
		}(i, agent)
	}
	wg.Wait()

	return results
}

// Check probes every agent.
func (s *Service) Check(ctx context.Context) []AgentHealth {
	list := s.registry.List()
	statuses := s.probeAll(ctx, list)

	out := make([]AgentHealth, len(list))
	reachable := 0
	for i, agent := range list {
		out[i] = AgentHealth{ID: agent.ID, Name: agent.Name, Status: statuses[i]}
		if statuses[i].Reachable {
			reachable++
		}
	}

	s.log.Debug().Int("agents", len(list)).Int("reachable", reachable).Msg("Health check completed")
	return out
}

// Summaries lists every agent with its reachability and message count.
func (s *Service) Summaries(ctx context.Context) []AgentSummary {
	list := s.registry.List()
	statuses := s.probeAll(ctx, list)

	out := make([]AgentSummary, len(list))
	for i, agent := range list {
		count, err := s.counter.MessageCount(ctx, agent.ID)
		if err != nil {
			s.log.Warn().Err(err).Str("agent_id", agent.ID).Msg("Failed to count messages")
		}
		out[i] = AgentSummary{
			ID:           agent.ID,
			Name:         agent.Name,
			Color:        agent.Color,
			Host:         agent.Host,
			Port:         agent.Port,
			Online:       statuses[i].Reachable,
			MessageCount: count,
		}
	}
	return out
}
