package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/deepgram/agentdeck/internal/agents"
	"github.com/deepgram/agentdeck/internal/connections"
	"github.com/deepgram/agentdeck/internal/conversation"
	"github.com/deepgram/agentdeck/internal/relay"
	"github.com/deepgram/agentdeck/internal/upstream"
	"github.com/deepgram/agentdeck/pkg/logger"
)

var (
	ErrAgentNotFound   = &upstream.Error{Kind: upstream.KindNotFound, Message: "Agent not found"}
	ErrMessageRequired = &upstream.Error{Kind: upstream.KindBadRequest, Message: "Message required"}
)

type Implementation struct {
	registry *agents.Registry
	store    conversation.Store
	locker   *conversation.Locker
	client   Upstream
	manager  *connections.Manager
	log      zerolog.Logger
}

func NewService(registry *agents.Registry, store conversation.Store, client Upstream, manager *connections.Manager) (*Implementation, error) {
	if registry == nil {
		return nil, errors.New("agent registry is required")
	}
	if store == nil {
		return nil, errors.New("conversation store is required")
	}
	if client == nil {
		return nil, errors.New("upstream client is required")
	}
	if manager == nil {
		manager = connections.NewManager(connections.DefaultTimeouts)
	}

	return &Implementation{
		registry: registry,
		store:    store,
		locker:   conversation.NewLocker(),
		client:   client,
		manager:  manager,
		log:      logger.For(logger.CHAT),
	}, nil
}

func (s *Implementation) HasAgent(agentID string) bool {
	_, ok := s.registry.Get(agentID)
	return ok
}

func (s *Implementation) resolve(agentID, message string) (agents.Agent, error) {
	agent, ok := s.registry.Get(agentID)
	if !ok {
		return agents.Agent{}, ErrAgentNotFound
	}
	if strings.TrimSpace(message) == "" {
		return agents.Agent{}, ErrMessageRequired
	}
	return agent, nil
}

// beginTurn appends the user turn and returns the history to send upstream.
func (s *Implementation) beginTurn(ctx context.Context, agentID, message string) ([]conversation.Turn, error) {
	if err := s.store.Append(ctx, agentID, conversation.UserTurn(message)); err != nil {
		return nil, fmt.Errorf("store user turn: %w", err)
	}
	turns, err := s.store.Get(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	return turns, nil
}

func (s *Implementation) Chat(ctx context.Context, agentID, message string) (*upstream.Completion, error) {
	agent, err := s.resolve(agentID, message)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, agentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	turns, err := s.beginTurn(ctx, agentID, message)
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("agent_id", agentID).Int("history_len", len(turns)).Msg("Sending buffered chat")

	out, err := s.client.Complete(ctx, agent, conversation.Messages(turns))
	if err != nil {
		s.log.Error().Err(err).Str("agent_id", agentID).Str("error_kind", string(upstream.KindOf(err))).Msg("Buffered chat failed")
		return nil, err
	}
	if out.Text == "" {
		out.Text = NoResponse
	}

	if err := s.store.Append(ctx, agentID, conversation.AssistantTurn(out.Text)); err != nil {
		return nil, fmt.Errorf("store assistant turn: %w", err)
	}
	return out, nil
}

func (s *Implementation) StreamChat(ctx context.Context, agentID, message, transport string, open func() (relay.Sink, error)) (relay.Result, error) {
	agent, err := s.resolve(agentID, message)
	if err != nil {
		return relay.Result{}, err
	}

	sink, err := open()
	if err != nil {
		return relay.Result{}, err
	}

	ctx, exchange, done := s.manager.Begin(ctx, agentID, transport)
	defer done()

	log := s.log.With().Str("agent_id", agentID).Str("exchange_id", exchange.ID).Str("transport", transport).Logger()

	unlock, err := s.locker.Lock(ctx, agentID)
	if err != nil {
		return relay.Result{ID: exchange.ID, TerminatedBy: relay.TerminatedByCancel, Err: err}, nil
	}
	defer unlock()

	turns, err := s.beginTurn(ctx, agentID, message)
	if err != nil {
		return s.abort(log, exchange.ID, sink, relay.ErrorEvent(relay.KindPersistence, "Failed to save message"), err), nil
	}

	log.Info().Int("history_len", len(turns)).Msg("Opening upstream stream")

	body, err := s.client.Stream(ctx, agent, conversation.Messages(turns))
	if err != nil {
		if ctx.Err() != nil {
			return relay.Result{ID: exchange.ID, TerminatedBy: relay.TerminatedByCancel, Err: err}, nil
		}
		return s.abort(log, exchange.ID, sink, relay.ErrorEventFor(err), err), nil
	}
	defer body.Close()

	res := relay.Run(ctx, agentID, body, sink, func(ctx context.Context, text string) error {
		return s.store.Append(ctx, agentID, conversation.AssistantTurn(text))
	})
	return res, nil
}

// abort reports a failure that happened before any upstream bytes arrived.
func (s *Implementation) abort(log zerolog.Logger, id string, sink relay.Sink, ev relay.Event, err error) relay.Result {
	log.Error().Err(err).Str("error_kind", string(ev.Kind)).Msg("Streaming chat failed")
	if sendErr := sink.Send(ev); sendErr != nil {
		log.Debug().Err(sendErr).Msg("Downstream closed before the error event")
	}
	return relay.Result{ID: id, TerminatedBy: relay.TerminatedByError, Kind: ev.Kind, Err: err}
}

// Conversation returns the agent's history. Unknown agents have none.
func (s *Implementation) Conversation(ctx context.Context, agentID string) ([]conversation.Turn, error) {
	return s.store.Get(ctx, agentID)
}

func (s *Implementation) MessageCount(ctx context.Context, agentID string) (int, error) {
	return s.store.Count(ctx, agentID)
}

// Clear drops the agent's history. Clearing an unknown id succeeds.
func (s *Implementation) Clear(ctx context.Context, agentID string) error {
	unlock, err := s.locker.Lock(ctx, agentID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.store.Clear(ctx, agentID); err != nil {
		return fmt.Errorf("clear conversation: %w", err)
	}
	s.log.Info().Str("agent_id", agentID).Msg("Conversation cleared")
	return nil
}

// Manager exposes the active exchange tracker.
func (s *Implementation) Manager() *connections.Manager {
	return s.manager
}
