package chat

import (
	"context"
	"io"

	"github.com/sashabaranov/go-openai"

	"github.com/deepgram/agentdeck/internal/agents"
	"github.com/deepgram/agentdeck/internal/conversation"
	"github.com/deepgram/agentdeck/internal/relay"
	"github.com/deepgram/agentdeck/internal/upstream"
)

// NoResponse is stored and returned when a backend answers without content.
const NoResponse = "No response"

// Service defines the interface for chat operations
type Service interface {
	HasAgent(agentID string) bool

	// Chat sends one user message and waits for the complete answer.
	Chat(ctx context.Context, agentID, message string) (*upstream.Completion, error)

	// StreamChat validates the request, calls open to start the downstream
	// stream and relays the backend's events into the returned sink. An error
	// is returned only when open was never called or failed; later failures
	// reach the client as an error event and are reported in the Result.
	StreamChat(ctx context.Context, agentID, message, transport string, open func() (relay.Sink, error)) (relay.Result, error)

	Conversation(ctx context.Context, agentID string) ([]conversation.Turn, error)
	MessageCount(ctx context.Context, agentID string) (int, error)
	Clear(ctx context.Context, agentID string) error
}

// Upstream is the part of the backend client the chat service needs.
type Upstream interface {
	Complete(ctx context.Context, agent agents.Agent, messages []openai.ChatCompletionMessage) (*upstream.Completion, error)
	Stream(ctx context.Context, agent agents.Agent, messages []openai.ChatCompletionMessage) (io.ReadCloser, error)
}
