package conversation

import (
	"context"
	"sync"

	"github.com/sashabaranov/go-openai"
)

// Roles a turn can carry.
const (
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// Turn is one message of a conversation. It is never modified after creation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func UserTurn(text string) Turn {
	return Turn{Role: RoleUser, Content: text}
}

func AssistantTurn(text string) Turn {
	return Turn{Role: RoleAssistant, Content: text}
}

// Messages converts turns into the upstream chat message shape.
func Messages(turns []Turn) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(turns))
	for i, t := range turns {
		out[i] = openai.ChatCompletionMessage{Role: t.Role, Content: t.Content}
	}
	return out
}

// Store keeps per-agent chat history. An agent with no history reads as an
// empty sequence, never as an error. Callers serialize writes per agent; see
// Locker.
type Store interface {
	Get(ctx context.Context, agentID string) ([]Turn, error)
	Append(ctx context.Context, agentID string, turn Turn) error
	Clear(ctx context.Context, agentID string) error
	Count(ctx context.Context, agentID string) (int, error)
}

type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string][]Turn
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string][]Turn),
	}
}

func (ms *MemoryStore) Get(ctx context.Context, agentID string) ([]Turn, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	turns := ms.conversations[agentID]
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}

func (ms *MemoryStore) Append(ctx context.Context, agentID string, turn Turn) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.conversations[agentID] = append(ms.conversations[agentID], turn)
	return nil
}

func (ms *MemoryStore) Clear(ctx context.Context, agentID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.conversations, agentID)
	return nil
}

func (ms *MemoryStore) Count(ctx context.Context, agentID string) (int, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.conversations[agentID]), nil
}
