package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepgram/agentdeck/internal/agents"
	"github.com/deepgram/agentdeck/internal/connections"
	"github.com/deepgram/agentdeck/internal/conversation"
	"github.com/deepgram/agentdeck/internal/relay"
	"github.com/deepgram/agentdeck/internal/upstream"
)

type fakeUpstream struct {
	complete func(messages []openai.ChatCompletionMessage) (*upstream.Completion, error)
	stream   func(messages []openai.ChatCompletionMessage) (io.ReadCloser, error)

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	delay       time.Duration
}

func (f *fakeUpstream) Complete(ctx context.Context, agent agents.Agent, messages []openai.ChatCompletionMessage) (*upstream.Completion, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.maxInFlight.Load()
		if n <= peak || f.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.complete(messages)
}

func (f *fakeUpstream) Stream(ctx context.Context, agent agents.Agent, messages []openai.ChatCompletionMessage) (io.ReadCloser, error) {
	return f.stream(messages)
}

type captureSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *captureSink) Send(ev relay.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, ev.Line)
	return nil
}

func newTestService(t *testing.T, client Upstream) (*Implementation, conversation.Store) {
	t.Helper()
	registry, err := agents.New(agents.File{Agents: []agents.Agent{
		{ID: "a1", Name: "Atlas", Host: "10.0.0.5", Token: "secret"},
		{ID: "a2", Name: "Borealis", Host: "10.0.0.6"},
	}}, agents.Defaults{Port: 18789, Color: "#3B82F6"})
	require.NoError(t, err)

	store := conversation.NewMemoryStore()
	svc, err := NewService(registry, store, client, connections.NewManager(connections.DefaultTimeouts))
	require.NoError(t, err)
	return svc, store
}

func history(t *testing.T, store conversation.Store, id string) []conversation.Turn {
	t.Helper()
	turns, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	return turns
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	registry, err := agents.New(agents.File{}, agents.Defaults{})
	require.NoError(t, err)

	_, err = NewService(nil, conversation.NewMemoryStore(), &fakeUpstream{}, nil)
	assert.Error(t, err)
	_, err = NewService(registry, nil, &fakeUpstream{}, nil)
	assert.Error(t, err)
	_, err = NewService(registry, conversation.NewMemoryStore(), nil, nil)
	assert.Error(t, err)

	svc, err := NewService(registry, conversation.NewMemoryStore(), &fakeUpstream{}, nil)
	require.NoError(t, err)
	assert.NotNil(t, svc.Manager())
}

func TestChat(t *testing.T) {
	t.Run("round trip grows history by two", func(t *testing.T) {
		var sent []openai.ChatCompletionMessage
		fake := &fakeUpstream{complete: func(messages []openai.ChatCompletionMessage) (*upstream.Completion, error) {
			sent = messages
			return &upstream.Completion{Text: "Hello", Usage: &openai.Usage{TotalTokens: 4}}, nil
		}}
		svc, store := newTestService(t, fake)

		out, err := svc.Chat(context.Background(), "a1", "hi")
		require.NoError(t, err)

		assert.Equal(t, "Hello", out.Text)
		assert.Equal(t, []openai.ChatCompletionMessage{{Role: "user", Content: "hi"}}, sent)
		assert.Equal(t, []conversation.Turn{
			conversation.UserTurn("hi"),
			conversation.AssistantTurn("Hello"),
		}, history(t, store, "a1"))
	})

	t.Run("history is sent on the next turn", func(t *testing.T) {
		var sent []openai.ChatCompletionMessage
		fake := &fakeUpstream{complete: func(messages []openai.ChatCompletionMessage) (*upstream.Completion, error) {
			sent = messages
			return &upstream.Completion{Text: "ok"}, nil
		}}
		svc, _ := newTestService(t, fake)

		_, err := svc.Chat(context.Background(), "a1", "one")
		require.NoError(t, err)
		_, err = svc.Chat(context.Background(), "a1", "two")
		require.NoError(t, err)

		require.Len(t, sent, 3)
		assert.Equal(t, "two", sent[2].Content)
	})

	t.Run("empty answer becomes no response", func(t *testing.T) {
		fake := &fakeUpstream{complete: func([]openai.ChatCompletionMessage) (*upstream.Completion, error) {
			return &upstream.Completion{}, nil
		}}
		svc, store := newTestService(t, fake)

		out, err := svc.Chat(context.Background(), "a1", "hi")
		require.NoError(t, err)
		assert.Equal(t, NoResponse, out.Text)
		assert.Equal(t, NoResponse, history(t, store, "a1")[1].Content)
	})

	t.Run("upstream failure keeps only the user turn", func(t *testing.T) {
		fake := &fakeUpstream{complete: func([]openai.ChatCompletionMessage) (*upstream.Completion, error) {
			return nil, &upstream.Error{Kind: upstream.KindUnreachable, Addr: "10.0.0.5:18789", Message: "Cannot reach 10.0.0.5:18789"}
		}}
		svc, store := newTestService(t, fake)

		_, err := svc.Chat(context.Background(), "a1", "hi")
		require.Error(t, err)
		assert.Equal(t, upstream.KindUnreachable, upstream.KindOf(err))
		assert.Equal(t, []conversation.Turn{conversation.UserTurn("hi")}, history(t, store, "a1"))
	})

	t.Run("validation", func(t *testing.T) {
		svc, store := newTestService(t, &fakeUpstream{})

		_, err := svc.Chat(context.Background(), "ghost", "hi")
		assert.ErrorIs(t, err, ErrAgentNotFound)
		assert.Equal(t, upstream.KindNotFound, upstream.KindOf(err))

		_, err = svc.Chat(context.Background(), "a1", "   ")
		assert.ErrorIs(t, err, ErrMessageRequired)
		assert.Equal(t, upstream.KindBadRequest, upstream.KindOf(err))

		assert.Empty(t, history(t, store, "a1"))
	})

	t.Run("exchanges for one agent are serialized", func(t *testing.T) {
		fake := &fakeUpstream{delay: 20 * time.Millisecond, complete: func([]openai.ChatCompletionMessage) (*upstream.Completion, error) {
			return &upstream.Completion{Text: "ok"}, nil
		}}
		svc, store := newTestService(t, fake)

		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.Chat(context.Background(), "a1", "hi")
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), fake.maxInFlight.Load())
		turns := history(t, store, "a1")
		require.Len(t, turns, 10)
		for i, turn := range turns {
			if i%2 == 0 {
				assert.Equal(t, conversation.RoleUser, turn.Role)
			} else {
				assert.Equal(t, conversation.RoleAssistant, turn.Role)
			}
		}
	})
}

func TestStreamChat(t *testing.T) {
	stream := `data: {"choices":[{"delta":{"content":"Hel"}}]}` + "\n\n" +
		`data: {"choices":[{"delta":{"content":"lo"}}]}` + "\n\n" +
		"data: [DONE]\n\n"

	t.Run("relays and commits", func(t *testing.T) {
		fake := &fakeUpstream{stream: func([]openai.ChatCompletionMessage) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(stream)), nil
		}}
		svc, store := newTestService(t, fake)
		sink := &captureSink{}

		res, err := svc.StreamChat(context.Background(), "a1", "hi", "sse", func() (relay.Sink, error) { return sink, nil })
		require.NoError(t, err)

		assert.True(t, res.Committed)
		assert.Len(t, sink.lines, 3)
		assert.Equal(t, "data: [DONE]", sink.lines[2])
		assert.Equal(t, []conversation.Turn{
			conversation.UserTurn("hi"),
			conversation.AssistantTurn("Hello"),
		}, history(t, store, "a1"))
		assert.Zero(t, svc.Manager().Count())
	})

	t.Run("validation errors never open the stream", func(t *testing.T) {
		svc, _ := newTestService(t, &fakeUpstream{})
		opened := false
		open := func() (relay.Sink, error) { opened = true; return &captureSink{}, nil }

		_, err := svc.StreamChat(context.Background(), "ghost", "hi", "sse", open)
		assert.ErrorIs(t, err, ErrAgentNotFound)
		_, err = svc.StreamChat(context.Background(), "a1", "", "sse", open)
		assert.ErrorIs(t, err, ErrMessageRequired)
		assert.False(t, opened)
	})

	t.Run("open failure is returned", func(t *testing.T) {
		svc, store := newTestService(t, &fakeUpstream{})
		_, err := svc.StreamChat(context.Background(), "a1", "hi", "sse", func() (relay.Sink, error) {
			return nil, errors.New("no flusher")
		})
		assert.Error(t, err)
		assert.Empty(t, history(t, store, "a1"))
	})

	t.Run("upstream refusal sends one error event", func(t *testing.T) {
		fake := &fakeUpstream{stream: func([]openai.ChatCompletionMessage) (io.ReadCloser, error) {
			return nil, &upstream.Error{Kind: upstream.KindUpstream, Message: "invalid api key", StatusCode: 401}
		}}
		svc, store := newTestService(t, fake)
		sink := &captureSink{}

		res, err := svc.StreamChat(context.Background(), "a1", "hi", "sse", func() (relay.Sink, error) { return sink, nil })
		require.NoError(t, err)

		assert.Equal(t, relay.TerminatedByError, res.TerminatedBy)
		assert.Equal(t, upstream.KindUpstream, res.Kind)
		assert.Equal(t, []string{`data: {"error":"invalid api key","code":"upstream_error"}`}, sink.lines)
		assert.Equal(t, []conversation.Turn{conversation.UserTurn("hi")}, history(t, store, "a1"))
	})

	t.Run("cancel all stops the exchange without commit", func(t *testing.T) {
		pr, pw := io.Pipe()
		opened := make(chan struct{})
		fake := &fakeUpstream{stream: func([]openai.ChatCompletionMessage) (io.ReadCloser, error) {
			close(opened)
			return pr, nil
		}}
		svc, store := newTestService(t, fake)

		go func() {
			<-opened
			_, _ = io.WriteString(pw, `data: {"choices":[{"delta":{"content":"Hel"}}]}`+"\n\n")
			svc.Manager().CancelAll()
			_ = pw.CloseWithError(context.Canceled)
		}()

		res, err := svc.StreamChat(context.Background(), "a1", "hi", "ws", func() (relay.Sink, error) { return &captureSink{}, nil })
		require.NoError(t, err)

		assert.False(t, res.Committed)
		assert.Equal(t, relay.TerminatedByCancel, res.TerminatedBy)
		assert.Equal(t, []conversation.Turn{conversation.UserTurn("hi")}, history(t, store, "a1"))
	})
}

func TestConversationAndClear(t *testing.T) {
	fake := &fakeUpstream{complete: func([]openai.ChatCompletionMessage) (*upstream.Completion, error) {
		return &upstream.Completion{Text: "ok"}, nil
	}}
	svc, _ := newTestService(t, fake)
	ctx := context.Background()

	_, err := svc.Chat(ctx, "a1", "hi")
	require.NoError(t, err)

	n, err := svc.MessageCount(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, svc.Clear(ctx, "a1"))
	turns, err := svc.Conversation(ctx, "a1")
	require.NoError(t, err)
	assert.Empty(t, turns)

	require.NoError(t, svc.Clear(ctx, "ghost"))
	turns, err = svc.Conversation(ctx, "ghost")
	require.NoError(t, err)
	assert.Empty(t, turns)
}
