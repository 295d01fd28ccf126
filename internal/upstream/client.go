package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"github.com/deepgram/agentdeck/internal/agents"
	"github.com/deepgram/agentdeck/pkg/logger"
)

const (
	completionsPath = "/v1/chat/completions"
	modelsPath      = "/v1/models"

	maxResponseBytes = 8 << 20
	maxErrorBytes    = 64 << 10
)

// chatRequest is the body sent to a backend.
type chatRequest struct {
	Model    string                         `json:"model,omitempty"`
	Messages []openai.ChatCompletionMessage `json:"messages"`
	Stream   bool                           `json:"stream"`
}

// chatResponse is a buffered completion plus the error object some backends
// return with a 200.
type chatResponse struct {
	openai.ChatCompletionResponse
	Error json.RawMessage `json:"error,omitempty"`
}

// Completion is the result of a buffered chat request.
type Completion struct {
	Text  string        `json:"response"`
	Usage *openai.Usage `json:"usage,omitempty"`
	Model string        `json:"-"`
}

// Client talks to agent backends over their OpenAI-compatible HTTP API.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	log        zerolog.Logger
}

// NewClient returns a client whose exchanges, including reading the whole
// response body, are bounded by timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()},
		timeout:    timeout,
		log:        logger.For(logger.UPSTREAM),
	}
}

func (c *Client) Timeout() time.Duration {
	return c.timeout
}

func (c *Client) newRequest(ctx context.Context, agent agents.Agent, messages []openai.ChatCompletionMessage, stream bool) (*http.Request, error) {
	if messages == nil {
		messages = []openai.ChatCompletionMessage{}
	}
	payload, err := json.Marshal(chatRequest{Model: agent.Model, Messages: messages, Stream: stream})
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+agent.Addr()+completionsPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if agent.Token != "" {
		req.Header.Set("Authorization", "Bearer "+agent.Token)
	}
	if stream {
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Cache-Control", "no-cache")
	} else {
		req.Header.Set("Accept", "application/json")
	}
	return req, nil
}

// Complete sends a buffered chat request and waits for the whole answer.
func (c *Client) Complete(ctx context.Context, agent agents.Agent, messages []openai.ChatCompletionMessage) (*Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	addr := agent.Addr()
	req, err := c.newRequest(ctx, agent, messages, false)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(addr, c.timeout, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError(addr, c.timeout, err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, statusError(addr, resp.StatusCode, body)
		}
		return nil, protocolError(addr, "response is not valid JSON", err)
	}
	if len(parsed.Error) > 0 && string(parsed.Error) != "null" {
		return nil, &Error{Kind: KindUpstream, Addr: addr, Message: errorMessage(parsed.Error), StatusCode: resp.StatusCode}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, statusError(addr, resp.StatusCode, body)
	}

	out := &Completion{Model: parsed.Model}
	if len(parsed.Choices) > 0 {
		out.Text = parsed.Choices[0].Message.Content
	}
	if parsed.Usage != (openai.Usage{}) {
		usage := parsed.Usage
		out.Usage = &usage
	}

	c.log.Debug().
		Str("agent_id", agent.ID).
		Str("addr", addr).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("Buffered completion received")

	return out, nil
}

// Stream opens a streaming chat request. The returned body yields the raw
// event stream; closing it releases the connection. Read errors are already
// classified: a deadline reads as a Timeout *Error, a lost connection as
// Unreachable, and a caller cancellation as context.Canceled.
func (c *Client) Stream(ctx context.Context, agent agents.Agent, messages []openai.ChatCompletionMessage) (io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)

	addr := agent.Addr()
	req, err := c.newRequest(ctx, agent, messages, true)
	if err != nil {
		cancel()
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, transportError(addr, c.timeout, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		resp.Body.Close()
		cancel()
		return nil, statusError(addr, resp.StatusCode, body)
	}

	c.log.Debug().Str("agent_id", agent.ID).Str("addr", addr).Str("content_type", resp.Header.Get("Content-Type")).Msg("Upstream stream opened")

	return &streamBody{body: resp.Body, cancel: cancel, addr: addr, timeout: c.timeout}, nil
}

type streamBody struct {
	body    io.ReadCloser
	cancel  context.CancelFunc
	addr    string
	timeout time.Duration
}

func (s *streamBody) Read(p []byte) (int, error) {
	n, err := s.body.Read(p)
	if err == nil || errors.Is(err, io.EOF) {
		return n, err
	}
	return n, transportError(s.addr, s.timeout, err)
}

func (s *streamBody) Close() error {
	err := s.body.Close()
	s.cancel()
	return err
}
