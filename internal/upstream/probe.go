package upstream

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/deepgram/agentdeck/internal/agents"
)

// Status is the outcome of one health probe. StatusCode is 0 when no HTTP
// answer was received.
type Status struct {
	Reachable  bool `json:"reachable"`
	StatusCode int  `json:"statusCode,omitempty"`
}

// Prober checks whether an agent's backend process is up.
type Prober struct {
	httpClient *http.Client
	timeout    time.Duration
}

func NewProber(timeout time.Duration) *Prober {
	return &Prober{
		httpClient: &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()},
		timeout:    timeout,
	}
}

// Probe lists the backend's models. Any 2xx and a 401 both count as
// reachable: a rejected credential still proves the process is running.
// Failures never surface as errors.
func (p *Prober) Probe(ctx context.Context, agent agents.Agent) Status {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+agent.Addr()+modelsPath, nil)
	if err != nil {
		return Status{}
	}
	if agent.Token != "" {
		req.Header.Set("Authorization", "Bearer "+agent.Token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Status{}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBytes))

	ok := (resp.StatusCode >= 200 && resp.StatusCode <= 299) || resp.StatusCode == http.StatusUnauthorized
	return Status{Reachable: ok, StatusCode: resp.StatusCode}
}
