// Package ollama implements provider.Provider against a local Ollama
// server's /api/generate endpoint.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/clawforge/clawforge/provider"
)

const defaultBaseURL = "http://localhost:11434"

// Provider calls a local (or configured) Ollama server.
type Provider struct {
	baseURL string
	client  *http.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL overrides the default local Ollama address.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// New constructs a Provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return "ollama" }

type generateRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	Stream      bool    `json:"stream"`
	Temperature float64 `json:"temperature,omitempty"`
}

type generateResponse struct {
	Response  string `json:"response"`
	EvalCount int64  `json:"eval_count"`
	Error     string `json:"error,omitempty"`
}

// Complete implements provider.Provider. Requests a single, non-streamed
// completion: streaming is left to the teacher's ChatStream-equivalent,
// out of scope for the Planner's one-shot racing model.
func (p *Provider) Complete(ctx context.Context, req provider.Request) (provider.Response, error) {
	body, err := json.Marshal(generateRequest{
		Model:       req.Model,
		Prompt:      req.Prompt,
		System:      req.SystemPrompt,
		Stream:      false,
		Temperature: req.Temperature,
	})
	if err != nil {
		return provider.Response{}, fmt.Errorf("ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return provider.Response{}, fmt.Errorf("ollama: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return provider.Response{}, fmt.Errorf("ollama: request failed: %w", err)
	}
	defer resp.Body.Close()

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return provider.Response{}, fmt.Errorf("ollama: parse response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || parsed.Error != "" {
		msg := parsed.Error
		if msg == "" {
			msg = resp.Status
		}
		return provider.Response{}, fmt.Errorf("ollama: %s", msg)
	}

	return provider.Response{
		Content:    parsed.Response,
		Model:      req.Model,
		TokensUsed: parsed.EvalCount,
	}, nil
}
