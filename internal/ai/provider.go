// Package ai talks to hosted LLM APIs. Providers take a system and user
// prompt and return the completion text with its token usage.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrEmptyResponse is returned when a provider answers without any text.
var ErrEmptyResponse = errors.New("empty response")

// Provider is the interface that all LLM providers must implement.
type Provider interface {
	// Complete sends one prompt and returns the model's reply.
	Complete(ctx context.Context, req Request) (*Completion, error)
	// Name returns the provider and model, e.g. "anthropic/claude-haiku-4-5".
	Name() string
}

// Request is a single prompt.
type Request struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// Usage is the token count reported by the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Completion is a provider reply.
type Completion struct {
	Text  string
	Model string
	Usage Usage
}

// APIError is a non-200 answer from a provider.
type APIError struct {
	Provider string
	Code     int
	Message  string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s API error (status %d)", e.Provider, e.Code)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.Code, e.Message)
}

// StatusCode implements retry.StatusCoder.
func (e *APIError) StatusCode() int { return e.Code }

// ProviderConfig holds the configuration needed to create a provider.
type ProviderConfig struct {
	Provider string // "anthropic" | "openai"
	APIKey   string
	Model    string
	// BaseURL overrides the API endpoint, for proxies and tests.
	BaseURL string
	Timeout time.Duration
}

// NewProvider creates the appropriate provider based on config.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("no API key configured for %q", cfg.Provider)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	switch cfg.Provider {
	case "anthropic":
		p := NewAnthropicProvider(cfg.APIKey, cfg.Model)
		p.client = client
		if cfg.BaseURL != "" {
			p.url = cfg.BaseURL
		}
		return p, nil
	case "openai":
		p := NewOpenAIProvider(cfg.APIKey, cfg.Model)
		p.client = client
		if cfg.BaseURL != "" {
			p.url = cfg.BaseURL
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported AI provider: %s", cfg.Provider)
	}
}

// errorMessage pulls a human-readable message out of an error body.
func errorMessage(body []byte, parsed string) string {
	if parsed != "" {
		return parsed
	}
	const max = 200
	if len(body) > max {
		body = body[:max]
	}
	return string(body)
}
