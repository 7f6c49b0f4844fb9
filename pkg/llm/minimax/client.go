// Package minimax implements the llm.Provider interface for the MiniMax API.
//
// MiniMax exposes an OpenAI-compatible chat completion endpoint, so this
// client wraps the openai provider with MiniMax defaults. The endpoint does
// not honor response_format, so JSON mode goes through the instruction
// fallback.
package minimax

import (
	"context"

	"github.com/tiermem/tiermem-go/pkg/llm"
	openaiprov "github.com/tiermem/tiermem-go/pkg/llm/openai"
)

// DefaultBaseURL is the MiniMax OpenAI-compatible endpoint base.
const DefaultBaseURL = "https://api.minimax.chat/v1"

// Client is a MiniMax LLM client.
type Client struct {
	inner *openaiprov.Client
}

// Config is the configuration for MiniMax LLM.
// APIKey: MiniMax API key (required)
// Model: Model name to use, defaults to "abab6.5s-chat"
// BaseURL: API base URL, defaults to DefaultBaseURL
// GroupID: optional MiniMax group id, sent as the MM-Group-Id header
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	GroupID string
}

// NewClient creates a new MiniMax LLM client.
func NewClient(cfg *Config) (*Client, error) {
	model := cfg.Model
	if model == "" {
		model = "abab6.5s-chat"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	var headers map[string]string
	if cfg.GroupID != "" {
		headers = map[string]string{"MM-Group-Id": cfg.GroupID}
	}

	inner, err := openaiprov.NewClient(&openaiprov.Config{
		APIKey:          cfg.APIKey,
		Model:           model,
		BaseURL:         baseURL,
		Headers:         headers,
		JSONModeSupport: false,
	})
	if err != nil {
		return nil, err
	}

	return &Client{inner: inner}, nil
}

// Generate generates text based on the prompt.
func (c *Client) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	return c.inner.Generate(ctx, prompt, opts...)
}

// GenerateWithMessages generates text using message history.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	return c.inner.GenerateWithMessages(ctx, messages, opts...)
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.inner.Close()
}
