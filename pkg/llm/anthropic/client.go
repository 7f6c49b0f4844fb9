// Package anthropic implements the llm.Provider interface for the Anthropic
// Claude API using the official SDK.
package anthropic

import (
	"context"
	"errors"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tiermem/tiermem-go/pkg/llm"
)

// Client is an Anthropic LLM client.
// It implements the llm.Provider interface on top of the Messages API, which
// takes system messages as a top-level field rather than in the message list.
type Client struct {
	client *anthropic.Client
	model  string
}

// Config is the configuration for Anthropic LLM.
// APIKey: Anthropic API key (required)
// Model: Model name to use, defaults to "claude-3-5-haiku-latest"
// BaseURL: API base URL override, empty uses the official endpoint
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// NewClient creates a new Anthropic LLM client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("API key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	model := cfg.Model
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}

	return &Client{
		client: &client,
		model:  model,
	}, nil
}

// Generate generates text based on the prompt.
func (c *Client) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	messages := []llm.Message{
		{Role: "user", Content: prompt},
	}
	return c.GenerateWithMessages(ctx, messages, opts...)
}

// GenerateWithMessages generates text using message history.
//
// The Messages API has no response_format knob, so JSON mode appends an
// explicit JSON-only instruction and sanitizes the response.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	options := llm.ApplyGenerateOptions(opts)

	ctx, cancel := llm.EnsureTimeout(ctx)
	defer cancel()

	if options.JSONMode {
		messages = llm.AppendJSONInstruction(messages)
	}

	var system []anthropic.TextBlockParam
	chat := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
		case "assistant":
			chat = append(chat, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			chat = append(chat, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   int64(options.MaxTokens),
		Messages:    chat,
		Temperature: anthropic.Float(options.Temperature),
	}
	if len(system) > 0 {
		params.System = system
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", mapError(err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	content := sb.String()

	if options.JSONMode {
		return llm.EnsureJSON(content), nil
	}
	if content == "" {
		return "", errors.New("llm generation failed: empty response from Anthropic API")
	}
	return content, nil
}

// Close closes the client connection.
// The SDK client does not require explicit closing; this method is retained
// for interface compatibility.
func (c *Client) Close() error {
	return nil
}

// mapError converts SDK errors into *llm.Error with status and body preview.
func mapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return llm.NewError(apiErr.StatusCode, apiErr.Error())
	}
	return llm.NewError(0, err.Error())
}
