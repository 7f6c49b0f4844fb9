// Package gemini implements the llm.Provider interface for Google Gemini
// models via the google.golang.org/genai SDK.
package gemini

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"

	"github.com/tiermem/tiermem-go/pkg/llm"
)

// Client is a Gemini LLM client.
type Client struct {
	client *genai.Client
	model  string
}

// Config is the configuration for Gemini LLM.
// APIKey: Google AI Studio API key (required)
// Model: Model name to use, defaults to "gemini-2.0-flash"
type Config struct {
	APIKey string
	Model  string
}

// NewClient creates a new Gemini LLM client.
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	return &Client{
		client: client,
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

// GenerateWithMessages generates text using message history. System messages
// become the system instruction; assistant turns map to the "model" role.
// JSON mode uses the native application/json response MIME type.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	options := llm.ApplyGenerateOptions(opts)

	ctx, cancel := llm.EnsureTimeout(ctx)
	defer cancel()

	var systemParts []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			systemParts = append(systemParts, msg.Content)
		case "assistant":
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(options.Temperature)),
		MaxOutputTokens: int32(options.MaxTokens),
	}
	if len(systemParts) > 0 {
		config.SystemInstruction = genai.NewContentFromText(strings.Join(systemParts, "\n\n"), genai.RoleUser)
	}
	if options.JSONMode {
		config.ResponseMIMEType = "application/json"
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return "", mapError(err)
	}

	content := resp.Text()

	if options.JSONMode {
		return llm.EnsureJSON(content), nil
	}
	if content == "" {
		return "", errors.New("llm generation failed: empty response from Gemini API")
	}
	return content, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	return nil
}

// mapError converts SDK errors into *llm.Error with status and body preview.
func mapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return llm.NewError(apiErr.Code, apiErr.Message)
	}
	return llm.NewError(0, err.Error())
}
