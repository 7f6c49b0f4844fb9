// Package ollama implements the llm.Provider interface for Ollama
// local/remote model servers using the native chat API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tiermem/tiermem-go/pkg/llm"
)

// Client is an Ollama LLM client.
// It implements the llm.Provider interface and provides text generation
// functionality based on an Ollama local/remote service.
type Client struct {
	client  *http.Client
	apiKey  string
	model   string
	baseURL string
}

// Config is the configuration for Ollama LLM.
// APIKey: API key (optional, usually not required for local deployment)
// Model: Model name to use, defaults to "llama3.1"
// BaseURL: Ollama service address, defaults to "http://localhost:11434"
// HTTPClient: Custom HTTP client, if nil uses http.DefaultClient with
// per-request deadlines applied via context
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a new Ollama LLM client.
func NewClient(cfg *Config) (*Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	model := cfg.Model
	if model == "" {
		model = "llama3.1"
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	return &Client{
		client:  client,
		apiKey:  cfg.APIKey, // kept to support authenticated remote deployments
		model:   model,
		baseURL: baseURL,
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
// JSON mode uses Ollama's native "format":"json" constraint; the response is
// still sanitized because local models occasionally wrap output in fences.
// Note: Ollama uses num_predict instead of max_tokens.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	options := llm.ApplyGenerateOptions(opts)

	ctx, cancel := llm.EnsureTimeout(ctx)
	defer cancel()

	chatMessages := make([]map[string]string, len(messages))
	for i, msg := range messages {
		chatMessages[i] = map[string]string{
			"role":    msg.Role,
			"content": msg.Content,
		}
	}

	reqBody := map[string]interface{}{
		"model":    c.model,
		"messages": chatMessages,
		"stream":   false,
		"options": map[string]interface{}{
			"temperature": options.Temperature,
			"num_predict": options.MaxTokens,
			"top_p":       options.TopP,
		},
	}
	if options.JSONMode {
		reqBody["format"] = "json"
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", llm.NewError(0, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", llm.NewError(resp.StatusCode, string(body))
	}

	var response struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if options.JSONMode {
		return llm.EnsureJSON(response.Message.Content), nil
	}
	if response.Message.Content == "" {
		return "", errors.New("llm generation failed: empty response from Ollama API")
	}
	return response.Message.Content, nil
}

// Close closes the client connection.
// HTTP client does not require explicit closing; this method is retained for
// interface compatibility.
func (c *Client) Close() error {
	return nil
}
