// Package openai implements the llm.Provider interface for the OpenAI API
// and every OpenAI-compatible endpoint (DeepSeek, Moonshot, Qwen
// compatible-mode, vLLM, LM Studio and friends) selected via BaseURL.
package openai

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tiermem/tiermem-go/pkg/llm"
)

// Client is an OpenAI-compatible chat completion client.
type Client struct {
	client   *openai.Client
	model    string
	jsonMode bool
}

// Config is the configuration for an OpenAI-compatible provider.
//
// APIKey: bearer token (required by most vendors)
// Model: model name, defaults to "gpt-4o-mini"
// BaseURL: endpoint base, defaults to the official OpenAI address; a trailing
// "/chat/completions" is stripped and a missing version suffix becomes "/v1"
// Headers: extra HTTP headers sent with every request
// JSONModeSupport: whether the endpoint honors response_format=json_object;
// when false an explicit JSON-only instruction is appended instead
type Config struct {
	APIKey          string
	Model           string
	BaseURL         string
	Headers         map[string]string
	JSONModeSupport bool
}

var versionSuffixRe = regexp.MustCompile(`/v\d+$`)

// NormalizeBaseURL canonicalizes an OpenAI-compatible endpoint base: trims a
// trailing slash, strips a pasted "/chat/completions" suffix and appends
// "/v1" when no version segment is present. Empty input stays empty.
func NormalizeBaseURL(raw string) string {
	u := strings.TrimSpace(raw)
	u = strings.TrimSuffix(u, "/")
	u = strings.TrimSuffix(u, "/chat/completions")
	u = strings.TrimSuffix(u, "/")
	if u == "" {
		return ""
	}
	if !versionSuffixRe.MatchString(u) {
		u += "/v1"
	}
	return u
}

// headerTransport injects static headers into every outgoing request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// NewClient creates a new OpenAI-compatible LLM client.
func NewClient(cfg *Config) (*Client, error) {
	config := openai.DefaultConfig(cfg.APIKey)
	if base := NormalizeBaseURL(cfg.BaseURL); base != "" {
		config.BaseURL = base
	}
	if len(cfg.Headers) > 0 {
		config.HTTPClient = &http.Client{
			Transport: &headerTransport{headers: cfg.Headers},
		}
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	return &Client{
		client:   openai.NewClientWithConfig(config),
		model:    model,
		jsonMode: cfg.JSONModeSupport,
	}, nil
}

// Generate generates text based on a single user prompt.
func (c *Client) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	messages := []llm.Message{
		{Role: "user", Content: prompt},
	}
	return c.GenerateWithMessages(ctx, messages, opts...)
}

// GenerateWithMessages generates text using message history.
//
// With JSON mode requested the request carries response_format=json_object
// when the endpoint supports it; otherwise an explicit JSON-only instruction
// is appended to the last user message. Either way the response is sanitized
// so the returned string parses as JSON.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	options := llm.ApplyGenerateOptions(opts)

	ctx, cancel := llm.EnsureTimeout(ctx)
	defer cancel()

	if options.JSONMode && !c.jsonMode {
		messages = llm.AppendJSONInstruction(messages)
	}

	chatMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		chatMessages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    chatMessages,
		Temperature: float32(options.Temperature),
		MaxTokens:   options.MaxTokens,
		TopP:        float32(options.TopP),
	}
	if options.JSONMode && c.jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", mapError(err)
	}

	var content string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	if options.JSONMode {
		return llm.EnsureJSON(content), nil
	}
	if content == "" {
		return "", errors.New("llm generation failed: no choices returned")
	}
	return content, nil
}

// Close closes the client connection.
// The underlying SDK client does not require explicit closing; this method is
// retained for interface compatibility.
func (c *Client) Close() error {
	return nil
}

// mapError converts SDK errors into *llm.Error with status and body preview.
func mapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return llm.NewError(apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return llm.NewError(reqErr.HTTPStatusCode, reqErr.Error())
	}
	return llm.NewError(0, err.Error())
}
