// Package llm provides interfaces and utilities for language model providers.
//
// It defines the Provider interface that all chat-completion implementations
// must satisfy, along with message types, generation options, and the JSON
// sanitation helpers shared by providers without native structured output.
package llm

import (
	"context"
	"fmt"
	"time"
)

// BodyPreviewLimit is the maximum number of characters of a failed HTTP
// response body carried inside an Error.
const BodyPreviewLimit = 240

// DefaultTimeout bounds a single generation call when the caller's context
// carries no deadline of its own.
const DefaultTimeout = 60 * time.Second

// EnsureTimeout returns ctx bounded by DefaultTimeout unless it already has a
// deadline. The returned cancel func must always be called.
func EnsureTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, DefaultTimeout)
}

// Provider defines the interface for language model providers.
//
// All implementations (OpenAI-compatible, Anthropic, Gemini, Ollama, MiniMax)
// must implement this interface.
type Provider interface {
	// Generate generates text from a single user prompt.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - prompt: The input prompt text
	//   - opts: Optional generation parameters (temperature, max tokens, JSON mode)
	//
	// Returns the generated text and any error.
	Generate(ctx context.Context, prompt string, opts ...GenerateOption) (string, error)

	// GenerateWithMessages generates text from a conversation history.
	//
	// When JSON mode is requested the returned string always parses as a JSON
	// value: providers without native structured output clean the response and
	// fall back to "{}" rather than returning free text.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - messages: Conversation history (system, user, assistant messages)
	//   - opts: Optional generation parameters
	//
	// Returns the generated text and any error.
	GenerateWithMessages(ctx context.Context, messages []Message, opts ...GenerateOption) (string, error)

	// Close closes the provider and releases resources.
	Close() error
}

// Message represents a single message in a conversation.
type Message struct {
	// Role is the message role: "system", "user", or "assistant".
	Role string `json:"role"`

	// Content is the message content text.
	Content string `json:"content"`
}

// Error is a transport-level language model failure.
//
// Status carries the HTTP status code (0 when the request never reached the
// server) and BodyPreview the response body truncated to BodyPreviewLimit
// characters.
type Error struct {
	Status      int
	BodyPreview string
}

// Error returns a formatted error message.
func (e *Error) Error() string {
	return fmt.Sprintf("language model request failed: status=%d body=%q", e.Status, e.BodyPreview)
}

// NewError creates an Error, truncating body to BodyPreviewLimit characters.
func NewError(status int, body string) *Error {
	if len(body) > BodyPreviewLimit {
		body = body[:BodyPreviewLimit]
	}
	return &Error{Status: status, BodyPreview: body}
}

// GenerateOptions contains options for text generation.
type GenerateOptions struct {
	// Temperature controls randomness (0.0-2.0). Higher = more random.
	Temperature float64

	// MaxTokens limits the maximum number of tokens in the response.
	MaxTokens int

	// TopP controls nucleus sampling (0.0-1.0). Higher = more diverse.
	TopP float64

	// JSONMode requests a response that parses as a single JSON value.
	JSONMode bool
}

// GenerateOption is a function type for configuring generation options.
type GenerateOption func(*GenerateOptions)

// WithTemperature sets the temperature for text generation.
func WithTemperature(temp float64) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.Temperature = temp
	}
}

// WithMaxTokens sets the maximum number of tokens in the response.
func WithMaxTokens(max int) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.MaxTokens = max
	}
}

// WithTopP sets the top-p (nucleus sampling) parameter.
func WithTopP(topP float64) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.TopP = topP
	}
}

// WithJSONMode requests JSON-object output.
//
// Providers with native structured output set the corresponding request
// field; the rest append an explicit JSON-only instruction and sanitize the
// response (see CleanJSONResponse and EnsureJSON).
func WithJSONMode() GenerateOption {
	return func(opts *GenerateOptions) {
		opts.JSONMode = true
	}
}

// ApplyGenerateOptions applies a slice of GenerateOption functions to create GenerateOptions.
//
// This is a helper function used internally by provider implementations.
// Default values: Temperature=0.7, MaxTokens=1000, TopP=1.0.
func ApplyGenerateOptions(opts []GenerateOption) *GenerateOptions {
	options := &GenerateOptions{
		Temperature: 0.7,
		MaxTokens:   1000,
		TopP:        1.0,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// AppendJSONInstruction returns a copy of messages with an explicit JSON-only
// instruction appended to the last user message. Used by providers without a
// native JSON mode.
func AppendJSONInstruction(messages []Message) []Message {
	const instruction = "Respond with a single valid JSON value and nothing else. No prose, no code fences."

	out := make([]Message, len(messages))
	copy(out, messages)

	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Role == "user" {
			out[i].Content = out[i].Content + "\n\n" + instruction
			return out
		}
	}
	return append(out, Message{Role: "user", Content: instruction})
}
