// Package openai implements the embedder.Provider interface for the OpenAI
// Embeddings API and compatible endpoints.
package openai

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tiermem/tiermem-go/pkg/embedder"
)

// Client is an OpenAI Embedder client.
// It implements the embedder.Provider interface and provides text
// vectorization functionality based on the OpenAI Embeddings API.
type Client struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

// Config is the configuration for OpenAI Embedder.
// APIKey: OpenAI API key (required)
// Model: Model name to use, defaults to "text-embedding-3-small"
// BaseURL: API base URL, defaults to OpenAI official address
// Dimensions: Vector dimensions, defaults to 1536
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	Dimensions int
}

// NewClient creates a new OpenAI Embedder client.
func NewClient(cfg *Config) (*Client, error) {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	client := openai.NewClientWithConfig(config)

	model := openai.SmallEmbedding3
	if cfg.Model != "" {
		model = openai.EmbeddingModel(cfg.Model)
	}

	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = 1536 // default dimension for text-embedding-3-small
	}

	return &Client{
		client:     client,
		model:      model,
		dimensions: dimensions,
	}, nil
}

// Embed converts a single text to a unit-normalized vector.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	ctx, cancel := embedder.EnsureTimeout(ctx)
	defer cancel()

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: c.model,
	})
	if err != nil {
		return nil, mapError(err)
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding generation failed: no data returned from OpenAI API")
	}

	return embedder.Normalize(toFloat64(resp.Data[0].Embedding)), nil
}

// EmbedBatch converts multiple texts to unit-normalized vectors in batch.
// The result order matches the input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	ctx, cancel := embedder.EnsureTimeout(ctx)
	defer cancel()

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: c.model,
	})
	if err != nil {
		return nil, mapError(err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding generation failed: unexpected number of results from OpenAI API (got %d, expected %d)", len(resp.Data), len(texts))
	}

	embeddings := make([][]float64, len(texts))
	for i, data := range resp.Data {
		embeddings[i] = embedder.Normalize(toFloat64(data.Embedding))
	}

	return embeddings, nil
}

// Dimensions returns the vector dimensions.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close closes the client connection.
// The OpenAI SDK client does not require explicit closing; this method is
// retained for interface compatibility.
func (c *Client) Close() error {
	return nil
}

// toFloat64 widens the SDK's float32 embedding to float64.
func toFloat64(vec []float32) []float64 {
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = float64(v)
	}
	return out
}

// mapError wraps transport and API failures in ErrUnavailable so callers can
// degrade with errors.Is instead of string matching.
func mapError(err error) error {
	return fmt.Errorf("%w: %v", embedder.ErrUnavailable, err)
}
