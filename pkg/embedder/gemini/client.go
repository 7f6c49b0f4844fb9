// Package gemini provides an Embedder implementation backed by the Google
// Gemini embedding models via the google.golang.org/genai SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/tiermem/tiermem-go/pkg/embedder"
)

// Client implements embedder.Provider using Gemini embedding models.
type Client struct {
	client     *genai.Client
	model      string
	dimensions int
}

// Config contains configuration for creating a Gemini Embedder client.
type Config struct {
	// APIKey is the Google AI Studio API key (required).
	APIKey string

	// Model is the model name to use (default: "text-embedding-004").
	Model string

	// Dimensions is the vector dimension (default: 768 for text-embedding-004).
	Dimensions int
}

// NewClient creates a new Gemini Embedder client.
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
		model = "text-embedding-004"
	}

	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = 768 // text-embedding-004 default dimension
	}

	return &Client{
		client:     client,
		model:      model,
		dimensions: dimensions,
	}, nil
}

// Embed converts a single text string into a unit-normalized vector embedding.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch converts multiple text strings into vector embeddings.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	ctx, cancel := embedder.EnsureTimeout(ctx)
	defer cancel()

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	resp, err := c.client.Models.EmbedContent(ctx, c.model, contents, &genai.EmbedContentConfig{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", embedder.ErrUnavailable, err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding generation failed: unexpected number of results from Gemini API (got %d, expected %d)", len(resp.Embeddings), len(texts))
	}

	embeddings := make([][]float64, len(texts))
	for i, emb := range resp.Embeddings {
		vec := make([]float64, len(emb.Values))
		for j, v := range emb.Values {
			vec[j] = float64(v)
		}
		embeddings[i] = embedder.Normalize(vec)
	}

	return embeddings, nil
}

// Dimensions returns the dimension of embedding vectors produced by this provider.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close closes the client connection.
func (c *Client) Close() error {
	return nil
}
