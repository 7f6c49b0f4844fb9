// Package ollama provides an Embedder implementation backed by a local or
// remote Ollama server.
//
// This package implements the embedder.Provider interface using the
// /api/embeddings endpoint, which accepts one prompt per request.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tiermem/tiermem-go/pkg/embedder"
)

// Client implements embedder.Provider using the Ollama embeddings API.
type Client struct {
	// client is the HTTP client for API requests.
	client *http.Client

	// model is the embedding model name to use.
	model string

	// baseURL is the base URL of the Ollama server.
	baseURL string

	// dimensions is the dimension of embedding vectors.
	dimensions int
}

// Config contains configuration for creating an Ollama Embedder client.
type Config struct {
	// Model is the model name to use (default: "nomic-embed-text").
	Model string

	// BaseURL is the server address (default: "http://localhost:11434").
	BaseURL string

	// Dimensions is the vector dimension (default: 768 for nomic-embed-text).
	Dimensions int

	// HTTPClient is a custom HTTP client (uses default if nil).
	HTTPClient *http.Client
}

// NewClient creates a new Ollama Embedder client.
func NewClient(cfg *Config) (*Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	model := cfg.Model
	if model == "" {
		model = "nomic-embed-text"
	}

	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = 768 // nomic-embed-text default dimension
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	return &Client{
		client:     client,
		model:      model,
		baseURL:    baseURL,
		dimensions: dimensions,
	}, nil
}

// Embed converts a single text string into a unit-normalized vector embedding.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	ctx, cancel := embedder.EnsureTimeout(ctx)
	defer cancel()
	return c.embed(ctx, text)
}

// EmbedBatch converts multiple text strings into vector embeddings.
//
// The Ollama embeddings endpoint accepts a single prompt per request, so the
// batch is issued sequentially under one shared deadline.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	ctx, cancel := embedder.EnsureTimeout(ctx)
	defer cancel()

	embeddings := make([][]float64, len(texts))
	for i, text := range texts {
		vec, err := c.embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = vec
	}
	return embeddings, nil
}

func (c *Client) embed(ctx context.Context, text string) ([]float64, error) {
	reqBody := map[string]interface{}{
		"model":  c.model,
		"prompt": text,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/embeddings", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", embedder.ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", embedder.ErrUnavailable, resp.StatusCode, string(body))
	}

	var response struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(response.Embedding) == 0 {
		return nil, fmt.Errorf("embedding generation failed: no embedding returned from Ollama API")
	}

	return embedder.Normalize(response.Embedding), nil
}

// Dimensions returns the dimension of embedding vectors produced by this provider.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close closes the client connection.
//
// HTTP clients do not need explicit closing, this method is retained for
// interface compatibility.
func (c *Client) Close() error {
	return nil
}
