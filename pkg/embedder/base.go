// Package embedder provides interfaces for text embedding providers.
//
// It defines the Provider interface that all embedding implementations must
// satisfy, enabling text-to-vector conversion for similarity search. All
// providers return unit-normalized vectors so that dot product equals cosine
// similarity downstream.
package embedder

import (
	"context"
	"errors"
	"math"
	"time"
)

// DefaultTimeout is applied to embedding requests whose context carries no
// deadline of its own.
const DefaultTimeout = 30 * time.Second

// ErrUnavailable indicates the embedding backend cannot be reached or is not
// configured. Callers degrade gracefully: ingestion skips the batch and
// search falls back to non-vector tiers.
var ErrUnavailable = errors.New("embedder unavailable")

// Provider defines the interface for embedding providers.
//
// All embedding implementations (OpenAI, Ollama, Gemini, etc.) must implement
// this interface. Implementations must return vectors of exactly Dimensions()
// elements, normalized to unit length.
type Provider interface {
	// Embed converts a text string into a vector embedding.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - text: The input text to embed
	//
	// Returns the embedding vector and any error.
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch converts multiple text strings into vector embeddings.
	//
	// This method is more efficient than calling Embed multiple times,
	// as it can batch process requests.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - texts: Slice of input texts to embed
	//
	// Returns a slice of embedding vectors and any error.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the dimension of embedding vectors produced by this provider.
	//
	// For example, OpenAI's text-embedding-3-small produces 1536-dimensional vectors.
	Dimensions() int

	// Close closes the provider and releases resources.
	Close() error
}

// EnsureTimeout wraps ctx with DefaultTimeout unless it already carries a
// deadline. The returned cancel function must always be called.
func EnsureTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, DefaultTimeout)
}

// Normalize scales vec to unit length in place and returns it. Zero vectors
// are returned unchanged since they cannot be normalized.
func Normalize(vec []float64) []float64 {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 {
		return vec
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
