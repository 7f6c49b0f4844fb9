// Package mock provides a deterministic in-process Embedder for tests and
// offline development.
//
// Vectors are derived from an FNV hash of the input text, so the same text
// always embeds to the same unit vector without any network dependency. Tests
// that need controlled similarity between texts can pin exact vectors with
// SetVector.
package mock

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/tiermem/tiermem-go/pkg/embedder"
)

// Embedder implements embedder.Provider with deterministic pseudo-random
// vectors. It is safe for concurrent use.
type Embedder struct {
	mu         sync.Mutex
	dimensions int
	overrides  map[string][]float64
	err        error
	calls      int
}

// New creates a mock embedder producing vectors of the given dimension.
func New(dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = 64
	}
	return &Embedder{
		dimensions: dimensions,
		overrides:  make(map[string][]float64),
	}
}

// SetVector pins the exact vector returned for text. The vector is normalized
// on the way in so cosine math behaves the same as for generated vectors.
func (m *Embedder) SetVector(text string, vec []float64) {
	cp := make([]float64, len(vec))
	copy(cp, vec)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[text] = embedder.Normalize(cp)
}

// Fail makes all subsequent calls return err. Pass nil to clear.
func (m *Embedder) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls reports how many embedding requests were served, counting each text
// in a batch individually.
func (m *Embedder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Embed returns the deterministic vector for text.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	vecs, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns deterministic vectors for each text in order.
func (m *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}

	out := make([][]float64, len(texts))
	for i, text := range texts {
		m.calls++
		if pinned, ok := m.overrides[text]; ok {
			cp := make([]float64, len(pinned))
			copy(cp, pinned)
			out[i] = cp
			continue
		}
		out[i] = m.generate(text)
	}
	return out, nil
}

// Dimensions returns the configured vector dimension.
func (m *Embedder) Dimensions() int {
	return m.dimensions
}

// Close releases nothing; the mock holds no resources.
func (m *Embedder) Close() error {
	return nil
}

// generate derives a unit vector from an FNV-seeded linear congruential
// sequence. Same text, same vector, every run.
func (m *Embedder) generate(text string) []float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float64, m.dimensions)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		// Map the top bits onto [-1, 1).
		vec[i] = float64(int64(seed>>11))/float64(1<<52) - 1
	}
	return embedder.Normalize(vec)
}
