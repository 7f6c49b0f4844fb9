package core_test

import (
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tiermem/tiermem-go/pkg/core"
	"github.com/tiermem/tiermem-go/pkg/logging"
	"github.com/tiermem/tiermem-go/pkg/storage"
	"github.com/tiermem/tiermem-go/pkg/storage/sqlite"
)

// testConfig returns a config rooted in a fresh temp dir, with timers tight
// enough for tests.
func testConfig(t *testing.T) *core.Config {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.UserID = "u1"
	cfg.DataDir = t.TempDir()
	cfg.CaptureBatchWindowMS = 20
	cfg.WriteQueueDelayMS = 0
	cfg.ReflectionTickMS = 3_600_000
	cfg.LogLevel = "error"
	return cfg
}

// openStore opens a SQLite hot tier under the config's data directory.
func openStore(t *testing.T, cfg *core.Config) storage.Store {
	t.Helper()
	store, err := sqlite.NewClient(&sqlite.Config{
		DBPath: filepath.Join(cfg.DataDir, "vector_store.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testLogger() *slog.Logger {
	return logging.New("error", io.Discard)
}

// unitVector returns an n-dimensional unit vector along the given axis, for
// pinning exact similarities in the mock embedder.
func unitVector(n, axis int) []float64 {
	v := make([]float64, n)
	v[axis] = 1
	return v
}

// similarVector returns an n-dimensional unit vector with the given cosine
// to unitVector(n, axis).
func similarVector(n, axis int, cosine float64) []float64 {
	v := make([]float64, n)
	v[axis] = cosine
	v[(axis+1)%n] = math.Sqrt(1 - cosine*cosine)
	return v
}
