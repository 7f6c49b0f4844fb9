package core_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiermem/tiermem-go/pkg/archive"
	"github.com/tiermem/tiermem-go/pkg/core"
	embedmock "github.com/tiermem/tiermem-go/pkg/embedder/mock"
	"github.com/tiermem/tiermem-go/pkg/intelligence"
	llmmock "github.com/tiermem/tiermem-go/pkg/llm/mock"
	"github.com/tiermem/tiermem-go/pkg/storage"
	"github.com/tiermem/tiermem-go/pkg/writequeue"
)

// ingestFixture bundles an Ingestor with its collaborators so tests can seed
// the store and inspect the archive directly.
type ingestFixture struct {
	cfg      *core.Config
	store    storage.Store
	embed    *embedmock.Embedder
	archive  *archive.Archive
	ingestor *core.Ingestor
}

// newIngestFixture wires an Ingestor without an extractor: message texts pass
// through as literal candidate facts.
func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()
	return newIngestFixtureWith(t, testConfig(t), nil)
}

func newIngestFixtureWith(t *testing.T, cfg *core.Config, extractor *intelligence.FactExtractor) *ingestFixture {
	t.Helper()
	store := openStore(t, cfg)
	embed := embedmock.New(8)
	queue := writequeue.New(writequeue.WithLogger(testLogger()))
	t.Cleanup(queue.Stop)
	arch := archive.New(cfg.DataDir)

	ingestor, err := core.NewIngestor(store, embed, extractor, queue, arch, cfg, nil, testLogger())
	require.NoError(t, err)

	return &ingestFixture{cfg: cfg, store: store, embed: embed, archive: arch, ingestor: ingestor}
}

// seed inserts a record with a pinned vector, so later candidates can hit it
// at a controlled similarity.
func (f *ingestFixture) seed(t *testing.T, id, text string, vector []float64, createdAt time.Time) {
	t.Helper()
	f.embed.SetVector(text, vector)
	err := f.store.Upsert(context.Background(), &storage.Record{
		ID:        id,
		UserID:    f.cfg.UserID,
		Text:      text,
		Vector:    vector,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	})
	require.NoError(t, err)
}

func userTurn(text string) []core.Message {
	return []core.Message{{Role: "user", Text: text}}
}

func TestIngestor_AddsNewFact(t *testing.T) {
	f := newIngestFixture(t)

	results, err := f.ingestor.Ingest(context.Background(), userTurn("User uses Rust daily for systems work."), core.IngestOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, core.EventAdd, results[0].Event)
	assert.NotEmpty(t, results[0].ID)

	rec, err := f.store.Get(context.Background(), results[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "User uses Rust daily for systems work.", rec.Text)
	assert.Equal(t, "u1", rec.UserID)
	assert.Nil(t, rec.RunID)
}

func TestIngestor_UpdateRefinesExistingMemory(t *testing.T) {
	f := newIngestFixture(t)
	created := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	f.seed(t, "m1", "User likes tea.", unitVector(8, 0), created)

	// The refinement embeds at cosine 0.94 to the existing memory, is longer,
	// and carries every significant token of the original.
	f.embed.SetVector("User likes green tea.", similarVector(8, 0, 0.94))

	results, err := f.ingestor.Ingest(context.Background(), userTurn("User likes green tea."), core.IngestOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, core.EventUpdate, results[0].Event)
	assert.Equal(t, "m1", results[0].ID)

	count, err := f.store.Count(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	rec, err := f.store.Get(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "User likes green tea.", rec.Text)
	assert.WithinDuration(t, created, rec.CreatedAt, time.Second, "created_at must survive the update")
	assert.True(t, rec.UpdatedAt.After(rec.CreatedAt))
}

func TestIngestor_NoopDropsDuplicate(t *testing.T) {
	f := newIngestFixture(t)
	f.seed(t, "m1", "User likes tea.", unitVector(8, 0), time.Now().UTC())

	// Same vector, same text: cosine 1.0 and not longer, so NOOP.
	results, err := f.ingestor.Ingest(context.Background(), userTurn("User likes tea."), core.IngestOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, core.EventNoop, results[0].Event)
	assert.Equal(t, "m1", results[0].ID)

	count, err := f.store.Count(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestIngestor_ExtractorDrivesCandidates(t *testing.T) {
	provider := llmmock.New(`{"facts": ["User works at Acme.", "User prefers Go."]}`)
	f := newIngestFixtureWith(t, testConfig(t), intelligence.NewFactExtractor(provider))
	f.embed.SetVector("User works at Acme.", unitVector(8, 0))
	f.embed.SetVector("User prefers Go.", unitVector(8, 3))

	results, err := f.ingestor.Ingest(context.Background(),
		userTurn("I work at Acme and mostly write Go these days."), core.IngestOptions{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "User works at Acme.", results[0].Text)
	assert.Equal(t, "User prefers Go.", results[1].Text)

	count, err := f.store.Count(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestIngestor_SessionScopedWrites(t *testing.T) {
	f := newIngestFixture(t)
	sid := "session_1"

	results, err := f.ingestor.Ingest(context.Background(), userTurn("User is debugging the importer."),
		core.IngestOptions{RunID: &sid})
	require.NoError(t, err)
	require.Len(t, results, 1)

	rec, err := f.store.Get(context.Background(), results[0].ID)
	require.NoError(t, err)
	require.NotNil(t, rec.RunID)
	assert.Equal(t, sid, *rec.RunID)
}

func TestIngestor_IngestFacts(t *testing.T) {
	f := newIngestFixture(t)

	results, err := f.ingestor.IngestFacts(context.Background(),
		[]string{"User runs marathons.", "  ", ""}, core.IngestOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, core.EventAdd, results[0].Event)
	assert.Equal(t, "User runs marathons.", results[0].Text)
}

func TestIngestor_IngestFactsDeduplicates(t *testing.T) {
	f := newIngestFixture(t)
	f.seed(t, "m1", "User runs marathons.", unitVector(8, 0), time.Now().UTC())

	results, err := f.ingestor.IngestFacts(context.Background(),
		[]string{"User runs marathons."}, core.IngestOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, core.EventNoop, results[0].Event)
}

func TestIngestor_NoEmbedderSkipsBatch(t *testing.T) {
	cfg := testConfig(t)
	store := openStore(t, cfg)
	queue := writequeue.New(writequeue.WithLogger(testLogger()))
	t.Cleanup(queue.Stop)

	ingestor, err := core.NewIngestor(store, nil, nil, queue, archive.New(cfg.DataDir), cfg, nil, testLogger())
	require.NoError(t, err)

	results, err := ingestor.Ingest(context.Background(), userTurn("User likes tea."), core.IngestOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)

	count, err := store.Count(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestIngestor_EmbedderFailureSkipsRestOfBatch(t *testing.T) {
	f := newIngestFixture(t)
	f.embed.Fail(assert.AnError)

	results, err := f.ingestor.Ingest(context.Background(), userTurn("User likes tea."), core.IngestOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestIngestor_DeleteIsIdempotent(t *testing.T) {
	f := newIngestFixture(t)
	f.seed(t, "m1", "User likes tea.", unitVector(8, 0), time.Now().UTC())

	require.NoError(t, f.ingestor.Delete(context.Background(), "m1"))
	require.NoError(t, f.ingestor.Delete(context.Background(), "m1"))

	_, err := f.store.Get(context.Background(), "m1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIngestor_PruneMovesOldestOverflowToArchive(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxMemoryCount = 2
	f := newIngestFixtureWith(t, cfg, nil)

	base := time.Now().UTC().Add(-3 * time.Hour)
	f.seed(t, "m1", "oldest memory", unitVector(8, 0), base)
	f.seed(t, "m2", "middle memory", unitVector(8, 1), base.Add(time.Hour))
	f.seed(t, "m3", "newest memory", unitVector(8, 2), base.Add(2*time.Hour))

	result, err := f.ingestor.Prune(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Archived)
	assert.Equal(t, 1, result.Deleted)
	assert.Zero(t, result.Failed)

	count, err := f.store.Count(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = f.store.Get(context.Background(), "m1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	entries, err := f.archive.Search(context.Background(), "oldest memory", "u1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "m1", entries[0].ID)
	assert.False(t, entries[0].ArchivedAt.IsZero())
}

func TestIngestor_PruneNoOverflow(t *testing.T) {
	f := newIngestFixture(t)
	f.seed(t, "m1", "only memory", unitVector(8, 0), time.Now().UTC())

	result, err := f.ingestor.Prune(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, result.Archived)
	assert.Zero(t, result.Deleted)
}

func TestIngestor_PruneArchiveFailureLeavesHotTierIntact(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxMemoryCount = 2
	f := newIngestFixtureWith(t, cfg, nil)

	base := time.Now().UTC().Add(-3 * time.Hour)
	f.seed(t, "m1", "oldest memory", unitVector(8, 0), base)
	f.seed(t, "m2", "middle memory", unitVector(8, 1), base.Add(time.Hour))
	f.seed(t, "m3", "newest memory", unitVector(8, 2), base.Add(2*time.Hour))

	// A directory in place of the archive file makes the append fail.
	require.NoError(t, os.Mkdir(filepath.Join(f.cfg.DataDir, archive.DefaultFileName), 0755))

	_, err := f.ingestor.Prune(context.Background(), "u1")
	require.Error(t, err)

	count, err := f.store.Count(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, count, "archive failure must not delete hot records")
}
