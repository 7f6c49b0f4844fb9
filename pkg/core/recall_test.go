package core_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiermem/tiermem-go/pkg/archive"
	"github.com/tiermem/tiermem-go/pkg/core"
	embedmock "github.com/tiermem/tiermem-go/pkg/embedder/mock"
	"github.com/tiermem/tiermem-go/pkg/storage"
)

type recallFixture struct {
	cfg      *core.Config
	store    storage.Store
	embed    *embedmock.Embedder
	archive  *archive.Archive
	recaller *core.Recaller
}

func newRecallFixture(t *testing.T) *recallFixture {
	t.Helper()
	cfg := testConfig(t)
	store := openStore(t, cfg)
	embed := embedmock.New(8)
	arch := archive.New(cfg.DataDir)

	recaller, err := core.NewRecaller(store, embed, arch, cfg, testLogger())
	require.NoError(t, err)

	return &recallFixture{cfg: cfg, store: store, embed: embed, archive: arch, recaller: recaller}
}

// put stores a record with a pinned vector in the given run scope.
func (f *recallFixture) put(t *testing.T, id, text string, vector []float64, runID *string) {
	t.Helper()
	f.embed.SetVector(text, vector)
	err := f.store.Upsert(context.Background(), &storage.Record{
		ID:     id,
		UserID: f.cfg.UserID,
		RunID:  runID,
		Text:   text,
		Vector: vector,
	})
	require.NoError(t, err)
}

func TestRecaller_HotTierHit(t *testing.T) {
	f := newRecallFixture(t)
	f.put(t, "m1", "User prefers dark roast coffee.", unitVector(8, 0), nil)
	f.embed.SetVector("coffee preferences", unitVector(8, 0))

	memories, err := f.recaller.Search(context.Background(), core.SearchRequest{Query: "coffee preferences"})
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, "m1", memories[0].ID)
	assert.Equal(t, core.TierHot, memories[0].SourceTier)
	assert.InDelta(t, 1.0, memories[0].Score, 1e-9)
}

func TestRecaller_ThresholdFiltersWeakMatches(t *testing.T) {
	f := newRecallFixture(t)
	f.put(t, "m1", "User collects vinyl records.", similarVector(8, 0, 0.3), nil)
	f.embed.SetVector("music formats", unitVector(8, 0))

	memories, err := f.recaller.Search(context.Background(), core.SearchRequest{Query: "music formats"})
	require.NoError(t, err)
	assert.Empty(t, memories)
}

func TestRecaller_ScopesPartitions(t *testing.T) {
	f := newRecallFixture(t)
	sid := "session_1"
	f.put(t, "long1", "User speaks French.", unitVector(8, 0), nil)
	f.put(t, "sess1", "User is asking about verb conjugation.", similarVector(8, 0, 0.9), &sid)
	f.embed.SetVector("french lessons", unitVector(8, 0))

	ctx := context.Background()

	longTerm, err := f.recaller.Search(ctx, core.SearchRequest{
		Query: "french lessons", Scope: core.ScopeLongTerm, SessionID: sid,
	})
	require.NoError(t, err)
	require.Len(t, longTerm, 1)
	assert.Equal(t, "long1", longTerm[0].ID)

	session, err := f.recaller.Search(ctx, core.SearchRequest{
		Query: "french lessons", Scope: core.ScopeSession, SessionID: sid,
	})
	require.NoError(t, err)
	require.Len(t, session, 1)
	assert.Equal(t, "sess1", session[0].ID)

	all, err := f.recaller.Search(ctx, core.SearchRequest{
		Query: "french lessons", Scope: core.ScopeAll, SessionID: sid,
	})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRecaller_SessionScopeWithoutSessionID(t *testing.T) {
	f := newRecallFixture(t)
	sid := "session_1"
	f.put(t, "sess1", "User is mid-refactor.", unitVector(8, 0), &sid)
	f.embed.SetVector("refactor", unitVector(8, 0))

	memories, err := f.recaller.Search(context.Background(), core.SearchRequest{
		Query: "refactor", Scope: core.ScopeSession,
	})
	require.NoError(t, err)
	assert.Empty(t, memories)
}

func TestRecaller_DeepSearchReachesArchive(t *testing.T) {
	f := newRecallFixture(t)
	err := f.archive.Append(context.Background(), []*archive.Entry{
		{ID: "a1", UserID: "u1", Text: "Project Titan ran in 2023."},
	})
	require.NoError(t, err)

	memories, err := f.recaller.Search(context.Background(), core.SearchRequest{
		Query: "Titan project", Scope: core.ScopeLongTerm, Deep: true,
	})
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, "a1", memories[0].ID)
	assert.Equal(t, core.TierArchive, memories[0].SourceTier)
	assert.Equal(t, "Project Titan ran in 2023.", memories[0].Text)
}

func TestRecaller_ShallowSearchSkipsArchive(t *testing.T) {
	f := newRecallFixture(t)
	err := f.archive.Append(context.Background(), []*archive.Entry{
		{ID: "a1", UserID: "u1", Text: "Project Titan ran in 2023."},
	})
	require.NoError(t, err)

	memories, err := f.recaller.Search(context.Background(), core.SearchRequest{
		Query: "Titan project", Scope: core.ScopeLongTerm,
	})
	require.NoError(t, err)
	assert.Empty(t, memories)
}

func TestRecaller_NilEmbedderStillServesArchive(t *testing.T) {
	cfg := testConfig(t)
	store := openStore(t, cfg)
	arch := archive.New(cfg.DataDir)
	require.NoError(t, arch.Append(context.Background(), []*archive.Entry{
		{ID: "a1", UserID: "u1", Text: "Legacy note about the Titan project."},
	}))

	recaller, err := core.NewRecaller(store, nil, arch, cfg, testLogger())
	require.NoError(t, err)

	memories, err := recaller.Search(context.Background(), core.SearchRequest{
		Query: "Titan", Deep: true,
	})
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, "a1", memories[0].ID)
}

func TestRecaller_CacheServesStaleUntilInvalidated(t *testing.T) {
	f := newRecallFixture(t)
	f.put(t, "m1", "User prefers dark roast coffee.", unitVector(8, 0), nil)
	f.embed.SetVector("coffee", unitVector(8, 0))

	ctx := context.Background()
	req := core.SearchRequest{Query: "coffee"}

	first, err := f.recaller.Search(ctx, req)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// A write behind the recaller's back is invisible until invalidation.
	f.put(t, "m2", "User drinks coffee every morning.", similarVector(8, 0, 0.8), nil)

	stale, err := f.recaller.Search(ctx, req)
	require.NoError(t, err)
	assert.Len(t, stale, 1, "memoized result must not see the new record")

	f.recaller.InvalidateCache()

	fresh, err := f.recaller.Search(ctx, req)
	require.NoError(t, err)
	assert.Len(t, fresh, 2)
}

func TestRecaller_DedupesAcrossSubSearches(t *testing.T) {
	f := newRecallFixture(t)
	// The same id in hot and archive: hot wins, one result.
	f.put(t, "m1", "User prefers dark roast coffee.", unitVector(8, 0), nil)
	require.NoError(t, f.archive.Append(context.Background(), []*archive.Entry{
		{ID: "m1", UserID: "u1", Text: "User prefers dark roast coffee."},
	}))
	f.embed.SetVector("dark roast coffee", unitVector(8, 0))

	memories, err := f.recaller.Search(context.Background(), core.SearchRequest{
		Query: "dark roast coffee", Deep: true,
	})
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, core.TierHot, memories[0].SourceTier)
}

func TestRecaller_EmbeddingFailureFallsBackToArchive(t *testing.T) {
	f := newRecallFixture(t)
	f.put(t, "m1", "User prefers dark roast coffee.", unitVector(8, 0), nil)
	require.NoError(t, f.archive.Append(context.Background(), []*archive.Entry{
		{ID: "a1", UserID: "u1", Text: "Old coffee notes."},
	}))
	f.embed.Fail(assert.AnError)

	memories, err := f.recaller.Search(context.Background(), core.SearchRequest{
		Query: "coffee", Deep: true,
	})
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, "a1", memories[0].ID)
}
