package core_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiermem/tiermem-go/pkg/archive"
	"github.com/tiermem/tiermem-go/pkg/core"
	embedmock "github.com/tiermem/tiermem-go/pkg/embedder/mock"
	"github.com/tiermem/tiermem-go/pkg/storage"
	"github.com/tiermem/tiermem-go/pkg/storage/sqlite"
	"github.com/tiermem/tiermem-go/pkg/writequeue"
)

func TestMemoryStore_AddThenDeduplicate(t *testing.T) {
	coordinator, _ := newCoordinator(t, testConfig(t), nil)
	ctx := context.Background()

	first, err := coordinator.MemoryStore(ctx, core.MemoryStoreInput{
		Text: "User prefers dark roast coffee.",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, first.StoredCount)
	require.Len(t, first.Results, 1)
	assert.Equal(t, core.EventAdd, first.Results[0].Event)

	second, err := coordinator.MemoryStore(ctx, core.MemoryStoreInput{
		Text: "User prefers dark roast coffee.",
	})
	require.NoError(t, err)
	assert.Zero(t, second.StoredCount)
	require.Len(t, second.Results, 1)
	assert.Equal(t, core.EventNoop, second.Results[0].Event)
	assert.Equal(t, first.Results[0].ID, second.Results[0].ID, "the duplicate resolves to the existing memory")
}

func TestMemoryStore_SessionScoped(t *testing.T) {
	coordinator, embed := newCoordinator(t, testConfig(t), nil)
	embed.SetVector("Working on the Q3 report.", unitVector(8, 0))
	embed.SetVector("User lives in Lisbon.", unitVector(8, 3))

	ctx := context.Background()
	coordinator.BeforeTurn(ctx, "good morning, what is on today?", core.TurnContext{SessionID: "s1"})

	longTerm := false
	_, err := coordinator.MemoryStore(ctx, core.MemoryStoreInput{
		Text:     "Working on the Q3 report.",
		LongTerm: &longTerm,
	})
	require.NoError(t, err)

	_, err = coordinator.MemoryStore(ctx, core.MemoryStoreInput{
		Text: "User lives in Lisbon.",
	})
	require.NoError(t, err)

	session, err := coordinator.MemoryList(ctx, core.MemoryListInput{Scope: "session"})
	require.NoError(t, err)
	require.Len(t, session, 1)
	assert.Equal(t, "Working on the Q3 report.", session[0].Text)
	require.NotNil(t, session[0].RunID)
	assert.Equal(t, "s1", *session[0].RunID)

	longOnly, err := coordinator.MemoryList(ctx, core.MemoryListInput{Scope: "long-term"})
	require.NoError(t, err)
	require.Len(t, longOnly, 1)
	assert.Equal(t, "User lives in Lisbon.", longOnly[0].Text)

	all, err := coordinator.MemoryList(ctx, core.MemoryListInput{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemoryStore_RequiresText(t *testing.T) {
	coordinator, _ := newCoordinator(t, testConfig(t), nil)

	_, err := coordinator.MemoryStore(context.Background(), core.MemoryStoreInput{Text: "   "})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestMemoryGet_RoundTrip(t *testing.T) {
	coordinator, _ := newCoordinator(t, testConfig(t), nil)
	ctx := context.Background()

	out, err := coordinator.MemoryStore(ctx, core.MemoryStoreInput{Text: "User plays the cello."})
	require.NoError(t, err)
	id := out.Results[0].ID

	memory, err := coordinator.MemoryGet(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, memory.ID)
	assert.Equal(t, "User plays the cello.", memory.Text)
	assert.Equal(t, core.TierHot, memory.SourceTier)
}

func TestMemoryGet_UnknownID(t *testing.T) {
	coordinator, _ := newCoordinator(t, testConfig(t), nil)

	_, err := coordinator.MemoryGet(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = coordinator.MemoryGet(context.Background(), "  ")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestMemoryGet_EmptyTextReadsAsNotFound(t *testing.T) {
	cfg := testConfig(t)
	store, err := sqlite.NewClient(&sqlite.Config{
		DBPath: filepath.Join(cfg.DataDir, "vector_store.db"),
	})
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, store.Upsert(ctx, &storage.Record{
		ID:        "blank",
		UserID:    cfg.UserID,
		Text:      "   ",
		Vector:    unitVector(8, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}))

	coordinator, err := core.New(cfg,
		core.WithStore(store),
		core.WithEmbedder(embedmock.New(8)),
		core.WithLLM(nil),
		core.WithLogger(testLogger()),
	)
	require.NoError(t, err)
	require.NoError(t, coordinator.Start(ctx))
	t.Cleanup(func() { _ = coordinator.Stop(context.Background()) })

	_, err = coordinator.MemoryGet(ctx, "blank")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMemoryList_SessionScopeWithoutSession(t *testing.T) {
	coordinator, _ := newCoordinator(t, testConfig(t), nil)

	memories, err := coordinator.MemoryList(context.Background(), core.MemoryListInput{Scope: "session"})
	require.NoError(t, err)
	assert.Empty(t, memories)
}

func TestMemoryForget_ByIDIsIdempotent(t *testing.T) {
	coordinator, _ := newCoordinator(t, testConfig(t), nil)
	ctx := context.Background()

	out, err := coordinator.MemoryStore(ctx, core.MemoryStoreInput{Text: "User plays go on weekends."})
	require.NoError(t, err)
	id := out.Results[0].ID

	first, err := coordinator.MemoryForget(ctx, core.MemoryForgetInput{ID: id})
	require.NoError(t, err)
	require.Len(t, first.Deleted, 1)
	assert.Equal(t, "User plays go on weekends.", first.Deleted[0].Text)

	second, err := coordinator.MemoryForget(ctx, core.MemoryForgetInput{ID: id})
	require.NoError(t, err)
	require.Len(t, second.Deleted, 1)
	assert.Equal(t, id, second.Deleted[0].ID)
	assert.Empty(t, second.Deleted[0].Text, "the memory is already gone")

	memories, err := coordinator.MemoryList(ctx, core.MemoryListInput{})
	require.NoError(t, err)
	assert.Empty(t, memories)
}

func TestMemoryForget_ExactMatchWins(t *testing.T) {
	coordinator, embed := newCoordinator(t, testConfig(t), nil)
	embed.SetVector("User likes coffee.", unitVector(8, 0))
	embed.SetVector("User also likes coffee sometimes.", similarVector(8, 0, 0.8))
	embed.SetVector("user likes coffee.", unitVector(8, 0))

	ctx := context.Background()
	for _, text := range []string{"User likes coffee.", "User also likes coffee sometimes."} {
		_, err := coordinator.MemoryStore(ctx, core.MemoryStoreInput{Text: text})
		require.NoError(t, err)
	}

	out, err := coordinator.MemoryForget(ctx, core.MemoryForgetInput{Query: "user likes coffee."})
	require.NoError(t, err)
	require.Len(t, out.Deleted, 1, "the exact match is deleted without disambiguation")
	assert.Equal(t, "User likes coffee.", out.Deleted[0].Text)
	assert.Empty(t, out.Candidates)

	memories, err := coordinator.MemoryList(ctx, core.MemoryListInput{})
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, "User also likes coffee sometimes.", memories[0].Text)
}

func TestMemoryForget_AmbiguousReturnsCandidates(t *testing.T) {
	coordinator, embed := newCoordinator(t, testConfig(t), nil)
	embed.SetVector("Meeting with Alice on Monday.", unitVector(8, 0))
	embed.SetVector("Meeting with Bob on Friday.", similarVector(8, 0, 0.85))
	embed.SetVector("meetings", similarVector(8, 0, 0.9))

	ctx := context.Background()
	for _, text := range []string{"Meeting with Alice on Monday.", "Meeting with Bob on Friday."} {
		_, err := coordinator.MemoryStore(ctx, core.MemoryStoreInput{Text: text})
		require.NoError(t, err)
	}

	out, err := coordinator.MemoryForget(ctx, core.MemoryForgetInput{Query: "meetings"})
	require.NoError(t, err)
	assert.Empty(t, out.Deleted)
	assert.Len(t, out.Candidates, 2)

	memories, err := coordinator.MemoryList(ctx, core.MemoryListInput{})
	require.NoError(t, err)
	assert.Len(t, memories, 2, "an ambiguous forget deletes nothing")
}

func TestMemoryForget_DeleteAll(t *testing.T) {
	coordinator, embed := newCoordinator(t, testConfig(t), nil)
	embed.SetVector("Meeting with Alice on Monday.", unitVector(8, 0))
	embed.SetVector("Meeting with Bob on Friday.", similarVector(8, 0, 0.85))
	embed.SetVector("meetings", similarVector(8, 0, 0.9))

	ctx := context.Background()
	for _, text := range []string{"Meeting with Alice on Monday.", "Meeting with Bob on Friday."} {
		_, err := coordinator.MemoryStore(ctx, core.MemoryStoreInput{Text: text})
		require.NoError(t, err)
	}

	out, err := coordinator.MemoryForget(ctx, core.MemoryForgetInput{Query: "meetings", DeleteAll: true})
	require.NoError(t, err)
	assert.Len(t, out.Deleted, 2)
	assert.Empty(t, out.FailedIDs)

	memories, err := coordinator.MemoryList(ctx, core.MemoryListInput{})
	require.NoError(t, err)
	assert.Empty(t, memories)
}

func TestMemoryForget_NoMatches(t *testing.T) {
	coordinator, _ := newCoordinator(t, testConfig(t), nil)

	out, err := coordinator.MemoryForget(context.Background(), core.MemoryForgetInput{Query: "nothing like this"})
	require.NoError(t, err)
	assert.Empty(t, out.Deleted)
	assert.Empty(t, out.Candidates)

	_, err = coordinator.MemoryForget(context.Background(), core.MemoryForgetInput{})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestMemorySearch_EmptyQueryRejected(t *testing.T) {
	coordinator, _ := newCoordinator(t, testConfig(t), nil)

	_, err := coordinator.MemorySearch(context.Background(), core.MemorySearchInput{Query: " "})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestMemorySearch_PreviewAndResults(t *testing.T) {
	coordinator, embed := newCoordinator(t, testConfig(t), nil)
	embed.SetVector("User prefers dark roast coffee.", unitVector(8, 0))
	embed.SetVector("coffee preferences", similarVector(8, 0, 0.9))

	ctx := context.Background()
	_, err := coordinator.MemoryStore(ctx, core.MemoryStoreInput{Text: "User prefers dark roast coffee."})
	require.NoError(t, err)

	out, err := coordinator.MemorySearch(ctx, core.MemorySearchInput{Query: "coffee preferences"})
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, string(core.TierHot), out.Results[0].SourceTier)
	assert.InDelta(t, 0.9, out.Results[0].Score, 0.01)
	assert.Contains(t, out.Preview, "Found 1 memories:")
	assert.Contains(t, out.Preview, "User prefers dark roast coffee.")
	assert.Contains(t, out.Preview, "score 0.9")
}

func TestMemorySearch_NoMatches(t *testing.T) {
	coordinator, _ := newCoordinator(t, testConfig(t), nil)

	out, err := coordinator.MemorySearch(context.Background(), core.MemorySearchInput{Query: "anything at all"})
	require.NoError(t, err)
	assert.Empty(t, out.Results)
	assert.Equal(t, "No memories found.", out.Preview)
}

func TestMemorySearch_DeepReachesArchive(t *testing.T) {
	cfg := testConfig(t)
	coordinator, _ := newCoordinator(t, cfg, nil)

	ctx := context.Background()
	created := time.Now().UTC().Add(-90 * 24 * time.Hour)
	require.NoError(t, archive.New(cfg.DataDir).Append(ctx, []*archive.Entry{{
		ID:        "a1",
		UserID:    cfg.UserID,
		Text:      "Project Titan shipped in March 2023.",
		CreatedAt: created,
		UpdatedAt: created,
	}}))

	shallow, err := coordinator.MemorySearch(ctx, core.MemorySearchInput{Query: "Titan project"})
	require.NoError(t, err)
	assert.Empty(t, shallow.Results)

	deep, err := coordinator.MemorySearch(ctx, core.MemorySearchInput{Query: "Titan project", Deep: true})
	require.NoError(t, err)
	require.Len(t, deep.Results, 1)
	assert.Equal(t, "a1", deep.Results[0].ID)
	assert.Equal(t, string(core.TierArchive), deep.Results[0].SourceTier)
	assert.Contains(t, deep.Preview, "[archive] Project Titan shipped in March 2023.")
}

func TestMemoryStats_CountsBothTiers(t *testing.T) {
	cfg := testConfig(t)
	coordinator, _ := newCoordinator(t, cfg, nil)

	ctx := context.Background()
	_, err := coordinator.MemoryStore(ctx, core.MemoryStoreInput{Text: "User prefers dark roast coffee."})
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, archive.New(cfg.DataDir).Append(ctx, []*archive.Entry{{
		ID: "a1", UserID: cfg.UserID, Text: "Old fact.", CreatedAt: now, UpdatedAt: now,
	}}))

	stats, err := coordinator.MemoryStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalMemories)
	assert.Positive(t, stats.HotSizeBytes)
	assert.Positive(t, stats.ArchiveSizeBytes)
	assert.GreaterOrEqual(t, stats.WriteQueue.TotalWrites, int64(1))
	assert.False(t, stats.LastUpdated.IsZero())
}

func TestFormatStats(t *testing.T) {
	out := core.FormatStats(&core.Stats{
		TotalMemories:    3,
		HotSizeBytes:     2048,
		ArchiveSizeBytes: 10,
		WriteQueue:       writequeue.Stats{TotalWrites: 7, QueueMax: 2},
		LastUpdated:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})

	assert.Contains(t, out, "Memories:    3")
	assert.Contains(t, out, "2.0 KiB")
	assert.Contains(t, out, "10 B")
	assert.Contains(t, out, "7 written, 2 peak depth, 0 pending")
	assert.Contains(t, out, "2026-01-02 03:04:05 UTC")
}
