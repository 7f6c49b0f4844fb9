package archive_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiermem/tiermem-go/pkg/archive"
)

func entry(id, userID, text string) *archive.Entry {
	now := time.Now().UTC()
	return &archive.Entry{
		ID:        id,
		UserID:    userID,
		Text:      text,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestArchive_AppendAndLineCount(t *testing.T) {
	a := archive.New(t.TempDir())
	ctx := context.Background()

	count, err := a.LineCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	err = a.Append(ctx, []*archive.Entry{
		entry("1", "alice", "drinks espresso every morning"),
		entry("2", "alice", "works from the berlin office"),
	})
	require.NoError(t, err)

	count, err = a.LineCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Cached count stays correct after another append.
	require.NoError(t, a.Append(ctx, []*archive.Entry{entry("3", "bob", "allergic to peanuts")}))
	count, err = a.LineCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestArchive_AppendStampsArchivedAt(t *testing.T) {
	a := archive.New(t.TempDir())
	e := entry("1", "alice", "some fact")

	require.NoError(t, a.Append(context.Background(), []*archive.Entry{e}))
	assert.False(t, e.ArchivedAt.IsZero())
}

func TestArchive_SearchRanksByMatchCount(t *testing.T) {
	a := archive.New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, a.Append(ctx, []*archive.Entry{
		entry("1", "alice", "enjoys hiking on weekends"),
		entry("2", "alice", "enjoys hiking and camping in the mountains"),
		entry("3", "alice", "prefers tea over coffee"),
	}))

	results, err := a.Search(ctx, "hiking camping", "alice", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	// Two matched tokens outrank one.
	assert.Equal(t, "2", results[0].ID)
	assert.Equal(t, "1", results[1].ID)
}

func TestArchive_SearchTiesKeepInsertionOrder(t *testing.T) {
	a := archive.New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, a.Append(ctx, []*archive.Entry{
		entry("first", "alice", "mentions coffee once"),
		entry("second", "alice", "also mentions coffee"),
	}))

	results, err := a.Search(ctx, "coffee", "alice", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "first", results[0].ID)
	assert.Equal(t, "second", results[1].ID)
}

func TestArchive_SearchFiltersUserAndLimit(t *testing.T) {
	a := archive.New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, a.Append(ctx, []*archive.Entry{
		entry("1", "alice", "coffee note one"),
		entry("2", "bob", "coffee note two"),
		entry("3", "alice", "coffee note three"),
	}))

	results, err := a.Search(ctx, "coffee", "alice", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "1", results[0].ID)
	assert.Equal(t, "alice", results[0].UserID)
}

func TestArchive_SearchIsCaseInsensitive(t *testing.T) {
	a := archive.New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, a.Append(ctx, []*archive.Entry{
		entry("1", "alice", "Prefers Dark Roast"),
	}))

	results, err := a.Search(ctx, "DARK roast", "alice", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestArchive_SearchMissingFile(t *testing.T) {
	a := archive.New(t.TempDir())

	results, err := a.Search(context.Background(), "anything", "alice", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestArchive_SearchEmptyQuery(t *testing.T) {
	a := archive.New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, a.Append(ctx, []*archive.Entry{
		entry("1", "alice", "drinks espresso every morning"),
	}))

	for _, query := range []string{"", "   ", "?!"} {
		results, err := a.Search(ctx, query, "alice", 10)
		require.NoError(t, err)
		assert.Empty(t, results)
	}
}

func TestArchive_SkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	a := archive.New(dir)
	ctx := context.Background()

	require.NoError(t, a.Append(ctx, []*archive.Entry{entry("1", "alice", "valid line")}))

	f, err := os.OpenFile(a.Path(), os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{torn json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, a.Append(ctx, []*archive.Entry{entry("2", "alice", "another valid line")}))

	// Raw line count includes the torn line; search counts and skips it.
	count, err := a.LineCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	results, err := a.Search(ctx, "valid", "alice", 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, 1, a.MalformedLines())
}

func TestArchive_LineCountTrailingCorrection(t *testing.T) {
	dir := t.TempDir()
	a := archive.New(dir)
	ctx := context.Background()

	require.NoError(t, a.Append(ctx, []*archive.Entry{entry("1", "alice", "fact")}))

	// Append a line with no trailing newline.
	f, err := os.OpenFile(a.Path(), os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":"2","user_id":"alice","text":"unterminated"}`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	count, err := a.LineCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestArchive_SizeBytes(t *testing.T) {
	a := archive.New(t.TempDir())
	ctx := context.Background()

	size, err := a.SizeBytes(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)

	require.NoError(t, a.Append(ctx, []*archive.Entry{entry("1", "alice", "fact")}))

	size, err = a.SizeBytes(ctx)
	require.NoError(t, err)
	assert.Greater(t, size, int64(0))
}

func TestTokenize(t *testing.T) {
	tokens := archive.Tokenize("The Coffee  coffee a 咖啡")
	assert.Equal(t, []string{"the", "coffee", "咖啡"}, tokens)
}

func TestTokenize_SplitsOnPunctuation(t *testing.T) {
	tokens := archive.Tokenize("likes espresso, hates decaf! (usually)")
	assert.Equal(t, []string{"likes", "espresso", "hates", "decaf", "usually"}, tokens)
}

func TestTokenize_Empty(t *testing.T) {
	assert.Empty(t, archive.Tokenize("  a b "))
	assert.Empty(t, archive.Tokenize(""))
	assert.Empty(t, archive.Tokenize("?! , ."))
}

func TestArchive_SearchPunctuatedQuery(t *testing.T) {
	a := archive.New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, a.Append(ctx, []*archive.Entry{
		entry("1", "alice", "allergic to peanuts"),
	}))

	results, err := a.Search(ctx, "Peanuts? Allergic!", "alice", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "1", results[0].ID)
}
